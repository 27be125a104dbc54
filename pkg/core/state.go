package core

import "time"

// WorkerState is the resumable progress of one job tuple. It is created
// lazily on first access.
type WorkerState struct {
	ID               uint    `gorm:"primaryKey"`
	CampaignID       string  `gorm:"uniqueIndex:idx_worker_states_tuple;size:64;not null"`
	PostID           string  `gorm:"uniqueIndex:idx_worker_states_tuple;size:64;not null"`
	JobType          JobType `gorm:"uniqueIndex:idx_worker_states_tuple;size:20;not null"`
	Cursor           string  `gorm:"type:text"` // Empty means no cursor
	LastSuccess      *time.Time
	BlockedUntil     *time.Time
	LastError        string    `gorm:"type:text"`
	RetryCount       int       `gorm:"default:0"`
	BackfillComplete bool      `gorm:"default:false"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// Key returns the state's tuple.
func (s *WorkerState) Key() Key {
	return Key{CampaignID: s.CampaignID, PostID: s.PostID, JobType: s.JobType}
}

// Blocked reports whether the tuple is cooling down at now.
func (s *WorkerState) Blocked(now time.Time) bool {
	return s.BlockedUntil != nil && s.BlockedUntil.After(now)
}

// StatePatch is a partial update of a WorkerState. Nil fields are left
// unchanged.
type StatePatch struct {
	Cursor           *string // Pointer to "" clears the cursor
	LastSuccess      *time.Time
	BlockedUntil     *time.Time
	ClearBlocked     bool
	LastError        *string
	RetryCount       *int
	IncrementRetries bool
	BackfillComplete *bool
}

// Empty reports whether the patch changes nothing.
func (p StatePatch) Empty() bool {
	return p.Cursor == nil && p.LastSuccess == nil && p.BlockedUntil == nil &&
		!p.ClearBlocked && p.LastError == nil && p.RetryCount == nil &&
		!p.IncrementRetries && p.BackfillComplete == nil
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
