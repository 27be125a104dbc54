package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// JobClaimed is emitted when a job moves to processing.
type JobClaimed struct {
	Job       *Job
	WorkerID  string
	Timestamp time.Time
}

func (*JobClaimed) eventMarker() {}

// JobCompleted is emitted when a job completes. Skipped is set when the
// tuple was cooling down and no work was done.
type JobCompleted struct {
	Job       *Job
	Skipped   bool
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when a failed job is scheduled for another attempt.
type JobRetrying struct {
	Job        *Job
	Attempt    int
	Error      error
	RetryAfter time.Time
	Timestamp  time.Time
}

func (*JobRetrying) eventMarker() {}
