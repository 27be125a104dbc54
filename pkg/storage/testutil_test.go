package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/engagement-jobs/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance limited to one connection.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(4)

		cleanupTables(db)
		t.Cleanup(func() {
			cleanupTables(db)
			_ = sqlDB.Close()
		})
		return db
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), cfg)
	require.NoError(t, err, "open in-memory sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err, "get underlying sql.DB")
	sqlDB.SetMaxOpenConns(1)
	return db
}

func cleanupTables(db *gorm.DB) {
	if !db.Migrator().HasTable(&core.Job{}) {
		return
	}
	for _, tbl := range []string{
		"alerts", "oauth_states", "delegated_tokens", "metric_snapshots",
		"engagements", "importance_scores", "worker_states", "jobs",
		"campaign_tweets", "campaigns",
	} {
		db.Exec("DELETE FROM " + tbl)
	}
}

func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

func newTestJob(campaignID, postID string, jobType core.JobType) *core.Job {
	return &core.Job{
		CampaignID: campaignID,
		PostID:     postID,
		JobType:    jobType,
		Priority:   core.DefaultPriority(jobType),
		MaxRetries: 3,
	}
}
