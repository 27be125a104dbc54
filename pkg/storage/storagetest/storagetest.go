// Package storagetest opens migrated stores for tests in other packages.
package storagetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/engagement-jobs/pkg/storage"
)

// Tables lists every table Migrate creates, children first.
var Tables = []string{
	"alerts", "oauth_states", "delegated_tokens", "metric_snapshots",
	"engagements", "importance_scores", "worker_states", "jobs",
	"campaign_tweets", "campaigns",
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// New returns a migrated store. When TEST_DATABASE_URL is set it connects to
// PostgreSQL and truncates the tables around the test; otherwise it opens a
// fresh in-memory SQLite instance.
func New(t testing.TB) *storage.GormStorage {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), gormConfig())
		require.NoError(t, err, "open postgres test db")
		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(4)

		s := storage.NewGormStorage(db)
		require.NoError(t, s.Migrate(context.Background()), "migrate schema")
		Clean(db)
		t.Cleanup(func() {
			Clean(db)
			_ = sqlDB.Close()
		})
		return s
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), gormConfig())
	require.NoError(t, err, "open in-memory sqlite")
	// Every new connection to :memory: is a separate database.
	sqlDB, err := db.DB()
	require.NoError(t, err, "get underlying sql.DB")
	sqlDB.SetMaxOpenConns(1)

	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	t.Cleanup(func() { _ = sqlDB.Close() })
	return s
}

// NewFile returns a migrated store on a SQLite file in the test's temp dir.
// Unlike New it allows several connections, so concurrent claimers really
// race each other.
func NewFile(t testing.TB) *storage.GormStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engagement.db")
	db, err := gorm.Open(storage.Dialector(path), gormConfig())
	require.NoError(t, err, "open file sqlite")
	require.NoError(t, storage.ConfigurePool(db, storage.PoolConfig{MaxOpenConns: 8, MaxIdleConns: 8}))

	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return s
}

// Clean deletes all rows so tests sharing a database stay isolated.
func Clean(db *gorm.DB) {
	for _, tbl := range Tables {
		db.Exec("DELETE FROM " + tbl)
	}
}
