// Package storage provides the persistence layer for the pipeline.
//
// This package includes:
//   - GormStorage: a GORM-based implementation of core.Storage over SQLite
//     or PostgreSQL
//   - Open and Dialector, which pick the driver from a DSN
//   - PoolConfig for connection pool tuning
//
// Most users should import the root package github.com/jdziat/engagement-jobs
// which provides NewGormStorage() and Open().
package storage
