// Package queue provides the durable job queue for engagement ingestion.
//
// This package includes:
//   - Queue: idempotent enqueue per (campaign, post, job type), atomic claim,
//     completion and failure with exponential backoff
//   - Option: per-enqueue overrides for priority and retry limits
//   - Hook registration and an event stream for job lifecycle changes
//
// Most users should import the root package github.com/jdziat/engagement-jobs
// which re-exports Queue and its options.
package queue
