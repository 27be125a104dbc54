// Package core provides the fundamental types and interfaces for the
// engagement pipeline.
//
// This package contains:
//   - Job, WorkerState, Engagement, Campaign and snapshot models with GORM annotations
//   - Storage interfaces defining the persistence contract
//   - Event types for queue monitoring
//   - Error types for job processing
//
// Most users should import the root package github.com/jdziat/engagement-jobs
// instead of this package directly.
package core
