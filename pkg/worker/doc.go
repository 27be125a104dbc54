// Package worker implements the per-job-type ingestion workers and the
// Base decorator that wraps them with worker-state bookkeeping.
//
// A JobProcessor does the type-specific work for one claimed job. Base
// loads the tuple's state, skips tuples that are cooling down after a rate
// limit, records success, and classifies failures before handing them back
// to the caller.
package worker
