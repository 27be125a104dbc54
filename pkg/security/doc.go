// Package security provides validation, sanitization, and limits for the engagement pipeline.
//
// This package includes:
//   - Input validation for campaign, post and user identifiers
//   - Error message sanitization to prevent credential leakage into stored state
//   - Clamping functions to enforce safe limits on retries, concurrency and cursors
package security
