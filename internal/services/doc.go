// Package services defines shared utilities consumed by the pipeline steps and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the state a job settles in (retryable failure vs error).
//
// Use these helpers when wiring new pipeline steps so error handling and
// observability stay uniform across jobs.
package services
