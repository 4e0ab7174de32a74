// Package pipeline runs download and transcription jobs.
//
// A Runner registers each job with the workflow tracker, launches it on its
// own goroutine (bounded by workflow.max_concurrent_jobs), and drives it
// through its steps. Every step runs once through workflow.Guard so a failure
// settles the job in the matching failure state: retrieval steps in
// DownloadFailed, inference in ProcessingFailed, everything else in Error.
//
// Finished records stay in memory for workflow.retention_seconds so status
// streams can observe the final state, then the runner releases them.
package pipeline
