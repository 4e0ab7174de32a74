// Package workflow records job lifecycle transitions and guards job steps.
//
// A Tracker keeps one immutable status record per job id. Every transition
// replaces the record atomically, mirrors it into the durable status store
// once the job's primary artifact exists, and publishes the job id on the
// notification hub so subscribers re-read the latest record.
//
// Guard wraps a job step so that an unhandled error, panic, or cancellation
// settles the job in a terminal failure state exactly once.
package workflow
