// Package api defines the wire-format types shared by the daemon's HTTP
// surface and the CLI, plus the client the CLI uses to reach the daemon.
//
// # Key Types
//
// Job: transport representation of a workflow status record with a
// human-readable state label and a terminal flag.
//
// JobListResponse/JobResponse/ArtifactStatusResponse: response envelopes.
//
// DownloadJobRequest/TranscribeJobRequest: JSON request bodies. Uploads use
// multipart form data instead (fields "file" and "qualityProfile").
//
// # Converters
//
// FromRecord: flowstate.Record -> Job.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// The status mirror stored in artifact metadata keeps its own snake_case
// encoding; Job is only for API consumers.
//
// Event streams are server-sent events with event name "job" and a Job as
// the data payload.
package api
