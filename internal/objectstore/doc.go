// Package objectstore persists job artifacts (audio files and transcripts)
// together with a small JSON metadata document per object.
//
// Two backends implement Store: SQLiteStore keeps everything in a local
// database and S3Store targets any S3-compatible bucket, keeping metadata in
// object user metadata. Open selects the backend from configuration.
package objectstore
