// Package logs reads the daemon's JSON log file for `flowtrack logs`.
//
// Tail returns the last N lines or everything after a byte offset, optionally
// waiting for new lines in follow mode. A Filter narrows the output to the
// entries of one job so a single transcription can be followed through a busy
// daemon log.
package logs
