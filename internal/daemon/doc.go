// Package daemon coordinates the long-running flowtrack process.
//
// It wires configuration, the artifact store, the status tracker, the job
// runner, the reconcile monitor and the push notifier into a single
// lifecycle with flock-based locking to prevent multiple instances, and
// serves the HTTP API.
//
// Keep orchestration logic here: individual pipeline steps live in their
// respective packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
