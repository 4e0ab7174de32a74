// Package main hosts the flowtrack CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground (`serve`)
// and translates the remaining invocations into HTTP calls against it: job
// submission, job listings, live status streams and durable status lookups.
// Configuration resolution and API client construction live here so
// subcommands can focus on presentation.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
