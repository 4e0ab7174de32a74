// Package preflight provides readiness checks for the filesystem paths and
// external binaries flowtrack depends on.
//
// The daemon runs RunAll before it starts accepting jobs. A failed directory
// check aborts startup; a missing binary is only reported, since jobs that
// need it fail on their own with a configuration error.
package preflight
