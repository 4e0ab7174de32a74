// Package flowstate defines the closed catalog of workflow states and the
// status record that describes one job's progress through them.
//
// States serialize as stable SCREAMING_SNAKE identifiers (never ordinals) so
// records embedded in object-store metadata stay readable across releases.
// Records are values: the workflow tracker builds a new Record for every
// transition and swaps it in atomically, so readers never observe a partially
// updated record.
package flowstate
