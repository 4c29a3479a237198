// Package workspace manages the ephemeral scratch area for one run.
//
// A [Workspace] is a uniquely named directory holding the project source,
// fetched exactly once and shared by every target build. The fetch cost is
// paid up front: if the source is unreachable the run aborts before any
// environment is built. The directory is removed unconditionally when the
// run ends, whatever the outcome, so failed runs leave nothing behind.
//
// Sequential builds share the fetched tree directly. Concurrent builds each
// work on an independent clone created with [Workspace.CloneFor], since a
// build command is free to scribble transient state into its tree.
package workspace
