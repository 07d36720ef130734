// Package snapshot builds composite read-only views of a workspace from
// the sqlite index and the filesystem: project management summaries,
// the run monitor, the review inbox, resource rollups, and the desktop
// bootstrap union. Composers are pure given the underlying state.
package snapshot
