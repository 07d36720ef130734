// Package index maintains the derived SQLite cache of a workspace under
// .local/index.sqlite. The filesystem is the source of truth; the index
// is disposable and rebuildable, and a sync worker keeps it convergent
// with the journals and record files between rebuilds.
package index
