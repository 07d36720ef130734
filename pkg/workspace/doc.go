/*
Package workspace is the filesystem layer of AgentCompany.

The filesystem owns truth: every run, job, task, artifact, review and
conversation is a YAML or markdown file under a stable layout rooted at
the workspace directory. This package centralizes that layout (paths.go),
reads and writes the records (records.go), parses markdown frontmatter,
and seeds new workspaces.

The SQLite index under .local/index.sqlite is always derivable from the
files this package manages; nothing here reads the index.
*/
package workspace
