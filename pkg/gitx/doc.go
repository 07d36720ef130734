// Package gitx shells out to git for the worktree isolation and
// context-pack snapshot steps of the execution engine. Failures carry the
// git stderr text.
package gitx
