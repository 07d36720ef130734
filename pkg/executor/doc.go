// Package executor runs worker subprocesses for the orchestration core.
// It owns a run for its whole lifetime: it prepares worktree isolation
// and context-pack snapshots, tees provider stdio into output files and
// journal events, drives the app-server JSON-RPC protocol, and
// finalizes usage, cost and terminal status.
package executor
