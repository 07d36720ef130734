/*
Package manager wires the orchestration core into one control plane and
exposes it as the RPC method table the web layer serves.

# Architecture

One Controller owns a single workspace and every long-lived component:

	┌──────────────────────── CONTROLLER ────────────────────────┐
	│                                                            │
	│  RPC router (workspace.* run.* session.* job.* heartbeat.* │
	│              index.* monitor.* inbox.* ui.* pm.* ...)      │
	│        │                                                   │
	│        ├── execution engine ── worker subprocesses         │
	│        ├── job runner ──────── bounded-retry attempts      │
	│        ├── heartbeat service ─ triage ticks + reports      │
	│        └── index sync worker ─ journals → sqlite           │
	│                                                            │
	│  runtime event bus: journal appends → sync worker + SSE    │
	└────────────────────────────────────────────────────────────┘

The filesystem owns truth; the Controller never mutates records it does
not own (runs belong to the engine, jobs to the runner, heartbeat state
to the scheduler).
*/
package manager
