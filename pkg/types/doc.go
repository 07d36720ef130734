/*
Package types defines the core data structures used throughout AgentCompany.

It contains the domain model shared by every other package: event envelopes
and their type constants, runs and run specs, jobs and attempts, structured
result contracts, usage and budget accounting, workspace records (company,
agents, teams, projects, tasks, artifacts, reviews, help requests,
conversations) and heartbeat scheduler configuration and state.

All types are designed to be:
  - Serializable (JSON for journals and results, YAML for workspace records)
  - Immutable where possible (envelopes are never mutated once flushed)
  - Self-documenting (typed string constants for every enum)

The filesystem owns truth for all of these records; the SQLite index in
pkg/index holds only derived rows built from them.
*/
package types
