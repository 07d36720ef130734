// Package heartbeat periodically triages a workspace: it scores each
// worker's wake signals, wakes the top candidates through heartbeat
// jobs, and ingests their structured reports. Suppression windows,
// quiet hours and an idempotency ledger keep the loop from nagging.
package heartbeat
