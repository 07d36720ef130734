/*
Package metrics exposes Prometheus collectors for the orchestration core:
run finalization counts and durations, job attempt outcomes, provider
backpressure, index sync worker activity, and heartbeat triage counters.
The web server mounts Handler() at /metrics.
*/
package metrics
