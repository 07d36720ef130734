// Package job wraps executions in a bounded-retry loop that seeks a
// schema-valid structured result from a worker. Up to three attempts
// run sequentially per job: repair and cross-provider reformat prompts
// recover from malformed output, and terminal dispositions are always
// durable before a job is declared completed.
package job
