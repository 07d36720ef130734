/*
Package log provides structured logging for AgentCompany built on zerolog.

A single global logger is initialized at process start via Init. Packages
derive child loggers with WithComponent, WithRun, WithJob and WithAgent so
every record carries the identifiers needed to correlate it with a run's
event journal.

Console output is the default; JSON output is used when the process runs
under the desktop shell or a supervisor that collects logs.
*/
package log
