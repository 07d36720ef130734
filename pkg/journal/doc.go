/*
Package journal implements the per-run append-only event log.

Each run owns exactly one events.jsonl file. A Writer serializes appends
in insertion order and writes each envelope as one \n-terminated JSON line
in a single write call, so readers never observe a half record followed by
a whole one. Flush makes buffered bytes durable and then publishes the
journal path on the runtime event bus.

Readers address lines by seq, the 1-based position in the file. A file
ending without a newline exposes its final line with Partial set; the
index records it as a parse error rather than guessing at content.

LineSplitter is the chunk-to-line adapter used by the execution engine to
feed provider stdout into usage extractors.
*/
package journal
