/*
Package events implements the in-process runtime event bus.

The bus carries exactly one message shape: "this events file changed".
Journal writers publish after their bytes are flushed; the index sync
worker and the SSE push layer subscribe. Delivery is best-effort with
per-subscriber buffers; dropped notifications are tolerated because the
sync worker also retries on a minimum-interval timer.
*/
package events
