package web

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentcompany/agentcompany/pkg/snapshot"
)

// handleSSE streams workspace snapshots to a desktop client. Bus
// publications within the debounce window coalesce into one recomposed
// snapshot event, and keepalive comments hold idle connections open
// through proxies.
func (s *Server) handleSSE(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	bus := s.controller.Bus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Initial snapshot so the client renders without racing the first
	// change notification.
	s.pushSnapshot(c, flusher)

	debounce := time.Duration(s.cfg.SSEDebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}
	keepalive := time.Duration(s.cfg.SSEKeepaliveSec) * time.Second
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}

	keepTicker := time.NewTicker(keepalive)
	defer keepTicker.Stop()

	var (
		debounceTimer *time.Timer
		debounceCh    <-chan time.Time
	)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case _, open := <-sub:
			if !open {
				return
			}
			if debounceCh == nil {
				debounceTimer = time.NewTimer(debounce)
				debounceCh = debounceTimer.C
			}

		case <-debounceCh:
			debounceCh = nil
			debounceTimer = nil
			s.pushSnapshot(c, flusher)

		case <-keepTicker.C:
			io.WriteString(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// pushSnapshot flushes the index, recomposes the workspace snapshot and
// emits it. Composition failures surface to the client as an error
// event rather than a silently dropped update.
func (s *Server) pushSnapshot(c *gin.Context, flusher http.Flusher) {
	if _, err := s.controller.SyncWorker().Flush(); err != nil {
		s.logger.Error().Err(err).Msg("failed to flush index before sse snapshot")
	}
	snap, err := snapshot.ComposeBootstrap(s.controller.Workspace(), s.controller.Store(),
		snapshot.BootstrapRequest{Scope: "workspace"})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to compose sse snapshot")
		c.SSEvent("error", gin.H{"error": "snapshot composition failed"})
		flusher.Flush()
		return
	}
	c.SSEvent("snapshot", snap)
	flusher.Flush()
}
