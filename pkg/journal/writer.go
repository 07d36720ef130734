package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentcompany/agentcompany/pkg/events"
	"github.com/agentcompany/agentcompany/pkg/types"
)

// Writer appends event envelopes to a run's events.jsonl. One writer exists
// per journal at a time; callers must not open two writers on the same path.
type Writer struct {
	path string
	bus  *events.Bus
	mu   sync.Mutex
	f    *os.File
	seq  int64
}

// OpenWriter opens (creating if needed) the journal at path for appending.
// The bus may be nil; when set, every Flush publishes the journal path.
func OpenWriter(path string, bus *events.Bus) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	seq, err := CountLines(path)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{path: path, bus: bus, f: f, seq: seq}, nil
}

// Path returns the journal file path.
func (w *Writer) Path() string {
	return w.path
}

// Write appends one envelope as a single line of UTF-8 JSON terminated by
// \n. The whole line goes down in one write call so a crash cannot leave a
// half-record followed by another record.
func (w *Writer) Write(env types.Envelope) (int64, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	line := append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, fmt.Errorf("journal %s is closed", w.path)
	}
	if _, err := w.f.Write(line); err != nil {
		return 0, fmt.Errorf("failed to append to journal: %w", err)
	}
	w.seq++
	return w.seq, nil
}

// Flush makes all appended bytes durable, then publishes the change on the
// bus. Publication is best-effort; the sync worker's interval timer covers
// lost notifications.
func (w *Writer) Flush() error {
	w.mu.Lock()
	if w.f == nil {
		w.mu.Unlock()
		return fmt.Errorf("journal %s is closed", w.path)
	}
	err := w.f.Sync()
	w.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	if w.bus != nil {
		w.bus.Publish(w.path)
	}
	return nil
}

// Append writes one envelope and flushes it in a single call.
func (w *Writer) Append(env types.Envelope) (int64, error) {
	seq, err := w.Write(env)
	if err != nil {
		return 0, err
	}
	return seq, w.Flush()
}

// Seq returns the sequence number of the last appended line.
func (w *Writer) Seq() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close flushes and closes the journal file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		w.f = nil
		return fmt.Errorf("failed to sync journal on close: %w", err)
	}
	err := w.f.Close()
	w.f = nil
	return err
}
