package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/events"
	"github.com/agentcompany/agentcompany/pkg/types"
)

func testEnvelope(runID string, typ types.EventType) types.Envelope {
	payload, _ := json.Marshal(map[string]string{"note": "test"})
	return types.NewEnvelope(runID, "sess_1", types.ActorSystem, types.VisibilityTeam, typ, payload)
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	w, err := OpenWriter(path, nil)
	require.NoError(t, err)

	wrote := []types.EventType{
		types.EventRunStarted,
		types.EventRunExecuting,
		types.EventRunEnded,
	}
	for i, typ := range wrote {
		seq, err := w.Write(testEnvelope("run_1", typ))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), seq)
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	envs, bad, err := ReadAll(path)
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, envs, len(wrote))
	for i, env := range envs {
		assert.Equal(t, wrote[i], env.Type)
		assert.Equal(t, "run_1", env.RunID)
		assert.Equal(t, types.EnvelopeSchemaVersion, env.SchemaVersion)
	}
}

func TestSeqEqualsLineIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	w, err := OpenWriter(path, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Write(testEnvelope("run_1", types.EventProviderRaw))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	lines, err := ReadLines(path)
	require.NoError(t, err)
	require.Len(t, lines, 5)
	for i, l := range lines {
		assert.Equal(t, int64(i+1), l.Seq)
		assert.False(t, l.Partial)
	}
}

func TestReopenContinuesSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	w, err := OpenWriter(path, nil)
	require.NoError(t, err)
	_, err = w.Write(testEnvelope("run_1", types.EventRunStarted))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := OpenWriter(path, nil)
	require.NoError(t, err)
	defer w2.Close()
	seq, err := w2.Write(testEnvelope("run_1", types.EventRunEnded))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestPartialTrailingLineIsFlagged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	w, err := OpenWriter(path, nil)
	require.NoError(t, err)
	_, err = w.Write(testEnvelope("run_1", types.EventRunStarted))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Simulate a crash mid-append: bytes without a terminating newline.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"schema_version":1,"type":"run.end`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines, err := ReadLines(path)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.False(t, lines[0].Partial)
	assert.True(t, lines[1].Partial)

	_, err = Decode(lines[1])
	assert.Error(t, err)
}

func TestFlushPublishesOnBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()
	sub := bus.Subscribe()

	w, err := OpenWriter(path, bus)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(testEnvelope("run_1", types.EventRunStarted))
	require.NoError(t, err)

	select {
	case change := <-sub:
		assert.Equal(t, path, change.EventsFilePath)
	case <-time.After(time.Second):
		t.Fatal("flush did not publish on the bus")
	}
}

func TestReadLinesMissingFile(t *testing.T) {
	lines, err := ReadLines(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLineSplitter(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		lines  []string
		rest   string
	}{
		{
			name:   "single complete line",
			chunks: []string{"hello\n"},
			lines:  []string{"hello"},
		},
		{
			name:   "line split across chunks",
			chunks: []string{"hel", "lo\nwor", "ld"},
			lines:  []string{"hello"},
			rest:   "world",
		},
		{
			name:   "multiple lines in one chunk",
			chunks: []string{"a\nb\nc\n"},
			lines:  []string{"a", "b", "c"},
		},
		{
			name:   "crlf normalized",
			chunks: []string{"a\r\nb\r\n"},
			lines:  []string{"a", "b"},
		},
		{
			name:   "empty lines dropped",
			chunks: []string{"a\n\n\nb\n"},
			lines:  []string{"a", "b"},
		},
		{
			name:   "no newline stays buffered",
			chunks: []string{"partial"},
			rest:   "partial",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s LineSplitter
			var got []string
			for _, c := range tt.chunks {
				got = append(got, s.Feed(c)...)
			}
			assert.Equal(t, tt.lines, got)
			assert.Equal(t, tt.rest, s.Rest())
		})
	}
}
