package executor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/journal"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

func TestJSONUsageExtractor(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		line     string
		want     *types.UsageSummary
	}{
		{
			name:     "codex token_usage wrapper",
			provider: "codex",
			line:     `{"token_usage":{"input_tokens":100,"cached_input_tokens":20,"output_tokens":50,"reasoning_output_tokens":5}}`,
			want:     &types.UsageSummary{InputTokens: 100, CachedInputTokens: 20, OutputTokens: 50, ReasoningOutputTokens: 5, TotalTokens: 155},
		},
		{
			name:     "claude message usage",
			provider: "claude",
			line:     `{"message":{"model":"claude-x","usage":{"input_tokens":30,"output_tokens":10,"cache_read_input_tokens":8}}}`,
			want:     &types.UsageSummary{InputTokens: 30, CachedInputTokens: 8, OutputTokens: 10, TotalTokens: 40, Model: "claude-x"},
		},
		{
			name:     "top level fields",
			provider: "other",
			line:     `{"input_tokens":1,"output_tokens":2,"total_tokens":3}`,
			want:     &types.UsageSummary{InputTokens: 1, OutputTokens: 2, TotalTokens: 3},
		},
		{
			name:     "plain text tokens used",
			provider: "cmd",
			line:     `done. tokens used: 1,234`,
			want:     &types.UsageSummary{TotalTokens: 1234},
		},
		{name: "not usage", provider: "codex", line: `{"type":"log","msg":"hi"}`},
		{name: "not json", provider: "codex", line: `hello world`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractorFor(tt.provider).Extract(tt.line)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			u := got[0]
			assert.Equal(t, types.UsageSourceProviderReported, u.Source)
			assert.Equal(t, tt.provider, u.Provider)
			assert.Equal(t, tt.want.InputTokens, u.InputTokens)
			assert.Equal(t, tt.want.CachedInputTokens, u.CachedInputTokens)
			assert.Equal(t, tt.want.OutputTokens, u.OutputTokens)
			assert.Equal(t, tt.want.ReasoningOutputTokens, u.ReasoningOutputTokens)
			assert.Equal(t, tt.want.TotalTokens, u.TotalTokens)
			assert.Equal(t, tt.want.Model, u.Model)
		})
	}
}

func newSessionState(t *testing.T) (*runState, *workspace.Workspace) {
	t.Helper()
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init("session-test"))
	p, err := ws.CreateProject("proj")
	require.NoError(t, err)

	run := &types.Run{ProjectID: p.ID, RunID: "run_s", Provider: "codex", Status: types.RunStatusRunning}
	w, err := journal.OpenWriter(ws.EventsFile(p.ID, run.RunID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return &runState{
		ws:     ws,
		run:    run,
		req:    Request{ProjectID: p.ID, Provider: "codex"},
		w:      w,
		logger: log.WithRun(p.ID, run.RunID),
		dedup:  make(map[string]bool),
		cycles: make(map[string]bool),
	}, ws
}

func TestAppServerSessionProtocol(t *testing.T) {
	st, ws := newSessionState(t)
	var stdin bytes.Buffer
	s := newAppServerSession(st, &stdin)

	// Server-initiated requests are refused.
	s.handleLine(`{"jsonrpc":"2.0","id":7,"method":"fs/read","params":{}}`)
	assert.Contains(t, stdin.String(), "method not supported")

	// Assistant deltas accumulate in order.
	s.handleLine(`{"method":"item/agentMessage/delta","params":{"delta":"Hello, "}}`)
	s.handleLine(`{"method":"item/agentMessage/delta","params":{"delta":"world"}}`)
	s.mu.Lock()
	assert.Equal(t, "Hello, world", s.assistant.String())
	s.mu.Unlock()

	// Token usage notifications feed the dedup ingest.
	s.handleLine(`{"method":"thread/tokenUsage/updated","params":{"tokenUsage":{"input_tokens":12,"output_tokens":4}}}`)
	s.handleLine(`{"method":"thread/tokenUsage/updated","params":{"tokenUsage":{"input_tokens":12,"output_tokens":4}}}`)
	st.mu.Lock()
	assert.Len(t, st.reported, 1)
	st.mu.Unlock()

	// Compaction notifications surface once per kind.
	s.handleLine(`{"method":"thread/compacted","params":{}}`)
	s.handleLine(`{"method":"thread/compacted","params":{}}`)
	assert.Equal(t, []string{"thread/compacted"}, st.run.ContextCycles)

	// turn/completed closes the session wait.
	s.handleLine(`{"method":"turn/completed","params":{"turn":{"status":"completed"}}}`)
	select {
	case <-s.doneCh:
	default:
		t.Fatal("turn/completed did not close the session")
	}
	st.mu.Lock()
	assert.Equal(t, "completed", st.completion)
	st.mu.Unlock()

	envs, _, err := journal.ReadAll(ws.EventsFile(st.run.ProjectID, st.run.RunID))
	require.NoError(t, err)
	var usageReported, cycles int
	for _, env := range envs {
		switch env.Type {
		case types.EventUsageReported:
			usageReported++
		case types.EventContextCycleDetected:
			cycles++
		}
	}
	assert.Equal(t, 1, usageReported)
	assert.Equal(t, 1, cycles)
}

func TestAppServerResponseResolvesPending(t *testing.T) {
	st, _ := newSessionState(t)
	var stdin bytes.Buffer
	s := newAppServerSession(st, &stdin)

	ch := make(chan rpcMessage, 1)
	s.mu.Lock()
	s.pending[1] = ch
	s.mu.Unlock()

	s.handleLine(`{"jsonrpc":"2.0","id":1,"result":{"threadId":"th_1"}}`)
	select {
	case resp := <-ch:
		assert.True(t, strings.Contains(string(resp.Result), "th_1"))
	default:
		t.Fatal("response did not resolve the pending call")
	}
}
