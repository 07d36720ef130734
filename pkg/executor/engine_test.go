package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/journal"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func newTestEngine(t *testing.T) (*Engine, *workspace.Workspace, *types.Project) {
	t.Helper()
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init("exec-test"))
	p, err := ws.CreateProject("proj")
	require.NoError(t, err)
	return NewEngine(ws, nil), ws, p
}

func shCommand(script string) types.RunSpec {
	return types.RunSpec{
		Mode:    types.RunModeCommand,
		Command: []string{"/bin/sh", "-c", script},
	}
}

func journalTypes(t *testing.T, ws *workspace.Workspace, projectID, runID string) []types.EventType {
	t.Helper()
	envs, bad, err := journal.ReadAll(ws.EventsFile(projectID, runID))
	require.NoError(t, err)
	require.Empty(t, bad)
	out := make([]types.EventType, len(envs))
	for i, env := range envs {
		out[i] = env.Type
	}
	return out
}

func countType(seq []types.EventType, typ types.EventType) int {
	n := 0
	for _, s := range seq {
		if s == typ {
			n++
		}
	}
	return n
}

func TestExecuteCommandHappyPath(t *testing.T) {
	e, ws, p := newTestEngine(t)

	run, err := e.Execute(context.Background(), Request{
		ProjectID: p.ID,
		Provider:  "cmd",
		Spec:      shCommand("echo hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusEnded, run.Status)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)
	require.NotNil(t, run.Usage)
	assert.Equal(t, types.UsageSourceEstimatedChars, run.Usage.Source)

	out, err := os.ReadFile(filepath.Join(ws.OutputsDir(p.ID, run.RunID), "stdout.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
	_, err = os.Stat(filepath.Join(ws.OutputsDir(p.ID, run.RunID), "token_usage.json"))
	require.NoError(t, err)

	seq := journalTypes(t, ws, p.ID, run.RunID)
	assert.Equal(t, types.EventRunStarted, seq[0])
	assert.Equal(t, types.EventRunEnded, seq[len(seq)-1])
	assert.Equal(t, 1, countType(seq, types.EventRunEnded))
	assert.GreaterOrEqual(t, countType(seq, types.EventProviderRaw), 1)
	assert.Equal(t, 1, countType(seq, types.EventUsageEstimated))
}

func TestExecuteCommandFailure(t *testing.T) {
	e, ws, p := newTestEngine(t)

	run, err := e.Execute(context.Background(), Request{
		ProjectID: p.ID,
		Provider:  "cmd",
		Spec:      shCommand("echo oops >&2; exit 3"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 3, *run.ExitCode)

	seq := journalTypes(t, ws, p.ID, run.RunID)
	assert.Equal(t, 1, countType(seq, types.EventRunFailed))
	assert.Equal(t, 0, countType(seq, types.EventRunEnded))

	stderr, err := os.ReadFile(filepath.Join(ws.OutputsDir(p.ID, run.RunID), "stderr.txt"))
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(stderr))
}

func TestUsageReportedOncePerTuple(t *testing.T) {
	e, ws, p := newTestEngine(t)

	usageLine := `{"usage":{"input_tokens":10,"output_tokens":5}}`
	run, err := e.Execute(context.Background(), Request{
		ProjectID: p.ID,
		Provider:  "codex",
		Spec:      shCommand("echo '" + usageLine + "'; echo '" + usageLine + "'"),
	})
	require.NoError(t, err)

	require.NotNil(t, run.Usage)
	assert.Equal(t, types.UsageSourceProviderReported, run.Usage.Source)
	assert.Equal(t, int64(15), run.Usage.TotalTokens)

	seq := journalTypes(t, ws, p.ID, run.RunID)
	assert.Equal(t, 1, countType(seq, types.EventUsageReported))
	assert.Equal(t, 0, countType(seq, types.EventUsageEstimated))
}

func TestBudgetHardExceedPromotesToFailed(t *testing.T) {
	e, ws, p := newTestEngine(t)

	run, err := e.Execute(context.Background(), Request{
		ProjectID: p.ID,
		Provider:  "codex",
		Spec:      shCommand(`echo '{"usage":{"input_tokens":4000,"output_tokens":1000}}'`),
		Limits:    types.BudgetLimits{HardTokens: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.True(t, run.BudgetExceeded)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)

	seq := journalTypes(t, ws, p.ID, run.RunID)
	exceededAt, failedAt := -1, -1
	for i, typ := range seq {
		switch typ {
		case types.EventBudgetExceeded:
			exceededAt = i
		case types.EventRunFailed:
			failedAt = i
		}
	}
	require.GreaterOrEqual(t, exceededAt, 0)
	require.GreaterOrEqual(t, failedAt, 0)
	assert.Less(t, exceededAt, failedAt)
}

func TestAbortYieldsStopped(t *testing.T) {
	e, ws, p := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	run, err := e.Execute(ctx, Request{
		ProjectID: p.ID,
		Provider:  "cmd",
		Spec:      shCommand("sleep 30"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusStopped, run.Status)

	_, err = os.Stat(ws.StopFlagFile(p.ID, run.RunID))
	require.NoError(t, err)

	seq := journalTypes(t, ws, p.ID, run.RunID)
	assert.Equal(t, 1, countType(seq, types.EventRunStopped))
}

func TestExternalStopFlagIsNoticed(t *testing.T) {
	e, ws, p := newTestEngine(t)

	runID := workspace.NewID("run")
	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = os.MkdirAll(ws.OutputsDir(p.ID, runID), 0755)
		_ = os.WriteFile(ws.StopFlagFile(p.ID, runID), []byte("now\n"), 0644)
	}()

	run, err := e.Execute(context.Background(), Request{
		ProjectID: p.ID,
		RunID:     runID,
		Provider:  "cmd",
		Spec:      shCommand("sleep 30"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusStopped, run.Status)
}

func TestFailedRunProposesRedactedMemoryCandidate(t *testing.T) {
	e, ws, p := newTestEngine(t)
	require.NoError(t, ws.SaveAgent(&types.Agent{
		ID: "worker-a", Name: "a", Role: types.AgentRoleWorker, Provider: "cmd",
	}))

	run, err := e.Execute(context.Background(), Request{
		ProjectID: p.ID,
		AgentID:   "worker-a",
		Provider:  "cmd",
		Spec:      shCommand("echo 'auth failed: password=hunter2secret' >&2; exit 3"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)

	deltas, err := ws.ListMemoryDeltas("worker-a")
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, "mistake", deltas[0].Kind)
	assert.Equal(t, types.MemoryDeltaProposed, deltas[0].Status)
	assert.NotContains(t, deltas[0].Content, "hunter2secret")
	assert.Contains(t, deltas[0].Content, "[redacted:credential_assignment]")

	seq := journalTypes(t, ws, p.ID, run.RunID)
	assert.Equal(t, 1, countType(seq, types.EventMemoryCandidates))
	// The terminal event stays last.
	assert.Equal(t, types.EventRunFailed, seq[len(seq)-1])
}

func TestAppServerHandshakeFailureEndsAsFailed(t *testing.T) {
	e, ws, p := newTestEngine(t)

	// A binary that exits without ever answering initialize.
	run, err := e.Execute(context.Background(), Request{
		ProjectID: p.ID,
		Provider:  "codex",
		Spec: types.RunSpec{
			Mode:    types.RunModeAppServer,
			Command: []string{"/bin/sh", "-c", "exit 0"},
			Prompt:  "hello",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	_, err = os.Stat(ws.StopFlagFile(p.ID, run.RunID))
	assert.True(t, os.IsNotExist(err), "handshake failure must not raise the stop marker")

	seq := journalTypes(t, ws, p.ID, run.RunID)
	assert.Equal(t, 1, countType(seq, types.EventRunFailed))
	assert.Equal(t, 0, countType(seq, types.EventRunStopped))
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    types.RunSpec
		wantErr bool
	}{
		{name: "command ok", spec: types.RunSpec{Mode: types.RunModeCommand, Command: []string{"true"}}},
		{name: "command missing argv", spec: types.RunSpec{Mode: types.RunModeCommand}, wantErr: true},
		{name: "app-server ok", spec: types.RunSpec{Mode: types.RunModeAppServer, Command: []string{"codex"}, Prompt: "hi"}},
		{name: "app-server missing prompt", spec: types.RunSpec{Mode: types.RunModeAppServer, Command: []string{"codex"}}, wantErr: true},
		{name: "unknown mode", spec: types.RunSpec{Mode: "weird"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSpec(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProvisionalStatus(t *testing.T) {
	zero, three := 0, 3
	tests := []struct {
		name       string
		mode       types.RunMode
		stopped    bool
		exitCode   *int
		completion string
		errText    string
		want       types.RunStatus
	}{
		{name: "stopped wins", mode: types.RunModeCommand, stopped: true, exitCode: &zero, want: types.RunStatusStopped},
		{name: "command exit 0", mode: types.RunModeCommand, exitCode: &zero, want: types.RunStatusEnded},
		{name: "command exit 3", mode: types.RunModeCommand, exitCode: &three, want: types.RunStatusFailed},
		{name: "command no exit", mode: types.RunModeCommand, want: types.RunStatusFailed},
		{name: "app-server completed", mode: types.RunModeAppServer, exitCode: &zero, completion: "completed", want: types.RunStatusEnded},
		{name: "app-server interrupted", mode: types.RunModeAppServer, exitCode: &zero, completion: "interrupted", want: types.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := provisionalStatus(tt.mode, tt.stopped, tt.exitCode, tt.completion, tt.errText)
			assert.Equal(t, tt.want, got)
		})
	}
}
