package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/executor"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// fakeExec satisfies Executor without spawning subprocesses. Each call
// consumes the next scripted output as the run's stdout.
type fakeExec struct {
	ws      *workspace.Workspace
	outputs []string
	block   bool // wait for ctx cancellation instead of returning output

	calls   int
	prompts []string
}

func (f *fakeExec) Execute(ctx context.Context, req executor.Request) (*types.Run, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, req.Spec.Stdin)

	runID := fmt.Sprintf("run_fake%d", i)
	run := &types.Run{
		ProjectID: req.ProjectID,
		RunID:     runID,
		Provider:  req.Provider,
		CreatedAt: time.Now().UTC(),
	}

	if f.block {
		<-ctx.Done()
		run.Status = types.RunStatusStopped
		return run, nil
	}

	out := f.outputs[len(f.outputs)-1]
	if i < len(f.outputs) {
		out = f.outputs[i]
	}
	dir := f.ws.OutputsDir(req.ProjectID, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "stdout.txt"), []byte(out), 0644); err != nil {
		return nil, err
	}
	zero := 0
	run.Status = types.RunStatusEnded
	run.ExitCode = &zero
	return run, nil
}

func newTestRunner(t *testing.T, fake *fakeExec) (*Runner, *workspace.Workspace, *types.Project) {
	t.Helper()
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init("job-test"))
	p, err := ws.CreateProject("proj")
	require.NoError(t, err)
	require.NoError(t, ws.SaveMachineConfig(&types.MachineConfig{
		ProviderBins: map[string]string{"cmd": "/bin/true"},
	}))
	fake.ws = ws
	return NewRunner(ws, fake, nil), ws, p
}

const validResult = `{"status":"succeeded","summary":"did the thing","next_actions":["review"]}`

func TestSubmitValidResultCompletes(t *testing.T) {
	fake := &fakeExec{outputs: []string{validResult}}
	r, ws, p := newTestRunner(t, fake)

	j, err := r.Submit(p.ID, "", types.JobSpec{Goal: "do the thing", WorkerKind: "cmd"})
	require.NoError(t, err)

	final, result, err := r.Collect(context.Background(), p.ID, j.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, final.Status)
	require.NotNil(t, result)
	assert.Equal(t, types.ResultSucceeded, result.Status)
	assert.Equal(t, "did the thing", result.Summary)
	assert.Len(t, final.Attempts, 1)
	assert.Equal(t, "valid", final.Attempts[0].Status)
	assert.Equal(t, filepath.Join("jobs", j.JobID, "result.json"), final.FinalResultRelpath)

	_, err = os.Stat(ws.JobDigestFile(p.ID, j.JobID))
	require.NoError(t, err)
}

func TestRetryToFallbackNeedsInput(t *testing.T) {
	fake := &fakeExec{outputs: []string{"not-json"}}
	r, _, p := newTestRunner(t, fake)

	j, err := r.Submit(p.ID, "", types.JobSpec{Goal: "produce json", WorkerKind: "cmd"})
	require.NoError(t, err)

	final, result, err := r.Collect(context.Background(), p.ID, j.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, final.Status)
	require.NotNil(t, result)
	assert.Equal(t, types.ResultNeedsInput, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "result_unparseable", result.Errors[0].Code)

	// Attempts are numbered 1..3 contiguously.
	require.Len(t, final.Attempts, 3)
	for i, a := range final.Attempts {
		assert.Equal(t, i+1, a.Number)
	}
	assert.Equal(t, 3, fake.calls)
}

func TestRepairPromptOnSecondAttempt(t *testing.T) {
	fake := &fakeExec{outputs: []string{`{"status":"nope","summary":"x"}`, validResult}}
	r, _, p := newTestRunner(t, fake)

	j, err := r.Submit(p.ID, "", types.JobSpec{Goal: "repairable", WorkerKind: "cmd"})
	require.NoError(t, err)

	final, result, err := r.Collect(context.Background(), p.ID, j.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.ResultSucceeded, result.Status)
	require.Len(t, final.Attempts, 2)
	assert.Equal(t, "invalid", final.Attempts[0].Status)
	assert.Equal(t, "valid", final.Attempts[1].Status)

	require.Len(t, fake.prompts, 2)
	assert.Contains(t, fake.prompts[0], "Goal: repairable")
	assert.Contains(t, fake.prompts[1], "Validation errors")
	assert.Contains(t, fake.prompts[1], `"status":"nope"`)
}

func TestCancelFinalizesCanceled(t *testing.T) {
	fake := &fakeExec{block: true}
	r, _, p := newTestRunner(t, fake)

	j, err := r.Submit(p.ID, "", types.JobSpec{Goal: "long running", WorkerKind: "cmd"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Cancel(p.ID, j.JobID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, result, err := r.Collect(ctx, p.ID, j.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCanceled, final.Status)
	assert.Equal(t, types.ResultCanceled, result.Status)
	assert.True(t, final.CancellationRequested)
}

func TestResubmitActiveReturnsExisting(t *testing.T) {
	fake := &fakeExec{block: true}
	r, _, p := newTestRunner(t, fake)

	j1, err := r.Submit(p.ID, "job_dup", types.JobSpec{Goal: "one", WorkerKind: "cmd"})
	require.NoError(t, err)
	j2, err := r.Submit(p.ID, "job_dup", types.JobSpec{Goal: "two", WorkerKind: "cmd"})
	require.NoError(t, err)
	assert.Equal(t, j1.JobID, j2.JobID)
	assert.Equal(t, "one", j2.Spec.Goal)

	require.NoError(t, r.Cancel(p.ID, "job_dup"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = r.Collect(ctx, p.ID, "job_dup")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestHeartbeatJobFeedsReportSink(t *testing.T) {
	report := `{"status":"actions","summary":"two tasks overdue","actions":[{"kind":"task_followup","goal":"chase the deadline"}]}`
	fake := &fakeExec{outputs: []string{report}}
	r, ws, p := newTestRunner(t, fake)

	var sunk *types.HeartbeatReport
	r.SetReportSink(func(projectID string, j *types.Job, rep *types.HeartbeatReport) {
		sunk = rep
	})

	j, err := r.Submit(p.ID, "", types.JobSpec{
		Goal: "triage", WorkerKind: "cmd", JobKind: types.JobKindHeartbeat,
	})
	require.NoError(t, err)

	final, result, err := r.Collect(context.Background(), p.ID, j.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, final.Status)
	assert.Equal(t, types.ResultSucceeded, result.Status)

	require.NotNil(t, sunk)
	assert.Equal(t, "actions", sunk.Status)
	require.Len(t, sunk.Actions, 1)
	assert.Equal(t, "task_followup", sunk.Actions[0].Kind)

	_, err = os.Stat(ws.JobHeartbeatReportFile(p.ID, j.JobID))
	require.NoError(t, err)
}

func TestPollReturnsDetachedCopy(t *testing.T) {
	fake := &fakeExec{block: true}
	r, _, p := newTestRunner(t, fake)

	j, err := r.Submit(p.ID, "", types.JobSpec{Goal: "long running", WorkerKind: "cmd"})
	require.NoError(t, err)

	first, err := r.Poll(p.ID, j.JobID)
	require.NoError(t, err)
	// Scribbling on the returned record must not leak into the runner.
	first.Status = types.JobStatusCanceled
	first.Spec.Goal = "scribbled"
	first.Attempts = append(first.Attempts, types.JobAttempt{Number: 99})

	second, err := r.Poll(p.ID, j.JobID)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, types.JobStatusCanceled, second.Status)
	assert.Equal(t, "long running", second.Spec.Goal)
	assert.Empty(t, second.Attempts)

	require.NoError(t, r.Cancel(p.ID, j.JobID))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = r.Collect(ctx, p.ID, j.JobID)
	require.NoError(t, err)
}

func TestSchemaContractModeEmbedsSchemaInPrompt(t *testing.T) {
	fake := &fakeExec{outputs: []string{validResult}}
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init("job-test"))
	p, err := ws.CreateProject("proj")
	require.NoError(t, err)
	require.NoError(t, ws.SaveMachineConfig(&types.MachineConfig{
		ProviderBins: map[string]string{"cmd": "/bin/true"},
	}))
	fake.ws = ws
	r := NewRunner(ws, fake, map[string]string{"cmd": ContractProviderSchema})

	j, err := r.Submit(p.ID, "", types.JobSpec{Goal: "schema job", WorkerKind: "cmd"})
	require.NoError(t, err)
	final, _, err := r.Collect(context.Background(), p.ID, j.JobID)
	require.NoError(t, err)
	require.Len(t, final.Attempts, 1)
	assert.Equal(t, ContractProviderSchema, final.Attempts[0].OutputFormat)

	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "JSON Schema")
	assert.Contains(t, fake.prompts[0], `"$schema"`)
}

func TestComposePromptContractModes(t *testing.T) {
	spec := types.JobSpec{Goal: "g"}
	withSchema := composePrompt(spec, ContractProviderSchema, 1, "", nil)
	plain := composePrompt(spec, ContractPromptOnly, 1, "", nil)
	assert.Contains(t, withSchema, `"$schema"`)
	assert.NotContains(t, plain, `"$schema"`)
	assert.Contains(t, plain, "single JSON object")
}

func TestMissingProviderBinExhaustsAttempts(t *testing.T) {
	fake := &fakeExec{outputs: []string{validResult}}
	r, _, p := newTestRunner(t, fake)

	j, err := r.Submit(p.ID, "", types.JobSpec{Goal: "no binary", WorkerKind: "ghost"})
	require.NoError(t, err)

	final, result, err := r.Collect(context.Background(), p.ID, j.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, final.Status)
	assert.Equal(t, types.ResultNeedsInput, result.Status)
	assert.Equal(t, 0, fake.calls)
	require.Len(t, final.Attempts, 3)
	assert.Contains(t, final.Attempts[0].Error, "provider binary not configured")
}
