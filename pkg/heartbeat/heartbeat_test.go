package heartbeat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	m.Run()
}

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []types.JobSpec
	err  error
}

func (f *fakeSubmitter) Submit(projectID, jobID string, spec types.JobSpec) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, spec)
	return &types.Job{JobID: fmt.Sprintf("job-%d", len(f.jobs)), ProjectID: projectID, Spec: spec}, nil
}

func (f *fakeSubmitter) submitted() []types.JobSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.JobSpec, len(f.jobs))
	copy(out, f.jobs)
	return out
}

func newTestService(t *testing.T) (*Service, *fakeSubmitter, *workspace.Workspace, *types.Project) {
	t.Helper()
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init("heartbeat-test"))
	p, err := ws.CreateProject("proj")
	require.NoError(t, err)

	sub := &fakeSubmitter{}
	svc := NewService(ws, sub)
	svc.jitter = nil
	t.Cleanup(svc.Stop)
	return svc, sub, ws, p
}

func addAgent(t *testing.T, ws *workspace.Workspace, id string, role types.AgentRole) {
	t.Helper()
	require.NoError(t, ws.SaveAgent(&types.Agent{
		ID: id, Name: id, Role: role, Provider: "cmd",
	}))
}

func addOverdueTask(t *testing.T, ws *workspace.Workspace, projectID, taskID, assignee string) {
	t.Helper()
	due := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ws.SaveTask(projectID, &types.Task{
		ID: taskID, Title: taskID, Status: types.TaskStatusDoing,
		AssigneeID: assignee, DueAt: &due,
	}, ""))
}

func TestTickWakesTopCandidates(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)
	addAgent(t, ws, "worker-b", types.AgentRoleWorker)
	addOverdueTask(t, ws, p.ID, "task-1", "worker-a")

	cfg := types.DefaultHeartbeatConfig()
	cfg.TopKWorkers = 2
	cfg.MinWakeScore = 1
	require.NoError(t, SaveConfig(ws, cfg))

	require.NoError(t, svc.Tick(context.Background()))

	jobs := sub.submitted()
	require.Len(t, jobs, 2, "both agents score at least 1 (no prior ok report)")
	// Highest score first: worker-a carries the overdue task.
	assert.Equal(t, "worker-a", jobs[0].WorkerAgentID)
	assert.Equal(t, types.JobKindHeartbeat, jobs[0].JobKind)
	assert.Contains(t, jobs[0].Goal, "task_overdue")

	state, err := LoadState(ws)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Ticks)
	assert.Equal(t, int64(2), state.WakesTotal)
}

func TestTickRespectsTopK(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	for _, id := range []string{"worker-a", "worker-b", "worker-c"} {
		addAgent(t, ws, id, types.AgentRoleWorker)
		addOverdueTask(t, ws, p.ID, "task-"+id, id)
	}

	cfg := types.DefaultHeartbeatConfig()
	cfg.TopKWorkers = 2
	require.NoError(t, SaveConfig(ws, cfg))

	require.NoError(t, svc.Tick(context.Background()))
	assert.Len(t, sub.submitted(), 2)
}

func TestOKReportSuppressesNextWake(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)
	addOverdueTask(t, ws, p.ID, "task-1", "worker-a")

	cfg := types.DefaultHeartbeatConfig()
	cfg.TopKWorkers = 2
	cfg.MinWakeScore = 1
	require.NoError(t, SaveConfig(ws, cfg))

	require.NoError(t, svc.Tick(context.Background()))
	require.Len(t, sub.submitted(), 1)

	// The worker reports ok. Nothing in the workspace changes, so the
	// context hash is identical on the next tick.
	job := &types.Job{Spec: types.JobSpec{WorkerAgentID: "worker-a"}}
	svc.Ingest(p.ID, job, &types.HeartbeatReport{Status: "ok", Summary: "all quiet"})

	state, err := LoadState(ws)
	require.NoError(t, err)
	w := state.Worker("worker-a")
	assert.Equal(t, "ok", w.LastReportStatus)
	require.NotNil(t, w.SuppressedUntil)

	require.NoError(t, svc.Tick(context.Background()))
	assert.Len(t, sub.submitted(), 1, "second tick must not wake the suppressed worker")
}

func TestSuppressionLiftsWhenContextChanges(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)
	addOverdueTask(t, ws, p.ID, "task-1", "worker-a")

	cfg := types.DefaultHeartbeatConfig()
	require.NoError(t, SaveConfig(ws, cfg))

	require.NoError(t, svc.Tick(context.Background()))
	job := &types.Job{Spec: types.JobSpec{WorkerAgentID: "worker-a"}}
	svc.Ingest(p.ID, job, &types.HeartbeatReport{Status: "ok", Summary: "all quiet"})

	// A second overdue task shifts the signal set, so the ok window no
	// longer applies.
	addOverdueTask(t, ws, p.ID, "task-2", "worker-a")
	require.NoError(t, svc.Tick(context.Background()))
	assert.Len(t, sub.submitted(), 2)
}

func TestQuietHoursRaiseThreshold(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)
	addOverdueTask(t, ws, p.ID, "task-1", "worker-a")

	cfg := types.DefaultHeartbeatConfig()
	cfg.MinWakeScore = 4 // overdue(3)+not_ok(1)=4 passes normally
	cfg.QuietHoursStartHour = 0
	cfg.QuietHoursEndHour = 0 // start==end: no quiet window
	require.NoError(t, SaveConfig(ws, cfg))
	require.NoError(t, svc.Tick(context.Background()))
	require.Len(t, sub.submitted(), 1, "start==end disables quiet hours")

	// Now a quiet window covering the current hour.
	hour := svc.now().UTC().Hour()
	cfg.QuietHoursStartHour = hour
	cfg.QuietHoursEndHour = (hour + 1) % 24
	require.NoError(t, SaveConfig(ws, cfg))
	// Reset the suppression bookkeeping from the first wake.
	require.NoError(t, SaveState(ws, &types.HeartbeatState{}))

	require.NoError(t, svc.Tick(context.Background()))
	assert.Len(t, sub.submitted(), 1, "score 4 < 2*min during quiet hours")
}

func TestInQuietHours(t *testing.T) {
	tests := []struct {
		hour, start, end int
		want             bool
	}{
		{3, 22, 6, true},   // midnight wrap, inside
		{23, 22, 6, true},  // midnight wrap, before midnight
		{12, 22, 6, false}, // midnight wrap, outside
		{3, 1, 5, true},    // plain window
		{5, 1, 5, false},   // end exclusive
		{3, 4, 4, false},   // start==end: never quiet
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inQuietHours(tt.hour, tt.start, tt.end),
			"hour=%d start=%d end=%d", tt.hour, tt.start, tt.end)
	}
}

func TestIngestActionsSubmitsJobsWithCaps(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)

	cfg := types.DefaultHeartbeatConfig()
	cfg.MaxAutoActionsPerTick = 2
	require.NoError(t, SaveConfig(ws, cfg))

	job := &types.Job{Spec: types.JobSpec{WorkerAgentID: "worker-a"}}
	report := &types.HeartbeatReport{
		Status:  "actions",
		Summary: "follow-ups",
		Actions: []types.HeartbeatAction{
			{Kind: "job", Goal: "fix the build", IdempotencyKey: "fix-build"},
			{Kind: "job", Goal: "update docs", IdempotencyKey: "update-docs"},
			{Kind: "job", Goal: "third one", IdempotencyKey: "third"},
		},
	}
	svc.Ingest(p.ID, job, report)

	jobs := sub.submitted()
	require.Len(t, jobs, 2, "per-tick cap applies")
	assert.Equal(t, "fix the build", jobs[0].Goal)
	assert.Equal(t, types.JobKindExecution, jobs[0].JobKind)
	assert.Equal(t, "worker-a", jobs[0].WorkerAgentID)

	state, err := LoadState(ws)
	require.NoError(t, err)
	assert.Equal(t, 2, state.ActionsThisHour)
}

func TestIngestDeduplicatesByIdempotencyKey(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)
	require.NoError(t, SaveConfig(ws, types.DefaultHeartbeatConfig()))

	job := &types.Job{Spec: types.JobSpec{WorkerAgentID: "worker-a"}}
	report := &types.HeartbeatReport{
		Status:  "actions",
		Summary: "s",
		Actions: []types.HeartbeatAction{{Kind: "job", Goal: "deploy", IdempotencyKey: "deploy-v2"}},
	}
	svc.Ingest(p.ID, job, report)
	svc.Ingest(p.ID, job, report)

	assert.Len(t, sub.submitted(), 1, "same idempotency key must not resubmit")
}

func TestIngestHourlyCap(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)

	cfg := types.DefaultHeartbeatConfig()
	cfg.MaxAutoActionsPerTick = 10
	cfg.MaxAutoActionsPerHour = 1
	require.NoError(t, SaveConfig(ws, cfg))

	job := &types.Job{Spec: types.JobSpec{WorkerAgentID: "worker-a"}}
	svc.Ingest(p.ID, job, &types.HeartbeatReport{
		Status: "actions", Summary: "s",
		Actions: []types.HeartbeatAction{
			{Kind: "job", Goal: "a", IdempotencyKey: "k1"},
			{Kind: "job", Goal: "b", IdempotencyKey: "k2"},
		},
	})
	assert.Len(t, sub.submitted(), 1, "hourly cap applies across actions")
}

func TestLedgerAcquireAndExpiry(t *testing.T) {
	l, err := OpenLedger(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	defer l.Close()

	ok, err := l.Acquire("key-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire("key-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "unexpired claim holds")

	ok, err = l.Acquire("key-2", -time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Acquire("key-2", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim is replaced")

	// Empty keys are never deduplicated.
	for i := 0; i < 2; i++ {
		ok, err = l.Acquire("", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	require.NoError(t, l.Prune())
	ok, err = l.Acquire("key-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "prune keeps live claims")
}

func TestTickAbortsOnCanceledContext(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)
	addOverdueTask(t, ws, p.ID, "task-1", "worker-a")
	require.NoError(t, SaveConfig(ws, types.DefaultHeartbeatConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Tick(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, sub.submitted(), "a canceled tick must not wake anyone")
	state, err := LoadState(ws)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Ticks, "a canceled tick must not advance state")
}

func TestConcurrentIngestsKeepEveryReport(t *testing.T) {
	svc, _, ws, p := newTestService(t)
	require.NoError(t, SaveConfig(ws, types.DefaultHeartbeatConfig()))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		agentID := fmt.Sprintf("worker-%d", i)
		addAgent(t, ws, agentID, types.AgentRoleWorker)
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := &types.Job{Spec: types.JobSpec{WorkerAgentID: agentID}}
			svc.Ingest(p.ID, job, &types.HeartbeatReport{Status: "ok", Summary: "quiet"})
		}()
	}
	wg.Wait()

	// Serialized read-modify-write means no report overwrites another.
	state, err := LoadState(ws)
	require.NoError(t, err)
	for i := 0; i < workers; i++ {
		w := state.Worker(fmt.Sprintf("worker-%d", i))
		assert.Equal(t, "ok", w.LastReportStatus)
		assert.NotNil(t, w.SuppressedUntil)
	}
}

func TestTickDisabledDoesNothing(t *testing.T) {
	svc, sub, ws, p := newTestService(t)
	addAgent(t, ws, "worker-a", types.AgentRoleWorker)
	addOverdueTask(t, ws, p.ID, "task-1", "worker-a")

	cfg := types.DefaultHeartbeatConfig()
	cfg.Enabled = false
	require.NoError(t, SaveConfig(ws, cfg))

	require.NoError(t, svc.Tick(context.Background()))
	assert.Empty(t, sub.submitted())
}
