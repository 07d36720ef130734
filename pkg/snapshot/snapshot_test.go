package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/index"
	"github.com/agentcompany/agentcompany/pkg/journal"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

func newTestWorkspace(t *testing.T) (*workspace.Workspace, *types.Project) {
	t.Helper()
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init("snapshot-test"))
	p, err := ws.CreateProject("proj")
	require.NoError(t, err)
	return ws, p
}

func task(id string, status types.TaskStatus, estimate float64, deps ...string) *types.Task {
	return &types.Task{
		ID: id, Title: id, Status: status,
		EstimateHours: estimate, DependsOn: deps,
	}
}

func TestComputeCriticalPathLinearChain(t *testing.T) {
	tasks := []*types.Task{
		task("a", types.TaskStatusDone, 2),
		task("b", types.TaskStatusDoing, 3, "a"),
		task("c", types.TaskStatusTodo, 1, "b"),
		task("d", types.TaskStatusTodo, 4), // parallel branch, shorter
	}
	cp := computeCriticalPath(tasks)
	require.Equal(t, CPMStatusOK, cp.Status)
	assert.Equal(t, []string{"a", "b", "c"}, cp.Path)
	assert.Equal(t, 6.0, cp.DurationHours)
	require.Len(t, cp.Gantt, 4)

	spans := make(map[string]GanttSpan)
	for _, g := range cp.Gantt {
		spans[g.TaskID] = g
	}
	assert.Equal(t, 2.0, spans["b"].StartHours)
	assert.Equal(t, 5.0, spans["c"].StartHours)
	assert.True(t, spans["b"].Critical)
	assert.False(t, spans["d"].Critical)
}

func TestComputeCriticalPathDetectsCycle(t *testing.T) {
	tasks := []*types.Task{
		task("a", types.TaskStatusTodo, 1, "b"),
		task("b", types.TaskStatusTodo, 1, "a"),
	}
	cp := computeCriticalPath(tasks)
	assert.Equal(t, CPMStatusCycle, cp.Status)
	assert.Empty(t, cp.Path)
	assert.Empty(t, cp.Gantt)
}

func TestComputeCriticalPathIgnoresDanglingDeps(t *testing.T) {
	tasks := []*types.Task{
		task("a", types.TaskStatusTodo, 2, "ghost"),
	}
	cp := computeCriticalPath(tasks)
	require.Equal(t, CPMStatusOK, cp.Status)
	assert.Equal(t, []string{"a"}, cp.Path)
}

func TestComposePM(t *testing.T) {
	ws, p := newTestWorkspace(t)
	overdue := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ws.SaveTask(p.ID, task("t1", types.TaskStatusDone, 1), ""))
	blocked := task("t2", types.TaskStatusBlocked, 1, "t1")
	blocked.RiskFlags = []string{"vendor_dependency"}
	require.NoError(t, ws.SaveTask(p.ID, blocked, ""))
	late := task("t3", types.TaskStatusDoing, 1)
	late.DueAt = &overdue
	late.ProgressPercent = 50
	require.NoError(t, ws.SaveTask(p.ID, late, ""))

	snap, err := ComposePM(ws, p.ID)
	require.NoError(t, err)
	require.Len(t, snap.Projects, 1)

	s := snap.Projects[0]
	assert.Equal(t, 1, s.TaskCounts["done"])
	assert.Equal(t, 1, s.TaskCounts["blocked"])
	assert.Equal(t, []string{"t2"}, s.BlockedTasks)
	assert.Equal(t, []string{"t3"}, s.OverdueTasks)
	assert.Equal(t, []string{"vendor_dependency"}, s.RiskFlags)
	assert.Equal(t, 50, s.ProgressPercent) // (100+0+50)/3
	require.NotNil(t, s.CriticalPath)
	assert.Equal(t, CPMStatusOK, s.CriticalPath.Status)
	assert.NotEmpty(t, s.CriticalPath.Gantt, "project-scoped snapshot keeps spans")

	all, err := ComposePM(ws, "")
	require.NoError(t, err)
	require.Len(t, all.Projects, 1)
	assert.Empty(t, all.Projects[0].CriticalPath.Gantt, "workspace-wide snapshot drops spans")
}

func seedIndexedRun(t *testing.T, ws *workspace.Workspace, store *index.Store, projectID, runID string, eventTypes ...types.EventType) {
	t.Helper()
	require.NoError(t, ws.SaveRun(&types.Run{
		ProjectID: projectID, RunID: runID, Provider: "codex",
		Status: types.RunStatusRunning, CreatedAt: time.Now().UTC(),
	}))
	w, err := journal.OpenWriter(ws.EventsFile(projectID, runID), nil)
	require.NoError(t, err)
	defer w.Close()
	for _, typ := range eventTypes {
		payload, _ := json.Marshal(map[string]string{})
		_, err := w.Append(types.NewEnvelope(runID, "", types.ActorSystem,
			types.VisibilityTeam, typ, payload))
		require.NoError(t, err)
	}
	_, err = store.Sync(ws)
	require.NoError(t, err)
}

func TestComposeMonitor(t *testing.T) {
	ws, p := newTestWorkspace(t)
	store, err := index.Open(ws.IndexFile())
	require.NoError(t, err)
	defer store.Close()

	seedIndexedRun(t, ws, store, p.ID, "run-1",
		types.EventRunStarted, types.EventBudgetAlert, types.EventBudgetExceeded, types.EventRunFailed)
	seedIndexedRun(t, ws, store, p.ID, "run-2", types.EventRunStarted)

	snap, err := ComposeMonitor(store, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, snap.Runs, 2)
	assert.Equal(t, 1, snap.Governance.BudgetAlerts)
	assert.Equal(t, 1, snap.Governance.BudgetExceeds)
	assert.Equal(t, 0, snap.Governance.BudgetDecisions)
	assert.Equal(t, 2, snap.StatusCounts["running"])

	byRun := make(map[string]RunMonitor)
	for _, r := range snap.Runs {
		byRun[r.RunID] = r
	}
	assert.Equal(t, string(types.EventRunFailed), byRun["run-1"].LastEventType)
	assert.Equal(t, int64(4), byRun["run-1"].LastEventSeq)
	assert.Equal(t, string(types.EventRunStarted), byRun["run-2"].LastEventType)
}

func TestComposeInbox(t *testing.T) {
	ws, p := newTestWorkspace(t)
	store, err := index.Open(ws.IndexFile())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, ws.SaveArtifact(p.ID, &types.Artifact{
		ID: "art-1", Type: "report", Title: "pending one", CreatedAt: &now,
	}, "body"))
	require.NoError(t, ws.SaveArtifact(p.ID, &types.Artifact{
		ID: "art-2", Type: "report", Title: "decided", CreatedAt: &now,
	}, "body"))
	require.NoError(t, ws.SaveReview(&types.Review{
		ReviewID: "rev-1", CreatedAt: now, Decision: types.ReviewApproved,
		ActorID: "mgr-1", ActorRole: "manager", SubjectKind: "artifact",
		SubjectArtifactID: "art-2", ProjectID: p.ID,
	}))
	_, err = store.Sync(ws)
	require.NoError(t, err)

	snap, err := ComposeInbox(store, "", 10)
	require.NoError(t, err)
	require.Len(t, snap.PendingArtifacts, 1)
	assert.Equal(t, "art-1", snap.PendingArtifacts[0].ArtifactID)
	require.Len(t, snap.RecentDecisions, 1)
	assert.Equal(t, 1, snap.DecisionCounts["approved"])
}

func TestComposeResources(t *testing.T) {
	ws, p := newTestWorkspace(t)
	cost := 1.25
	require.NoError(t, ws.SaveRun(&types.Run{
		ProjectID: p.ID, RunID: "run-1", Provider: "codex",
		Status: types.RunStatusEnded, CreatedAt: time.Now().UTC(),
		ContextCycles: []string{"compact"},
		Usage: &types.UsageSummary{
			Source: types.UsageSourceProviderReported, Confidence: types.UsageConfidenceHigh,
			Provider: "codex", Model: "o4", InputTokens: 100, OutputTokens: 50,
			TotalTokens: 150, CostUSD: &cost,
		},
	}))
	require.NoError(t, ws.SaveRun(&types.Run{
		ProjectID: p.ID, RunID: "run-2", Provider: "codex",
		Status: types.RunStatusEnded, CreatedAt: time.Now().UTC(),
		Usage: &types.UsageSummary{
			Source: types.UsageSourceEstimatedChars, Confidence: types.UsageConfidenceLow,
			Provider: "codex", Model: "o4", TotalTokens: 40,
		},
	}))

	snap, err := ComposeResources(ws)
	require.NoError(t, err)
	require.Len(t, snap.Providers, 1)
	r := snap.Providers[0]
	assert.Equal(t, 2, r.Runs)
	assert.Equal(t, int64(190), r.TotalTokens)
	assert.Equal(t, 1.25, r.CostUSD)
	assert.Equal(t, 1, r.EstimatedRuns)
	assert.Equal(t, 1, snap.ContextCycles)
}

func TestComposeBootstrap(t *testing.T) {
	ws, p := newTestWorkspace(t)
	store, err := index.Open(ws.IndexFile())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, ws.SaveTask(p.ID, task("t1", types.TaskStatusTodo, 1), ""))
	seedIndexedRun(t, ws, store, p.ID, "run-1", types.EventRunStarted)

	snap, err := ComposeBootstrap(ws, store, BootstrapRequest{
		Scope: "project", ProjectID: p.ID, View: "home",
	})
	require.NoError(t, err)
	require.NotNil(t, snap.PM)
	require.NotNil(t, snap.Monitor)
	require.NotNil(t, snap.Inbox)
	require.NotNil(t, snap.Resources)
	assert.Equal(t, p.ID, snap.Monitor.ProjectID)

	wsWide, err := ComposeBootstrap(ws, store, BootstrapRequest{Scope: "workspace"})
	require.NoError(t, err)
	assert.Nil(t, wsWide.Monitor, "monitor needs a project in scope")
}
