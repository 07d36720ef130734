package workspace

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/types"
)

func TestInitSeedsWorkspace(t *testing.T) {
	ws := New(t.TempDir())
	require.NoError(t, ws.Init("Acme"))

	company, err := ws.LoadCompany()
	require.NoError(t, err)
	assert.Equal(t, "Acme", company.Name)
	assert.True(t, strings.HasPrefix(company.ID, "co_"))

	machine, err := ws.LoadMachineConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, machine.RateCards)

	require.NoError(t, ws.Validate())

	// Double init refuses
	assert.Error(t, ws.Init("Acme"))
}

func TestRunRecordRoundTrip(t *testing.T) {
	ws := New(t.TempDir())
	require.NoError(t, ws.Init("Acme"))
	p, err := ws.CreateProject("Proj")
	require.NoError(t, err)

	run := &types.Run{
		ProjectID: p.ID,
		RunID:     NewID("run"),
		Provider:  "cmd",
		Status:    types.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
		Spec: types.RunSpec{
			Mode:    types.RunModeCommand,
			Command: []string{"/bin/echo", "hello"},
		},
	}
	require.NoError(t, ws.SaveRun(run))

	got, err := ws.LoadRun(p.ID, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, types.RunStatusRunning, got.Status)
	assert.Equal(t, []string{"/bin/echo", "hello"}, got.Spec.Command)

	ids, err := ws.ListRuns(p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{run.RunID}, ids)
}

func TestFrontmatterRoundTrip(t *testing.T) {
	ws := New(t.TempDir())
	require.NoError(t, ws.Init("Acme"))
	p, err := ws.CreateProject("Proj")
	require.NoError(t, err)

	due := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	task := &types.Task{
		ID:            "task-1",
		Title:         "Ship the parser",
		Status:        types.TaskStatusTodo,
		DueAt:         &due,
		DependsOn:     []string{"task-0"},
		MilestoneKind: "coding",
	}
	require.NoError(t, ws.SaveTask(p.ID, task, "Build it.\n"))

	got, body, err := ws.LoadTask(p.ID, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Ship the parser", got.Title)
	assert.Equal(t, []string{"task-0"}, got.DependsOn)
	assert.Contains(t, body, "Build it.")

	tasks, err := ws.ListTasks(p.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestFrontmatterRejectsMissingHeader(t *testing.T) {
	var task types.Task
	_, err := ParseFrontmatter([]byte("no frontmatter here"), &task)
	assert.Error(t, err)
}

func TestArtifactRoundTrip(t *testing.T) {
	ws := New(t.TempDir())
	require.NoError(t, ws.Init("Acme"))
	p, err := ws.CreateProject("Proj")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	art := &types.Artifact{
		ID:         "art-1",
		Type:       "report",
		Title:      "Weekly digest",
		Visibility: types.VisibilityTeam,
		ProducedBy: "agent_a",
		CreatedAt:  &now,
	}
	require.NoError(t, ws.SaveArtifact(p.ID, art, "# Digest\n"))

	got, body, err := ws.LoadArtifact(p.ID, "art-1")
	require.NoError(t, err)
	assert.Equal(t, "report", got.Type)
	assert.Equal(t, "Weekly digest", got.Title)
	assert.Contains(t, body, "# Digest")

	ids, err := ws.ListArtifactIDs(p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"art-1"}, ids)
}

func TestMessagesAppendOnly(t *testing.T) {
	ws := New(t.TempDir())
	require.NoError(t, ws.Init("Acme"))

	conv := &types.Conversation{
		ConversationID: "conv-1",
		Scope:          types.ScopeWorkspace,
		Kind:           "channel",
		Name:           "general",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, ws.SaveConversation(conv))

	for i, body := range []string{"first", "second", "third"} {
		m := &types.Message{
			MessageID: NewID("msg"),
			AuthorID:  "agent_a",
			Body:      body,
			SentAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, ws.AppendMessage("workspace", "", "conv-1", m))
	}

	msgs, err := ws.ListMessages("workspace", "", "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "third", msgs[2].Body)
}

func TestNewIDPrefix(t *testing.T) {
	id := NewID("run")
	assert.True(t, strings.HasPrefix(id, "run_"))
	assert.Len(t, id, len("run_")+12)
	assert.NotEqual(t, id, NewID("run"))
}
