package client

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/config"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/manager"
	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/web"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	m.Run()
}

func newTestClient(t *testing.T) (*Client, *types.Project) {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root)
	require.NoError(t, ws.Init("client-test"))
	p, err := ws.CreateProject("proj")
	require.NoError(t, err)

	cfg := &config.Config{
		ListenAddr:        "127.0.0.1:0",
		Workspace:         root,
		SyncDebounceMS:    50,
		SyncMinIntervalMS: 100,
		SSEDebounceMS:     20,
		SSEKeepaliveSec:   15,
	}
	controller, err := manager.New(cfg)
	require.NoError(t, err)
	t.Cleanup(controller.Stop)

	srv := httptest.NewServer(web.NewServer(cfg, controller).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL), p
}

func TestHealthAndCapabilities(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, cli.Health(ctx))

	methods, err := cli.Capabilities(ctx)
	require.NoError(t, err)
	assert.Contains(t, methods, "job.submit")
}

func TestListProjects(t *testing.T) {
	cli, p := newTestClient(t)
	projects, err := cli.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, p.ID, projects[0].ID)
}

func TestAddComment(t *testing.T) {
	cli, _ := newTestClient(t)
	msg, err := cli.AddComment(context.Background(), "artifact:art-1", "mgr-1", "nice work")
	require.NoError(t, err)
	assert.Equal(t, "nice work", msg.Body)
	assert.Equal(t, "mgr-1", msg.AuthorID)
}

func TestUserErrorsSurface(t *testing.T) {
	cli, _ := newTestClient(t)

	_, err := cli.SubmitJob(context.Background(), "no-such-project", types.JobSpec{Goal: "x"})
	require.Error(t, err)
	ue, ok := rpc.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, "project_not_found", ue.Code)

	err = cli.Call(context.Background(), "no.such.method", nil, nil)
	ue, ok = rpc.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, rpc.CodeUnknownMethod, ue.Code)
}
