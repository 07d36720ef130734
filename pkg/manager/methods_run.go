package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentcompany/agentcompany/pkg/executor"
	"github.com/agentcompany/agentcompany/pkg/index"
	"github.com/agentcompany/agentcompany/pkg/journal"
	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

type runCreateParams struct {
	ProjectID  string            `json:"project_id" validate:"required"`
	AgentID    string            `json:"agent_id"`
	Provider   string            `json:"provider" validate:"required"`
	SessionRef string            `json:"session_ref"`
	Spec       types.RunSpec     `json:"spec"`
	Limits     types.BudgetLimits `json:"limits"`
}

type runListParams struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Limit     int    `json:"limit" validate:"gte=0"`
}

type runReplayParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	RunID     string `json:"run_id" validate:"required"`
	AfterSeq  int64  `json:"after_seq" validate:"gte=0"`
}

type sessionLaunchParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	AgentID   string `json:"agent_id"`
	Provider  string `json:"provider" validate:"required"`
	Prompt    string `json:"prompt" validate:"required"`
	Model     string `json:"model"`
}

type runRefParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	RunID     string `json:"run_id" validate:"required"`
}

func (c *Controller) registerRunMethods() {
	rpc.Handle(c.router, "run.create", func(ctx context.Context, p runCreateParams) (interface{}, error) {
		return c.launchRun(p.ProjectID, executor.Request{
			ProjectID:  p.ProjectID,
			AgentID:    p.AgentID,
			SessionRef: p.SessionRef,
			Provider:   p.Provider,
			Spec:       p.Spec,
			Limits:     p.Limits,
		})
	})

	rpc.Handle(c.router, "run.list", func(ctx context.Context, p runListParams) (interface{}, error) {
		return c.store.ListRuns(index.RunFilter{
			ProjectID: p.ProjectID, Status: p.Status, Limit: p.Limit,
		})
	})

	rpc.Handle(c.router, "run.replay", func(ctx context.Context, p runReplayParams) (interface{}, error) {
		return c.replayRun(p.ProjectID, p.RunID, p.AfterSeq)
	})

	rpc.Handle(c.router, "session.launch", func(ctx context.Context, p sessionLaunchParams) (interface{}, error) {
		return c.launchRun(p.ProjectID, executor.Request{
			ProjectID: p.ProjectID,
			AgentID:   p.AgentID,
			Provider:  p.Provider,
			Spec: types.RunSpec{
				Mode:    types.RunModeAppServer,
				Command: c.providerCommand(p.Provider),
				Prompt:  p.Prompt,
				Model:   p.Model,
			},
		})
	})

	rpc.Handle(c.router, "session.poll", func(ctx context.Context, p runRefParams) (interface{}, error) {
		run, err := c.ws.LoadRun(p.ProjectID, p.RunID)
		if err != nil {
			return nil, rpc.UserErrorf("run_not_found", "run %s/%s: %v", p.ProjectID, p.RunID, err)
		}
		return run, nil
	})

	rpc.Handle(c.router, "session.collect", func(ctx context.Context, p runRefParams) (interface{}, error) {
		return c.collectRun(ctx, p.ProjectID, p.RunID)
	})

	rpc.Handle(c.router, "session.stop", func(ctx context.Context, p runRefParams) (interface{}, error) {
		if err := c.stopRun(p.ProjectID, p.RunID); err != nil {
			return nil, err
		}
		return map[string]bool{"stop_requested": true}, nil
	})

	rpc.Handle(c.router, "session.list", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return map[string]interface{}{"active": c.activeSessions()}, nil
	})
}

// launchRun starts the engine call asynchronously and returns the run
// id immediately. The run record becomes visible once the engine saves
// it; callers poll session.poll.
func (c *Controller) launchRun(projectID string, req executor.Request) (interface{}, error) {
	if _, err := c.ws.LoadProject(projectID); err != nil {
		return nil, rpc.UserErrorf("project_not_found", "project %s: %v", projectID, err)
	}
	req.RunID = workspace.NewID("run")

	ctx, cancel := context.WithCancel(context.Background())
	c.trackSession(projectID, req.RunID, cancel)
	go func() {
		defer c.releaseSession(projectID, req.RunID)
		defer cancel()
		if _, err := c.engine.Execute(ctx, req); err != nil {
			c.logger.Error().Err(err).
				Str("project_id", projectID).
				Str("run_id", req.RunID).
				Msg("engine call failed")
		}
	}()
	return map[string]string{"project_id": projectID, "run_id": req.RunID}, nil
}

// replayRun re-reads a journal from disk, decoding every line after
// afterSeq. Undecodable lines are returned as parse errors, mirroring
// what the indexer would record.
func (c *Controller) replayRun(projectID, runID string, afterSeq int64) (interface{}, error) {
	path := c.ws.EventsFile(projectID, runID)
	lines, err := journal.ReadLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rpc.UserErrorf("run_not_found", "no journal for %s/%s", projectID, runID)
		}
		return nil, err
	}

	var envelopes []types.Envelope
	var parseErrors []map[string]interface{}
	for _, l := range lines {
		if l.Seq <= afterSeq {
			continue
		}
		env, err := journal.Decode(l)
		if err != nil {
			parseErrors = append(parseErrors, map[string]interface{}{
				"seq": l.Seq, "error": err.Error(),
			})
			continue
		}
		envelopes = append(envelopes, env)
	}
	return map[string]interface{}{
		"events":       envelopes,
		"parse_errors": parseErrors,
	}, nil
}

// collectRun blocks until the run reaches a terminal status, then
// returns the record plus the assistant's last message when present.
func (c *Controller) collectRun(ctx context.Context, projectID, runID string) (interface{}, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		run, err := c.ws.LoadRun(projectID, runID)
		if err == nil && run.Status.Terminal() {
			result := map[string]interface{}{"run": run}
			msgPath := filepath.Join(c.ws.OutputsDir(projectID, runID), "last_message.md")
			if data, err := os.ReadFile(msgPath); err == nil {
				result["last_message"] = string(data)
			}
			return result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// stopRun raises the stop marker. The engine's watcher notices the flag
// and runs the interrupt/TERM/KILL escalation.
func (c *Controller) stopRun(projectID, runID string) error {
	if _, err := c.ws.LoadRun(projectID, runID); err != nil {
		return rpc.UserErrorf("run_not_found", "run %s/%s: %v", projectID, runID, err)
	}
	flag := c.ws.StopFlagFile(projectID, runID)
	if err := os.MkdirAll(filepath.Dir(flag), 0755); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(flag, []byte(stamp+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write stop flag: %w", err)
	}
	return nil
}

func (c *Controller) providerCommand(provider string) []string {
	machine, err := c.ws.LoadMachineConfig()
	if err != nil {
		return nil
	}
	if bin, ok := machine.ProviderBins[provider]; ok {
		return []string{bin}
	}
	return nil
}
