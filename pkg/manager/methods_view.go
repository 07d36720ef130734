package manager

import (
	"context"
	"sort"
	"time"

	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/snapshot"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

type monitorParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	Limit     int    `json:"limit" validate:"gte=0"`
}

type inboxParams struct {
	TargetManager string `json:"target_manager"`
	Limit         int    `json:"limit" validate:"gte=0"`
}

type resolveParams struct {
	ProjectID  string `json:"project_id" validate:"required"`
	ArtifactID string `json:"artifact_id" validate:"required"`
	Decision   string `json:"decision" validate:"required,oneof=approved denied"`
	ActorID    string `json:"actor_id" validate:"required"`
	Notes      string `json:"notes"`
}

type pmParams struct {
	ProjectID string `json:"project_id"`
}

type taskListParams struct {
	ProjectID string `json:"project_id" validate:"required"`
}

type taskUpdateParams struct {
	ProjectID       string     `json:"project_id" validate:"required"`
	TaskID          string     `json:"task_id" validate:"required"`
	Status          string     `json:"status" validate:"omitempty,oneof=todo doing blocked done"`
	AssigneeID      *string    `json:"assignee_id"`
	DueAt           *time.Time `json:"due_at"`
	EstimateHours   *float64   `json:"estimate_hours"`
	ProgressPercent *int       `json:"progress_percent"`
	DependsOn       []string   `json:"depends_on"`
}

type milestoneApproveParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	TaskID    string `json:"task_id" validate:"required"`
	ActorID   string `json:"actor_id" validate:"required"`
}

type artifactReadParams struct {
	ProjectID  string `json:"project_id" validate:"required"`
	ArtifactID string `json:"artifact_id" validate:"required"`
}

type applyAllocationsParams struct {
	ProjectID   string            `json:"project_id" validate:"required"`
	Allocations map[string]string `json:"allocations" validate:"required"` // task id -> agent id
}

func (c *Controller) registerViewMethods() {
	rpc.Handle(c.router, "monitor.snapshot", func(ctx context.Context, p monitorParams) (interface{}, error) {
		return snapshot.ComposeMonitor(c.store, p.ProjectID, p.Limit)
	})

	rpc.Handle(c.router, "inbox.snapshot", func(ctx context.Context, p inboxParams) (interface{}, error) {
		return snapshot.ComposeInbox(c.store, p.TargetManager, p.Limit)
	})
	rpc.Handle(c.router, "inbox.list_reviews", func(ctx context.Context, p inboxParams) (interface{}, error) {
		return c.store.ListReviews(p.Limit)
	})
	rpc.Handle(c.router, "inbox.list_help_requests", func(ctx context.Context, p inboxParams) (interface{}, error) {
		return c.store.ListHelpRequests(p.TargetManager, p.Limit)
	})
	rpc.Handle(c.router, "inbox.resolve", c.resolveReview)
	rpc.Handle(c.router, "ui.resolve", c.resolveReview)

	rpc.Handle(c.router, "ui.snapshot", func(ctx context.Context, p pmParams) (interface{}, error) {
		scope := "workspace"
		if p.ProjectID != "" {
			scope = "project"
		}
		return snapshot.ComposeBootstrap(c.ws, c.store, snapshot.BootstrapRequest{
			Scope: scope, ProjectID: p.ProjectID,
		})
	})

	rpc.Handle(c.router, "pm.snapshot", func(ctx context.Context, p pmParams) (interface{}, error) {
		return snapshot.ComposePM(c.ws, p.ProjectID)
	})
	rpc.Handle(c.router, "pm.recommend_allocations", func(ctx context.Context, p taskListParams) (interface{}, error) {
		return c.recommendAllocations(p.ProjectID)
	})
	rpc.Handle(c.router, "pm.apply_allocations", func(ctx context.Context, p applyAllocationsParams) (interface{}, error) {
		return c.applyAllocations(p.ProjectID, p.Allocations)
	})

	rpc.Handle(c.router, "task.list", func(ctx context.Context, p taskListParams) (interface{}, error) {
		return c.ws.ListTasks(p.ProjectID)
	})
	rpc.Handle(c.router, "task.update_plan", func(ctx context.Context, p taskUpdateParams) (interface{}, error) {
		return c.updateTaskPlan(p)
	})

	rpc.Handle(c.router, "milestone.approve", func(ctx context.Context, p milestoneApproveParams) (interface{}, error) {
		task, body, err := c.ws.LoadTask(p.ProjectID, p.TaskID)
		if err != nil {
			return nil, rpc.UserErrorf("task_not_found", "task %s/%s: %v", p.ProjectID, p.TaskID, err)
		}
		if task.MilestoneKind == "" {
			return nil, rpc.UserErrorf("not_a_milestone", "task %s has no milestone kind", p.TaskID)
		}
		task.Status = types.TaskStatusDone
		task.ProgressPercent = 100
		if err := c.ws.SaveTask(p.ProjectID, task, body); err != nil {
			return nil, err
		}
		c.logger.Info().
			Str("project_id", p.ProjectID).
			Str("task_id", p.TaskID).
			Str("actor_id", p.ActorID).
			Msg("milestone approved")
		return task, nil
	})

	rpc.Handle(c.router, "artifact.read", func(ctx context.Context, p artifactReadParams) (interface{}, error) {
		art, body, err := c.ws.LoadArtifact(p.ProjectID, p.ArtifactID)
		if err != nil {
			return nil, rpc.UserErrorf("artifact_not_found", "artifact %s/%s: %v", p.ProjectID, p.ArtifactID, err)
		}
		return map[string]interface{}{"artifact": art, "body": body}, nil
	})

	rpc.Handle(c.router, "resources.snapshot", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return snapshot.ComposeResources(c.ws)
	})

	rpc.Handle(c.router, "desktop.bootstrap.snapshot", func(ctx context.Context, p snapshot.BootstrapRequest) (interface{}, error) {
		if p.Scope == "" {
			p.Scope = "workspace"
		}
		return snapshot.ComposeBootstrap(c.ws, c.store, p)
	})

	rpc.Handle(c.router, "system.capabilities", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return map[string]interface{}{
			"methods":    c.router.Methods(),
			"started_at": c.startedAt,
		}, nil
	})
}

func (c *Controller) resolveReview(ctx context.Context, p resolveParams) (interface{}, error) {
	if _, _, err := c.ws.LoadArtifact(p.ProjectID, p.ArtifactID); err != nil {
		return nil, rpc.UserErrorf("artifact_not_found", "artifact %s/%s: %v", p.ProjectID, p.ArtifactID, err)
	}
	review := &types.Review{
		ReviewID:          workspace.NewID("rev"),
		CreatedAt:         time.Now().UTC(),
		Decision:          types.ReviewDecision(p.Decision),
		ActorID:           p.ActorID,
		ActorRole:         string(types.AgentRoleManager),
		SubjectKind:       "artifact",
		SubjectArtifactID: p.ArtifactID,
		ProjectID:         p.ProjectID,
		Notes:             p.Notes,
	}
	if err := c.ws.SaveReview(review); err != nil {
		return nil, err
	}
	c.sync.Notify()
	return review, nil
}

func (c *Controller) updateTaskPlan(p taskUpdateParams) (interface{}, error) {
	task, body, err := c.ws.LoadTask(p.ProjectID, p.TaskID)
	if err != nil {
		return nil, rpc.UserErrorf("task_not_found", "task %s/%s: %v", p.ProjectID, p.TaskID, err)
	}
	if p.Status != "" {
		task.Status = types.TaskStatus(p.Status)
	}
	if p.AssigneeID != nil {
		task.AssigneeID = *p.AssigneeID
	}
	if p.DueAt != nil {
		task.DueAt = p.DueAt
	}
	if p.EstimateHours != nil {
		task.EstimateHours = *p.EstimateHours
	}
	if p.ProgressPercent != nil {
		task.ProgressPercent = *p.ProgressPercent
	}
	if p.DependsOn != nil {
		task.DependsOn = p.DependsOn
	}
	if err := c.ws.SaveTask(p.ProjectID, task, body); err != nil {
		return nil, err
	}
	return task, nil
}

// recommendAllocations proposes assignees for unassigned open tasks:
// workers are ranked by current open-task load, least loaded first.
func (c *Controller) recommendAllocations(projectID string) (interface{}, error) {
	tasks, err := c.ws.ListTasks(projectID)
	if err != nil {
		return nil, err
	}
	agents, err := c.ws.ListAgents()
	if err != nil {
		return nil, err
	}

	load := make(map[string]int)
	var workers []string
	for _, a := range agents {
		if a.Role == types.AgentRoleWorker {
			workers = append(workers, a.ID)
			load[a.ID] = 0
		}
	}
	sort.Strings(workers)
	if len(workers) == 0 {
		return map[string]string{}, nil
	}

	for _, t := range tasks {
		if t.AssigneeID != "" && t.Status != types.TaskStatusDone {
			load[t.AssigneeID]++
		}
	}

	allocations := make(map[string]string)
	for _, t := range tasks {
		if t.AssigneeID != "" || t.Status == types.TaskStatusDone {
			continue
		}
		best := workers[0]
		for _, w := range workers[1:] {
			if load[w] < load[best] {
				best = w
			}
		}
		allocations[t.ID] = best
		load[best]++
	}
	return allocations, nil
}

func (c *Controller) applyAllocations(projectID string, allocations map[string]string) (interface{}, error) {
	applied := 0
	for taskID, agentID := range allocations {
		task, body, err := c.ws.LoadTask(projectID, taskID)
		if err != nil {
			return nil, rpc.UserErrorf("task_not_found", "task %s/%s: %v", projectID, taskID, err)
		}
		if _, err := c.ws.LoadAgent(agentID); err != nil {
			return nil, rpc.UserErrorf("agent_not_found", "agent %s: %v", agentID, err)
		}
		task.AssigneeID = agentID
		if err := c.ws.SaveTask(projectID, task, body); err != nil {
			return nil, err
		}
		applied++
	}
	return map[string]int{"applied": applied}, nil
}
