package manager

import (
	"context"

	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/types"
)

type jobSubmitParams struct {
	ProjectID string        `json:"project_id" validate:"required"`
	JobID     string        `json:"job_id"`
	Spec      types.JobSpec `json:"spec" validate:"required"`
}

type jobRefParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	JobID     string `json:"job_id" validate:"required"`
}

type jobListParams struct {
	ProjectID string `json:"project_id" validate:"required"`
}

func (c *Controller) registerJobMethods() {
	rpc.Handle(c.router, "job.submit", func(ctx context.Context, p jobSubmitParams) (interface{}, error) {
		if p.Spec.Goal == "" {
			return nil, rpc.UserErrorf(rpc.CodeValidationFailed, "spec.goal is required")
		}
		if _, err := c.ws.LoadProject(p.ProjectID); err != nil {
			return nil, rpc.UserErrorf("project_not_found", "project %s: %v", p.ProjectID, err)
		}
		return c.runner.Submit(p.ProjectID, p.JobID, p.Spec)
	})

	rpc.Handle(c.router, "job.poll", func(ctx context.Context, p jobRefParams) (interface{}, error) {
		j, err := c.runner.Poll(p.ProjectID, p.JobID)
		if err != nil {
			return nil, rpc.UserErrorf("job_not_found", "job %s/%s: %v", p.ProjectID, p.JobID, err)
		}
		return j, nil
	})

	rpc.Handle(c.router, "job.collect", func(ctx context.Context, p jobRefParams) (interface{}, error) {
		j, result, err := c.runner.Collect(ctx, p.ProjectID, p.JobID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"job": j, "result": result}, nil
	})

	rpc.Handle(c.router, "job.cancel", func(ctx context.Context, p jobRefParams) (interface{}, error) {
		if err := c.runner.Cancel(p.ProjectID, p.JobID); err != nil {
			return nil, rpc.UserErrorf("job_not_found", "job %s/%s: %v", p.ProjectID, p.JobID, err)
		}
		return map[string]bool{"cancellation_requested": true}, nil
	})

	rpc.Handle(c.router, "job.list", func(ctx context.Context, p jobListParams) (interface{}, error) {
		return c.runner.List(p.ProjectID)
	})
}
