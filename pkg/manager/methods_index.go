package manager

import (
	"context"

	"github.com/agentcompany/agentcompany/pkg/index"
	"github.com/agentcompany/agentcompany/pkg/rpc"
)

type listEventsParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	RunID     string `json:"run_id" validate:"required"`
	AfterSeq  int64  `json:"after_seq" validate:"gte=0"`
	Limit     int    `json:"limit" validate:"gte=0"`
}

type listByProjectParams struct {
	ProjectID string `json:"project_id"`
	Limit     int    `json:"limit" validate:"gte=0"`
}

type listParseErrorsParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	RunID     string `json:"run_id" validate:"required"`
}

type listHelpRequestsParams struct {
	TargetManager string `json:"target_manager"`
	Limit         int    `json:"limit" validate:"gte=0"`
}

type getRunParams struct {
	ProjectID string `json:"project_id" validate:"required"`
	RunID     string `json:"run_id" validate:"required"`
}

type listArtifactsParams struct {
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Limit     int    `json:"limit" validate:"gte=0"`
}

type listEventsByTypeParams struct {
	ProjectID string `json:"project_id"`
	Type      string `json:"type" validate:"required"`
	Limit     int    `json:"limit" validate:"gte=0"`
}

func (c *Controller) registerIndexMethods() {
	rpc.Handle(c.router, "index.rebuild", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return c.store.Rebuild(c.ws)
	})

	rpc.Handle(c.router, "index.sync", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return c.store.Sync(c.ws)
	})

	rpc.Handle(c.router, "index.stats", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return c.store.TableCounts()
	})

	rpc.Handle(c.router, "index.list_runs", func(ctx context.Context, p listByProjectParams) (interface{}, error) {
		return c.store.ListRuns(index.RunFilter{ProjectID: p.ProjectID, Limit: p.Limit})
	})

	rpc.Handle(c.router, "index.list_events", func(ctx context.Context, p listEventsParams) (interface{}, error) {
		return c.store.ListEvents(p.ProjectID, p.RunID, p.AfterSeq, p.Limit)
	})

	rpc.Handle(c.router, "index.get_run", func(ctx context.Context, p getRunParams) (interface{}, error) {
		row, err := c.store.GetRun(p.ProjectID, p.RunID)
		if err != nil {
			return nil, rpc.UserErrorf("run_not_found", "run %s/%s not indexed", p.ProjectID, p.RunID)
		}
		return row, nil
	})

	rpc.Handle(c.router, "index.list_events_by_type", func(ctx context.Context, p listEventsByTypeParams) (interface{}, error) {
		return c.store.ListEventsByType(p.ProjectID, p.Type, p.Limit)
	})

	rpc.Handle(c.router, "index.list_artifacts", func(ctx context.Context, p listArtifactsParams) (interface{}, error) {
		return c.store.ListArtifacts(index.ArtifactFilter{
			ProjectID: p.ProjectID, Type: p.Type, Limit: p.Limit,
		})
	})

	rpc.Handle(c.router, "index.list_event_parse_errors", func(ctx context.Context, p listParseErrorsParams) (interface{}, error) {
		return c.store.ListParseErrors(p.ProjectID, p.RunID)
	})

	rpc.Handle(c.router, "index.list_reviews", func(ctx context.Context, p listByProjectParams) (interface{}, error) {
		return c.store.ListReviews(p.Limit)
	})

	rpc.Handle(c.router, "index.list_help_requests", func(ctx context.Context, p listHelpRequestsParams) (interface{}, error) {
		return c.store.ListHelpRequests(p.TargetManager, p.Limit)
	})

	rpc.Handle(c.router, "index.sync_worker_status", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return c.sync.Status(), nil
	})

	rpc.Handle(c.router, "index.sync_worker_flush", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return c.sync.Flush()
	})
}
