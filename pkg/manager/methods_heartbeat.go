package manager

import (
	"context"

	"github.com/agentcompany/agentcompany/pkg/heartbeat"
	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/types"
)

type heartbeatConfigSetParams struct {
	Config types.HeartbeatConfig `json:"config" validate:"required"`
}

func (c *Controller) registerHeartbeatMethods() {
	rpc.Handle(c.router, "heartbeat.status", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		cfg, err := heartbeat.LoadConfig(c.ws)
		if err != nil {
			return nil, err
		}
		state, err := heartbeat.LoadState(c.ws)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"enabled":      cfg.Enabled,
			"ticks":        state.Ticks,
			"wakes_total":  state.WakesTotal,
			"last_tick_at": state.LastTickAt,
			"workers":      state.Workers,
		}, nil
	})

	rpc.Handle(c.router, "heartbeat.tick", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		if err := c.hb.Tick(ctx); err != nil {
			return nil, err
		}
		state, err := heartbeat.LoadState(c.ws)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"ticks": state.Ticks, "wakes_total": state.WakesTotal}, nil
	})

	rpc.Handle(c.router, "heartbeat.config.get", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		cfg, err := heartbeat.LoadConfig(c.ws)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	})

	rpc.Handle(c.router, "heartbeat.config.set", func(ctx context.Context, p heartbeatConfigSetParams) (interface{}, error) {
		if p.Config.TickIntervalMinutes < 0 || p.Config.TopKWorkers < 0 {
			return nil, rpc.UserErrorf(rpc.CodeValidationFailed, "intervals and counts must be non-negative")
		}
		if err := heartbeat.SaveConfig(c.ws, p.Config); err != nil {
			return nil, err
		}
		return p.Config, nil
	})
}
