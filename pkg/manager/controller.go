package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentcompany/agentcompany/pkg/config"
	"github.com/agentcompany/agentcompany/pkg/events"
	"github.com/agentcompany/agentcompany/pkg/executor"
	"github.com/agentcompany/agentcompany/pkg/heartbeat"
	"github.com/agentcompany/agentcompany/pkg/index"
	"github.com/agentcompany/agentcompany/pkg/job"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// Controller owns one workspace and every long-lived component of the
// control plane. It is built once at process start and torn down on
// shutdown.
type Controller struct {
	cfg    *config.Config
	ws     *workspace.Workspace
	bus    *events.Bus
	store  *index.Store
	sync   *index.Worker
	engine *executor.Engine
	runner *job.Runner
	hb     *heartbeat.Service
	router *rpc.Router
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]context.CancelFunc // active engine calls keyed project/run

	startedAt time.Time
	stopCh    chan struct{}
}

// New builds the controller and registers the full RPC method table.
func New(cfg *config.Config) (*Controller, error) {
	ws := workspace.New(cfg.Workspace)
	bus := events.NewBus()

	store, err := index.Open(ws.IndexFile())
	if err != nil {
		return nil, err
	}

	hbCfg, err := heartbeat.LoadConfig(ws)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine := executor.NewEngine(ws, bus)
	runner := job.NewRunner(ws, engine, hbCfg.ResultContractModes)
	hb := heartbeat.NewService(ws, runner)
	runner.SetReportSink(hb.Ingest)

	c := &Controller{
		cfg:    cfg,
		ws:     ws,
		bus:    bus,
		store:  store,
		engine: engine,
		runner: runner,
		hb:     hb,
		router: rpc.NewRouter(),
		logger: log.WithComponent("controller"),

		sessions:  make(map[string]context.CancelFunc),
		startedAt: time.Now().UTC(),
		stopCh:    make(chan struct{}),
	}
	c.sync = index.NewWorker(ws, store, bus,
		time.Duration(cfg.SyncDebounceMS)*time.Millisecond,
		time.Duration(cfg.SyncMinIntervalMS)*time.Millisecond)

	c.registerMethods()
	return c, nil
}

// Start brings up the bus, the sync worker, the heartbeat scheduler and
// the backpressure drain.
func (c *Controller) Start() error {
	c.bus.Start()
	c.sync.Start()
	if err := c.hb.Start(); err != nil {
		return err
	}
	go c.drainBackpressure()
	c.logger.Info().Str("workspace", c.ws.Root).Msg("controller started")
	return nil
}

// Stop tears components down in reverse order. Active engine calls are
// aborted through their session cancel funcs.
func (c *Controller) Stop() {
	close(c.stopCh)

	c.mu.Lock()
	for _, cancel := range c.sessions {
		cancel()
	}
	c.mu.Unlock()

	c.hb.Stop()
	c.sync.Stop()
	c.bus.Stop()
	if err := c.store.Close(); err != nil {
		c.logger.Error().Err(err).Msg("failed to close index store")
	}
	c.logger.Info().Msg("controller stopped")
}

// Router exposes the method table to the web server.
func (c *Controller) Router() *rpc.Router { return c.router }

// Workspace exposes the workspace to the web server's snapshot routes.
func (c *Controller) Workspace() *workspace.Workspace { return c.ws }

// Store exposes the index store to the web server's snapshot routes.
func (c *Controller) Store() *index.Store { return c.store }

// SyncWorker exposes the sync worker for the status endpoint.
func (c *Controller) SyncWorker() *index.Worker { return c.sync }

// Bus exposes the runtime event bus for SSE subscribers.
func (c *Controller) Bus() *events.Bus { return c.bus }

// drainBackpressure consumes the job runner's classified-failure
// channel. Lane admission keys off these counters.
func (c *Controller) drainBackpressure() {
	for {
		select {
		case bp := <-c.runner.Backpressure():
			c.logger.Warn().
				Str("provider", bp.Provider).
				Str("class", bp.Class).
				Msg("provider backpressure reported")
		case <-c.stopCh:
			return
		}
	}
}

func (c *Controller) trackSession(projectID, runID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[projectID+"/"+runID] = cancel
}

func (c *Controller) releaseSession(projectID, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, projectID+"/"+runID)
}

func (c *Controller) activeSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.sessions))
	for k := range c.sessions {
		keys = append(keys, k)
	}
	return keys
}

// registerMethods installs every method group on the router.
func (c *Controller) registerMethods() {
	c.registerWorkspaceMethods()
	c.registerRunMethods()
	c.registerJobMethods()
	c.registerHeartbeatMethods()
	c.registerIndexMethods()
	c.registerViewMethods()
	c.registerSocialMethods()
}
