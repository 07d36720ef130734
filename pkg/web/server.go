package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentcompany/agentcompany/pkg/config"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/manager"
	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/snapshot"
)

// Server is the HTTP front of one controller.
type Server struct {
	cfg        *config.Config
	controller *manager.Controller
	engine     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer builds the route table. Start actually listens.
func NewServer(cfg *config.Config, controller *manager.Controller) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:        cfg,
		controller: controller,
		engine:     engine,
		logger:     log.WithComponent("web"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleDashboard)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/ui/snapshot", s.handleUISnapshot)
	api.GET("/monitor/snapshot", s.handleMonitorSnapshot)
	api.GET("/inbox/snapshot", s.handleInboxSnapshot)
	api.GET("/usage/analytics", s.handleUsageAnalytics)
	api.GET("/sync_worker_status", s.handleSyncWorkerStatus)
	api.GET("/events", s.handleSSE)
	api.POST("/rpc", s.handleRPC)
	api.POST("/ui/resolve", s.rpcShortcut("ui.resolve"))
	api.POST("/comments", s.rpcShortcut("comment.add"))
	api.GET("/comments", s.handleCommentsList)
}

// Start listens on the configured address until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.engine,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("web server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDashboard(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}

func (s *Server) handleRPC(c *gin.Context) {
	var req rpc.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, rpc.Response{Error: &rpc.UserError{
			Code: rpc.CodeInvalidParams, Message: err.Error(),
		}})
		return
	}
	s.writeRPC(c, s.controller.Router().Call(c.Request.Context(), req))
}

// rpcShortcut serves a POST body as the params of one fixed method.
func (s *Server) rpcShortcut(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params json.RawMessage
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, rpc.Response{Error: &rpc.UserError{
				Code: rpc.CodeInvalidParams, Message: err.Error(),
			}})
			return
		}
		s.writeRPC(c, s.controller.Router().Call(c.Request.Context(), rpc.Request{
			Method: method, Params: params,
		}))
	}
}

func (s *Server) writeRPC(c *gin.Context, resp rpc.Response) {
	status := http.StatusOK
	if resp.Error != nil {
		status = http.StatusBadRequest
		if resp.Error.Code == "internal" {
			status = http.StatusInternalServerError
		}
	}
	c.JSON(status, resp)
}

func (s *Server) handleUISnapshot(c *gin.Context) {
	projectID := c.Query("project_id")
	scope := "workspace"
	if projectID != "" {
		scope = "project"
	}
	snap, err := snapshot.ComposeBootstrap(s.controller.Workspace(), s.controller.Store(),
		snapshot.BootstrapRequest{Scope: scope, ProjectID: projectID})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleMonitorSnapshot(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}
	snap, err := snapshot.ComposeMonitor(s.controller.Store(), projectID, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleInboxSnapshot(c *gin.Context) {
	snap, err := snapshot.ComposeInbox(s.controller.Store(), c.Query("target_manager"), 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleUsageAnalytics(c *gin.Context) {
	snap, err := snapshot.ComposeResources(s.controller.Workspace())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleCommentsList maps the ?subject= query onto comment.list.
func (s *Server) handleCommentsList(c *gin.Context) {
	params, _ := json.Marshal(map[string]string{"subject": c.Query("subject")})
	s.writeRPC(c, s.controller.Router().Call(c.Request.Context(), rpc.Request{
		Method: "comment.list", Params: params,
	}))
}

func (s *Server) handleSyncWorkerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.SyncWorker().Status())
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head><title>AgentCompany</title></head>
<body>
<h1>AgentCompany control plane</h1>
<ul>
<li><a href="/api/health">health</a></li>
<li><a href="/api/ui/snapshot">ui snapshot</a></li>
<li><a href="/api/inbox/snapshot">inbox</a></li>
<li><a href="/api/usage/analytics">usage</a></li>
<li><a href="/api/sync_worker_status">sync worker</a></li>
<li><a href="/metrics">metrics</a></li>
</ul>
</body>
</html>
`
