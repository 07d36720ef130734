package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentcompany/agentcompany/pkg/config"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/manager"
	"github.com/agentcompany/agentcompany/pkg/web"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentcompany",
	Short: "AgentCompany - local-first control plane for AI worker agents",
	Long: `AgentCompany orchestrates AI coding agents as subprocesses against a
plain-file workspace. The workspace is the source of truth; a SQLite
index and a web control surface are derived from it.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"AgentCompany version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("workspace", "", "Workspace root (overrides AGENTCOMPANY_WORKSPACE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(heartbeatCmd)
}

// loadConfig reads env config and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if ws, _ := cmd.Flags().GetString("workspace"); ws != "" {
		cfg.Workspace = ws
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane server",
	Long: `Start the control plane against one workspace: the execution engine,
the job runner, the heartbeat scheduler, the index sync worker and the
web/SSE surface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("listen-addr"); addr != "" {
			cfg.ListenAddr = addr
		}

		controller, err := manager.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create controller: %w", err)
		}
		if err := controller.Start(); err != nil {
			return fmt.Errorf("failed to start controller: %w", err)
		}

		server := web.NewServer(cfg, controller)
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(ctx)
		}()

		fmt.Printf("AgentCompany serving on %s (workspace %s)\n", cfg.ListenAddr, cfg.Workspace)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			if err != nil {
				cancel()
				controller.Stop()
				return fmt.Errorf("web server error: %w", err)
			}
		}

		cancel()
		<-errCh
		controller.Stop()
		fmt.Println("Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "Listen address (overrides AGENTCOMPANY_LISTEN_ADDR)")
}
