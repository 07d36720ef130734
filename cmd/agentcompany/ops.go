package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentcompany/agentcompany/pkg/manager"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// withController builds a short-lived controller for one-shot commands
// and tears it down afterwards. The scheduler and sync worker are never
// started; the command dispatches directly against the method table.
func withController(cmd *cobra.Command, fn func(*manager.Controller) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	controller, err := manager.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	defer controller.Stop()
	return fn(controller)
}

// dispatch runs one RPC method and prints the result as indented JSON.
func dispatch(c *manager.Controller, method string, params interface{}) error {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = encoded
	}
	result, err := c.Router().Dispatch(context.Background(), method, raw)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// Workspace commands
var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage the workspace",
}

var workspaceInitCmd = &cobra.Command{
	Use:   "init NAME",
	Short: "Initialize a new workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ws := workspace.New(cfg.Workspace)
		if err := ws.Init(args[0]); err != nil {
			return err
		}
		fmt.Printf("Workspace %q initialized at %s\n", args[0], cfg.Workspace)
		return nil
	},
}

var workspaceValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate workspace records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "workspace.validate", nil)
		})
	},
}

var workspaceDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check workspace health and provider binaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "workspace.doctor", nil)
		})
	},
}

var workspaceExportCmd = &cobra.Command{
	Use:   "export DEST",
	Short: "Export the workspace to a tar.gz archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "workspace.export", map[string]string{"dest_path": args[0]})
		})
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceInitCmd)
	workspaceCmd.AddCommand(workspaceValidateCmd)
	workspaceCmd.AddCommand(workspaceDoctorCmd)
	workspaceCmd.AddCommand(workspaceExportCmd)
}

// Project commands
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			p, err := c.Workspace().CreateProject(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Project %s created\n", p.ID)
			return nil
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "workspace.projects.list", nil)
		})
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
}

// Run commands
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage worker runs",
}

var runLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch an interactive session run and wait for it",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		provider, _ := cmd.Flags().GetString("provider")
		prompt, _ := cmd.Flags().GetString("prompt")
		model, _ := cmd.Flags().GetString("model")
		agentID, _ := cmd.Flags().GetString("agent")

		return withController(cmd, func(c *manager.Controller) error {
			result, err := c.Router().Dispatch(context.Background(), "session.launch",
				mustJSON(map[string]string{
					"project_id": projectID,
					"provider":   provider,
					"prompt":     prompt,
					"model":      model,
					"agent_id":   agentID,
				}))
			if err != nil {
				return err
			}
			ref := result.(map[string]string)
			fmt.Printf("Run %s started, waiting...\n", ref["run_id"])
			return dispatch(c, "session.collect", map[string]string{
				"project_id": projectID,
				"run_id":     ref["run_id"],
			})
		})
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs from the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		return withController(cmd, func(c *manager.Controller) error {
			if _, err := c.SyncWorker().Flush(); err != nil {
				return err
			}
			return dispatch(c, "run.list", map[string]interface{}{"project_id": projectID})
		})
	},
}

var runStopCmd = &cobra.Command{
	Use:   "stop RUN_ID",
	Short: "Request a cooperative stop of a running session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "session.stop", map[string]string{
				"project_id": projectID,
				"run_id":     args[0],
			})
		})
	},
}

func init() {
	runCmd.PersistentFlags().String("project", "", "Project ID")
	runCmd.MarkPersistentFlagRequired("project")
	runLaunchCmd.Flags().String("provider", "", "Worker provider")
	runLaunchCmd.Flags().String("prompt", "", "Prompt for the session")
	runLaunchCmd.Flags().String("model", "", "Model override")
	runLaunchCmd.Flags().String("agent", "", "Agent ID to attribute the run to")
	runLaunchCmd.MarkFlagRequired("provider")
	runLaunchCmd.MarkFlagRequired("prompt")

	runCmd.AddCommand(runLaunchCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runStopCmd)
}

// Job commands
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job and print its record",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		goal, _ := cmd.Flags().GetString("goal")
		agentID, _ := cmd.Flags().GetString("agent")
		kind, _ := cmd.Flags().GetString("kind")
		workerKind, _ := cmd.Flags().GetString("worker")

		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "job.submit", map[string]interface{}{
				"project_id": projectID,
				"spec": map[string]string{
					"goal":            goal,
					"worker_agent_id": agentID,
					"worker_kind":     workerKind,
					"job_kind":        kind,
				},
			})
		})
	},
}

var jobPollCmd = &cobra.Command{
	Use:   "poll JOB_ID",
	Short: "Print the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "job.poll", map[string]string{
				"project_id": projectID,
				"job_id":     args[0],
			})
		})
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "job.list", map[string]string{"project_id": projectID})
		})
	},
}

func init() {
	jobCmd.PersistentFlags().String("project", "", "Project ID")
	jobCmd.MarkPersistentFlagRequired("project")
	jobSubmitCmd.Flags().String("goal", "", "Job goal")
	jobSubmitCmd.Flags().String("agent", "", "Worker agent ID")
	jobSubmitCmd.Flags().String("worker", "", "Worker provider kind")
	jobSubmitCmd.Flags().String("kind", "execution", "Job kind (execution or heartbeat)")
	jobSubmitCmd.MarkFlagRequired("goal")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobPollCmd)
	jobCmd.AddCommand(jobListCmd)
}

// Index commands
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the derived SQLite index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop and rebuild the index from the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "index.rebuild", nil)
		})
	},
}

var indexSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one incremental index sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "index.sync", nil)
		})
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print index table counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "index.stats", nil)
		})
	},
}

func init() {
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexSyncCmd)
	indexCmd.AddCommand(indexStatsCmd)
}

// Heartbeat commands
var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Manage the heartbeat scheduler",
}

var heartbeatTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one heartbeat triage tick now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "heartbeat.tick", nil)
		})
	},
}

var heartbeatStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print heartbeat scheduler state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(c *manager.Controller) error {
			return dispatch(c, "heartbeat.status", nil)
		})
	},
}

func init() {
	heartbeatCmd.AddCommand(heartbeatTickCmd)
	heartbeatCmd.AddCommand(heartbeatStatusCmd)
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
