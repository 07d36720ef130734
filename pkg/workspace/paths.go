package workspace

import "path/filepath"

// Workspace addresses one on-disk workspace rooted at Root. All paths are
// derived here so the layout stays in one place.
type Workspace struct {
	Root string
}

// New returns a workspace handle for the given root. The root is cleaned
// to an absolute-style path so it can key the workspace write lock.
func New(root string) *Workspace {
	return &Workspace{Root: filepath.Clean(root)}
}

func (w *Workspace) CompanyFile() string { return filepath.Join(w.Root, "company", "company.yaml") }
func (w *Workspace) PolicyFile() string  { return filepath.Join(w.Root, "company", "policy.yaml") }

func (w *Workspace) TeamsDir() string { return filepath.Join(w.Root, "org", "teams") }
func (w *Workspace) TeamFile(teamID string) string {
	return filepath.Join(w.TeamsDir(), teamID, "team.yaml")
}

func (w *Workspace) AgentsDir() string { return filepath.Join(w.Root, "org", "agents") }
func (w *Workspace) AgentFile(agentID string) string {
	return filepath.Join(w.AgentsDir(), agentID, "agent.yaml")
}

func (w *Workspace) ProjectsDir() string { return filepath.Join(w.Root, "work", "projects") }
func (w *Workspace) ProjectDir(projectID string) string {
	return filepath.Join(w.ProjectsDir(), projectID)
}
func (w *Workspace) ProjectFile(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "project.yaml")
}

func (w *Workspace) TasksDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "tasks")
}
func (w *Workspace) TaskFile(projectID, taskID string) string {
	return filepath.Join(w.TasksDir(projectID), taskID+".md")
}

func (w *Workspace) ArtifactsDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "artifacts")
}
func (w *Workspace) ArtifactFile(projectID, artifactID string) string {
	return filepath.Join(w.ArtifactsDir(projectID), artifactID+".md")
}

func (w *Workspace) RunsDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "runs")
}
func (w *Workspace) RunDir(projectID, runID string) string {
	return filepath.Join(w.RunsDir(projectID), runID)
}
func (w *Workspace) RunFile(projectID, runID string) string {
	return filepath.Join(w.RunDir(projectID, runID), "run.yaml")
}
func (w *Workspace) EventsFile(projectID, runID string) string {
	return filepath.Join(w.RunDir(projectID, runID), "events.jsonl")
}
func (w *Workspace) OutputsDir(projectID, runID string) string {
	return filepath.Join(w.RunDir(projectID, runID), "outputs")
}
func (w *Workspace) StopFlagFile(projectID, runID string) string {
	return filepath.Join(w.OutputsDir(projectID, runID), "stop_requested.flag")
}

func (w *Workspace) ContextPacksDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "context_packs")
}
func (w *Workspace) ContextPackManifest(projectID, contextPackID string) string {
	return filepath.Join(w.ContextPacksDir(projectID), contextPackID, "manifest.yaml")
}

func (w *Workspace) JobsDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "jobs")
}
func (w *Workspace) JobDir(projectID, jobID string) string {
	return filepath.Join(w.JobsDir(projectID), jobID)
}
func (w *Workspace) JobFile(projectID, jobID string) string {
	return filepath.Join(w.JobDir(projectID, jobID), "job.yaml")
}
func (w *Workspace) JobResultFile(projectID, jobID string) string {
	return filepath.Join(w.JobDir(projectID, jobID), "result.json")
}
func (w *Workspace) JobDigestFile(projectID, jobID string) string {
	return filepath.Join(w.JobDir(projectID, jobID), "manager_digest.json")
}
func (w *Workspace) JobHeartbeatReportFile(projectID, jobID string) string {
	return filepath.Join(w.JobDir(projectID, jobID), "heartbeat_report.json")
}

func (w *Workspace) SharePacksDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "share_packs")
}

func (w *Workspace) ReviewsDir() string { return filepath.Join(w.Root, "inbox", "reviews") }
func (w *Workspace) ReviewFile(reviewID string) string {
	return filepath.Join(w.ReviewsDir(), reviewID+".yaml")
}
func (w *Workspace) HelpRequestsDir() string {
	return filepath.Join(w.Root, "inbox", "help_requests")
}
func (w *Workspace) HelpRequestFile(id string) string {
	return filepath.Join(w.HelpRequestsDir(), id+".md")
}

func (w *Workspace) LocalDir() string    { return filepath.Join(w.Root, ".local") }
func (w *Workspace) IndexFile() string   { return filepath.Join(w.LocalDir(), "index.sqlite") }
func (w *Workspace) MachineFile() string { return filepath.Join(w.LocalDir(), "machine.yaml") }

func (w *Workspace) HeartbeatDir() string { return filepath.Join(w.LocalDir(), "heartbeat") }
func (w *Workspace) HeartbeatConfigFile() string {
	return filepath.Join(w.HeartbeatDir(), "config.yaml")
}
func (w *Workspace) HeartbeatStateFile() string {
	return filepath.Join(w.HeartbeatDir(), "state.yaml")
}
func (w *Workspace) HeartbeatLedgerFile() string {
	return filepath.Join(w.HeartbeatDir(), "idempotency.db")
}

func (w *Workspace) WorktreesDir() string { return filepath.Join(w.LocalDir(), "worktrees") }
func (w *Workspace) WorktreeDir(projectID, taskID, runID string) string {
	return filepath.Join(w.WorktreesDir(), projectID, taskID, runID)
}

// ConversationsDir holds workspace-scope channels; project-scope channels
// live under the project directory.
func (w *Workspace) ConversationsDir() string {
	return filepath.Join(w.Root, "conversations")
}
func (w *Workspace) ConversationDir(scope, projectID, conversationID string) string {
	if scope == "project" {
		return filepath.Join(w.ProjectDir(projectID), "conversations", conversationID)
	}
	return filepath.Join(w.ConversationsDir(), conversationID)
}
func (w *Workspace) ConversationFile(scope, projectID, conversationID string) string {
	return filepath.Join(w.ConversationDir(scope, projectID, conversationID), "conversation.yaml")
}
func (w *Workspace) MessagesFile(scope, projectID, conversationID string) string {
	return filepath.Join(w.ConversationDir(scope, projectID, conversationID), "messages.jsonl")
}

func (w *Workspace) MemoryDeltasDir(agentID string) string {
	return filepath.Join(w.AgentsDir(), agentID, "memory", "deltas")
}
func (w *Workspace) MemoryDeltaFile(agentID, deltaID string) string {
	return filepath.Join(w.MemoryDeltasDir(agentID), deltaID+".yaml")
}
