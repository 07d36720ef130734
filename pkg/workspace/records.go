package workspace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentcompany/agentcompany/pkg/types"
)

// loadYAML reads path into out, reporting a precondition error on
// malformed content.
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed yaml in %s: %w", path, err)
	}
	return nil
}

// saveYAML writes v to path, creating parent directories.
func saveYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}

func (w *Workspace) LoadCompany() (*types.Company, error) {
	var c types.Company
	if err := loadYAML(w.CompanyFile(), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (w *Workspace) SaveCompany(c *types.Company) error {
	return saveYAML(w.CompanyFile(), c)
}

func (w *Workspace) LoadAgent(agentID string) (*types.Agent, error) {
	var a types.Agent
	if err := loadYAML(w.AgentFile(agentID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (w *Workspace) SaveAgent(a *types.Agent) error {
	return saveYAML(w.AgentFile(a.ID), a)
}

// ListAgents returns all agents sorted by id.
func (w *Workspace) ListAgents() ([]*types.Agent, error) {
	entries, err := os.ReadDir(w.AgentsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var agents []*types.Agent
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		a, err := w.LoadAgent(e.Name())
		if err != nil {
			continue
		}
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (w *Workspace) LoadTeam(teamID string) (*types.Team, error) {
	var t types.Team
	if err := loadYAML(w.TeamFile(teamID), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (w *Workspace) SaveTeam(t *types.Team) error {
	return saveYAML(w.TeamFile(t.ID), t)
}

func (w *Workspace) LoadProject(projectID string) (*types.Project, error) {
	var p types.Project
	if err := loadYAML(w.ProjectFile(projectID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (w *Workspace) SaveProject(p *types.Project) error {
	return saveYAML(w.ProjectFile(p.ID), p)
}

// ListProjects returns all projects sorted by id.
func (w *Workspace) ListProjects() ([]*types.Project, error) {
	entries, err := os.ReadDir(w.ProjectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var projects []*types.Project
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p, err := w.LoadProject(e.Name())
		if err != nil {
			continue
		}
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

func (w *Workspace) LoadRun(projectID, runID string) (*types.Run, error) {
	var r types.Run
	if err := loadYAML(w.RunFile(projectID, runID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (w *Workspace) SaveRun(r *types.Run) error {
	return saveYAML(w.RunFile(r.ProjectID, r.RunID), r)
}

// ListRuns returns run ids discovered under a project, sorted ascending.
func (w *Workspace) ListRuns(projectID string) ([]string, error) {
	entries, err := os.ReadDir(w.RunsDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(w.RunFile(projectID, e.Name())); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

func (w *Workspace) LoadJob(projectID, jobID string) (*types.Job, error) {
	var j types.Job
	if err := loadYAML(w.JobFile(projectID, jobID), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (w *Workspace) SaveJob(j *types.Job) error {
	return saveYAML(w.JobFile(j.ProjectID, j.JobID), j)
}

// ListJobs returns job ids under a project, sorted ascending.
func (w *Workspace) ListJobs(projectID string) ([]string, error) {
	entries, err := os.ReadDir(w.JobsDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadTask parses the frontmatter and body of a task markdown file.
func (w *Workspace) LoadTask(projectID, taskID string) (*types.Task, string, error) {
	data, err := os.ReadFile(w.TaskFile(projectID, taskID))
	if err != nil {
		return nil, "", err
	}
	var t types.Task
	body, err := ParseFrontmatter(data, &t)
	if err != nil {
		return nil, "", fmt.Errorf("task %s: %w", taskID, err)
	}
	if t.ID == "" {
		t.ID = taskID
	}
	return &t, body, nil
}

func (w *Workspace) SaveTask(projectID string, t *types.Task, body string) error {
	data, err := EncodeFrontmatter(t, body)
	if err != nil {
		return err
	}
	path := w.TaskFile(projectID, t.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ListTasks returns all parseable tasks of a project sorted by id.
func (w *Workspace) ListTasks(projectID string) ([]*types.Task, error) {
	entries, err := os.ReadDir(w.TasksDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tasks []*types.Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".md")
		t, _, err := w.LoadTask(projectID, id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// LoadArtifact parses the frontmatter and body of an artifact file.
func (w *Workspace) LoadArtifact(projectID, artifactID string) (*types.Artifact, string, error) {
	data, err := os.ReadFile(w.ArtifactFile(projectID, artifactID))
	if err != nil {
		return nil, "", err
	}
	var a types.Artifact
	body, err := ParseFrontmatter(data, &a)
	if err != nil {
		return nil, "", fmt.Errorf("artifact %s: %w", artifactID, err)
	}
	if a.ID == "" {
		a.ID = artifactID
	}
	return &a, body, nil
}

func (w *Workspace) SaveArtifact(projectID string, a *types.Artifact, body string) error {
	data, err := EncodeFrontmatter(a, body)
	if err != nil {
		return err
	}
	path := w.ArtifactFile(projectID, a.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ListArtifactIDs returns artifact ids under a project.
func (w *Workspace) ListArtifactIDs(projectID string) ([]string, error) {
	entries, err := os.ReadDir(w.ArtifactsDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (w *Workspace) LoadReview(reviewID string) (*types.Review, error) {
	var r types.Review
	if err := loadYAML(w.ReviewFile(reviewID), &r); err != nil {
		return nil, err
	}
	if r.ReviewID == "" {
		r.ReviewID = reviewID
	}
	return &r, nil
}

func (w *Workspace) SaveReview(r *types.Review) error {
	return saveYAML(w.ReviewFile(r.ReviewID), r)
}

// ListReviewIDs returns review ids in the inbox.
func (w *Workspace) ListReviewIDs() ([]string, error) {
	entries, err := os.ReadDir(w.ReviewsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (w *Workspace) LoadHelpRequest(id string) (*types.HelpRequest, string, error) {
	data, err := os.ReadFile(w.HelpRequestFile(id))
	if err != nil {
		return nil, "", err
	}
	var h types.HelpRequest
	body, err := ParseFrontmatter(data, &h)
	if err != nil {
		return nil, "", fmt.Errorf("help request %s: %w", id, err)
	}
	if h.HelpRequestID == "" {
		h.HelpRequestID = id
	}
	return &h, body, nil
}

func (w *Workspace) SaveHelpRequest(h *types.HelpRequest, body string) error {
	data, err := EncodeFrontmatter(h, body)
	if err != nil {
		return err
	}
	path := w.HelpRequestFile(h.HelpRequestID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ListHelpRequestIDs returns help request ids in the inbox.
func (w *Workspace) ListHelpRequestIDs() ([]string, error) {
	entries, err := os.ReadDir(w.HelpRequestsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (w *Workspace) LoadMachineConfig() (*types.MachineConfig, error) {
	var m types.MachineConfig
	if err := loadYAML(w.MachineFile(), &m); err != nil {
		if os.IsNotExist(err) {
			return &types.MachineConfig{}, nil
		}
		return nil, err
	}
	return &m, nil
}

func (w *Workspace) SaveMachineConfig(m *types.MachineConfig) error {
	return saveYAML(w.MachineFile(), m)
}

func (w *Workspace) SaveContextPack(projectID string, m *types.ContextPackManifest) error {
	return saveYAML(w.ContextPackManifest(projectID, m.ID), m)
}

func (w *Workspace) LoadContextPack(projectID, contextPackID string) (*types.ContextPackManifest, error) {
	var m types.ContextPackManifest
	if err := loadYAML(w.ContextPackManifest(projectID, contextPackID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (w *Workspace) LoadConversation(scope, projectID, conversationID string) (*types.Conversation, error) {
	var c types.Conversation
	if err := loadYAML(w.ConversationFile(scope, projectID, conversationID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (w *Workspace) SaveConversation(c *types.Conversation) error {
	return saveYAML(w.ConversationFile(string(c.Scope), c.ProjectID, c.ConversationID), c)
}

// ListConversations lists conversations for a scope.
func (w *Workspace) ListConversations(scope, projectID string) ([]*types.Conversation, error) {
	dir := w.ConversationsDir()
	if scope == "project" {
		dir = filepath.Join(w.ProjectDir(projectID), "conversations")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var convs []*types.Conversation
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		c, err := w.LoadConversation(scope, projectID, e.Name())
		if err != nil {
			continue
		}
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ConversationID < convs[j].ConversationID })
	return convs, nil
}

// AppendMessage appends one message to a conversation's append-only log.
// Messages are never re-ordered after insertion.
func (w *Workspace) AppendMessage(scope, projectID, conversationID string, m *types.Message) error {
	path := w.MessagesFile(scope, projectID, conversationID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// ListMessages returns a conversation's messages in insertion order.
func (w *Workspace) ListMessages(scope, projectID, conversationID string) ([]*types.Message, error) {
	f, err := os.Open(w.MessagesFile(scope, projectID, conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var msgs []*types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m types.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, scanner.Err()
}

func (w *Workspace) SaveMemoryDelta(d *types.MemoryDelta) error {
	return saveYAML(w.MemoryDeltaFile(d.AgentID, d.DeltaID), d)
}

func (w *Workspace) LoadMemoryDelta(agentID, deltaID string) (*types.MemoryDelta, error) {
	var d types.MemoryDelta
	if err := loadYAML(w.MemoryDeltaFile(agentID, deltaID), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListMemoryDeltas returns an agent's memory deltas sorted by id.
func (w *Workspace) ListMemoryDeltas(agentID string) ([]*types.MemoryDelta, error) {
	entries, err := os.ReadDir(w.MemoryDeltasDir(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*types.MemoryDelta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		d, err := w.LoadMemoryDelta(agentID, strings.TrimSuffix(e.Name(), ".yaml"))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeltaID < out[j].DeltaID })
	return out, nil
}
