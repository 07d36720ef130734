package types

import "time"

// Company is the root record of a workspace
type Company struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// AgentRole defines the role of an agent in the org
type AgentRole string

const (
	AgentRoleWorker  AgentRole = "worker"
	AgentRoleManager AgentRole = "manager"
)

// Agent is a configured worker or manager persona
type Agent struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Role     AgentRole `yaml:"role" json:"role"`
	Provider string    `yaml:"provider" json:"provider"`
	Model    string    `yaml:"model,omitempty" json:"model,omitempty"`
	TeamID   string    `yaml:"team_id,omitempty" json:"team_id,omitempty"`
}

// Team groups agents under a manager
type Team struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	ManagerID string   `yaml:"manager_id,omitempty" json:"manager_id,omitempty"`
	MemberIDs []string `yaml:"member_ids,omitempty" json:"member_ids,omitempty"`
}

// Project is a unit of work holding tasks, runs, jobs and artifacts
type Project struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	TeamID    string    `yaml:"team_id,omitempty" json:"team_id,omitempty"`
	RepoID    string    `yaml:"repo_id,omitempty" json:"repo_id,omitempty"`
	RepoPath  string    `yaml:"repo_path,omitempty" json:"repo_path,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// TaskStatus tracks a task through its lifecycle
type TaskStatus string

const (
	TaskStatusTodo    TaskStatus = "todo"
	TaskStatusDoing   TaskStatus = "doing"
	TaskStatusBlocked TaskStatus = "blocked"
	TaskStatusDone    TaskStatus = "done"
)

// Task is the frontmatter of a tasks/<task>.md file
type Task struct {
	ID                        string     `yaml:"id" json:"id"`
	Title                     string     `yaml:"title" json:"title"`
	Status                    TaskStatus `yaml:"status" json:"status"`
	AssigneeID                string     `yaml:"assignee_id,omitempty" json:"assignee_id,omitempty"`
	DueAt                     *time.Time `yaml:"due_at,omitempty" json:"due_at,omitempty"`
	DependsOn                 []string   `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	MilestoneKind             string     `yaml:"milestone_kind,omitempty" json:"milestone_kind,omitempty"`
	RequiresWorktreeIsolation bool       `yaml:"requires_worktree_isolation,omitempty" json:"requires_worktree_isolation,omitempty"`
	EstimateHours             float64    `yaml:"estimate_hours,omitempty" json:"estimate_hours,omitempty"`
	ProgressPercent           int        `yaml:"progress_percent,omitempty" json:"progress_percent,omitempty"`
	RiskFlags                 []string   `yaml:"risk_flags,omitempty" json:"risk_flags,omitempty"`
}

// Artifact is the frontmatter of an artifacts/<art>.md file
type Artifact struct {
	ID            string     `yaml:"id" json:"id"`
	Type          string     `yaml:"type" json:"type"`
	Title         string     `yaml:"title,omitempty" json:"title,omitempty"`
	Visibility    Visibility `yaml:"visibility,omitempty" json:"visibility,omitempty"`
	ProducedBy    string     `yaml:"produced_by,omitempty" json:"produced_by,omitempty"`
	RunID         string     `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	ContextPackID string     `yaml:"context_pack_id,omitempty" json:"context_pack_id,omitempty"`
	CreatedAt     *time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
}

// ReviewDecision is the outcome recorded for a reviewed artifact
type ReviewDecision string

const (
	ReviewApproved ReviewDecision = "approved"
	ReviewDenied   ReviewDecision = "denied"
)

// Review is a decision record under inbox/reviews
type Review struct {
	ReviewID          string         `yaml:"review_id" json:"review_id"`
	CreatedAt         time.Time      `yaml:"created_at" json:"created_at"`
	Decision          ReviewDecision `yaml:"decision" json:"decision"`
	ActorID           string         `yaml:"actor_id" json:"actor_id"`
	ActorRole         string         `yaml:"actor_role" json:"actor_role"`
	SubjectKind       string         `yaml:"subject_kind" json:"subject_kind"`
	SubjectArtifactID string         `yaml:"subject_artifact_id" json:"subject_artifact_id"`
	ProjectID         string         `yaml:"project_id" json:"project_id"`
	Notes             string         `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// HelpRequest is the frontmatter of an inbox/help_requests/<id>.md file
type HelpRequest struct {
	HelpRequestID string     `yaml:"help_request_id" json:"help_request_id"`
	CreatedAt     time.Time  `yaml:"created_at" json:"created_at"`
	Title         string     `yaml:"title" json:"title"`
	Visibility    Visibility `yaml:"visibility" json:"visibility"`
	Requester     string     `yaml:"requester" json:"requester"`
	TargetManager string     `yaml:"target_manager" json:"target_manager"`
	ProjectID     string     `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	SharePackID   string     `yaml:"share_pack_id,omitempty" json:"share_pack_id,omitempty"`
}

// ContextPackManifest snapshots the inputs a run was given
type ContextPackManifest struct {
	ID             string    `yaml:"id" json:"id"`
	RepoID         string    `yaml:"repo_id,omitempty" json:"repo_id,omitempty"`
	HeadSHA        string    `yaml:"head_sha,omitempty" json:"head_sha,omitempty"`
	Dirty          bool      `yaml:"dirty,omitempty" json:"dirty,omitempty"`
	DirtyPatchID   string    `yaml:"dirty_patch_artifact_id,omitempty" json:"dirty_patch_artifact_id,omitempty"`
	References     []string  `yaml:"references,omitempty" json:"references,omitempty"`
	PolicySnapshot string    `yaml:"policy_snapshot,omitempty" json:"policy_snapshot,omitempty"`
	CreatedAt      time.Time `yaml:"created_at" json:"created_at"`
}

// ConversationScope distinguishes workspace channels from project channels
type ConversationScope string

const (
	ScopeWorkspace ConversationScope = "workspace"
	ScopeProject   ConversationScope = "project"
)

// Conversation is a channel or DM keyed by (scope, project_id?, conversation_id)
type Conversation struct {
	ConversationID string            `yaml:"conversation_id" json:"conversation_id"`
	Scope          ConversationScope `yaml:"scope" json:"scope"`
	ProjectID      string            `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	Kind           string            `yaml:"kind" json:"kind"` // "channel" or "dm"
	Name           string            `yaml:"name,omitempty" json:"name,omitempty"`
	MemberIDs      []string          `yaml:"member_ids,omitempty" json:"member_ids,omitempty"`
	CreatedAt      time.Time         `yaml:"created_at" json:"created_at"`
}

// Message is one append-only entry in a conversation. Messages are never
// re-ordered after insertion.
type Message struct {
	MessageID string    `json:"message_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// MachineConfig is the host-local configuration under .local/machine.yaml
type MachineConfig struct {
	ProviderBins map[string]string `yaml:"provider_bins,omitempty" json:"provider_bins,omitempty"`
	RateCards    []RateCard        `yaml:"rate_cards,omitempty" json:"rate_cards,omitempty"`
	Budget       BudgetLimits      `yaml:"budget,omitempty" json:"budget,omitempty"`
}

// RateCard prices a provider/model pair per million tokens
type RateCard struct {
	Provider          string  `yaml:"provider" json:"provider"`
	Model             string  `yaml:"model,omitempty" json:"model,omitempty"`
	InputPerMTok      float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	CachedInputPerMTok float64 `yaml:"cached_input_per_mtok,omitempty" json:"cached_input_per_mtok,omitempty"`
	OutputPerMTok     float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
}

// BudgetLimits bound a single run's token and dollar spend. Zero means
// unlimited.
type BudgetLimits struct {
	SoftTokens int64   `yaml:"soft_tokens,omitempty" json:"soft_tokens,omitempty"`
	HardTokens int64   `yaml:"hard_tokens,omitempty" json:"hard_tokens,omitempty"`
	SoftUSD    float64 `yaml:"soft_usd,omitempty" json:"soft_usd,omitempty"`
	HardUSD    float64 `yaml:"hard_usd,omitempty" json:"hard_usd,omitempty"`
}

// MemoryDeltaStatus tracks a proposed memory change through review
type MemoryDeltaStatus string

const (
	MemoryDeltaProposed MemoryDeltaStatus = "proposed"
	MemoryDeltaApproved MemoryDeltaStatus = "approved"
	MemoryDeltaRejected MemoryDeltaStatus = "rejected"
)

// MemoryDelta is a proposed addition or correction to an agent's
// persistent memory, stored under org/agents/<aid>/memory/deltas/.
type MemoryDelta struct {
	DeltaID    string            `yaml:"delta_id" json:"delta_id"`
	AgentID    string            `yaml:"agent_id" json:"agent_id"`
	Kind       string            `yaml:"kind" json:"kind"` // "learning", "mistake", "correction"
	Content    string            `yaml:"content" json:"content"`
	Status     MemoryDeltaStatus `yaml:"status" json:"status"`
	ProposedBy string            `yaml:"proposed_by,omitempty" json:"proposed_by,omitempty"`
	CreatedAt  time.Time         `yaml:"created_at" json:"created_at"`
	DecidedAt  *time.Time        `yaml:"decided_at,omitempty" json:"decided_at,omitempty"`
}
