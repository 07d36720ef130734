package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeSchemaVersion is the current schema version written into journals.
const EnvelopeSchemaVersion = 1

// EventType identifies the kind of record in a run's event journal
type EventType string

const (
	EventRunStarted                 EventType = "run.started"
	EventRunExecuting               EventType = "run.executing"
	EventRunEnded                   EventType = "run.ended"
	EventRunFailed                  EventType = "run.failed"
	EventRunStopped                 EventType = "run.stopped"
	EventProviderRaw                EventType = "provider.raw"
	EventUsageReported              EventType = "usage.reported"
	EventUsageEstimated             EventType = "usage.estimated"
	EventUsageCostComputed          EventType = "usage.cost_computed"
	EventBudgetAlert                EventType = "budget.alert"
	EventBudgetExceeded             EventType = "budget.exceeded"
	EventBudgetDecision             EventType = "budget.decision"
	EventWorktreePrepared           EventType = "worktree.prepared"
	EventContextPackSnapshotWritten EventType = "context_pack.snapshot_written"
	EventContextPackSnapshotFailed  EventType = "context_pack.snapshot_failed"
	EventArtifactProduced           EventType = "artifact.produced"
	EventContextCycleDetected       EventType = "context.cycle.detected"
	EventMemoryCandidates           EventType = "memory.candidates.generated"
)

// Visibility controls who may read an event or artifact
type Visibility string

const (
	VisibilityPrivateAgent Visibility = "private_agent"
	VisibilityTeam         Visibility = "team"
	VisibilityManagers     Visibility = "managers"
	VisibilityOrg          Visibility = "org"
)

// ActorSystem is the actor recorded on events emitted by the engine itself.
const ActorSystem = "system"

// Envelope is one immutable record in a run's append-only event journal.
// Unknown payload shapes are carried through as raw JSON so future
// consumers can still upgrade them.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	TSWallclock   string          `json:"ts_wallclock"`
	TSMonotonicMS *int64          `json:"ts_monotonic_ms,omitempty"`
	RunID         string          `json:"run_id"`
	SessionRef    string          `json:"session_ref"`
	Actor         string          `json:"actor"`
	Visibility    Visibility      `json:"visibility"`
	Type          EventType       `json:"type"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope with the current wallclock and monotonic
// timestamps. The payload must already be marshaled JSON.
func NewEnvelope(runID, sessionRef, actor string, vis Visibility, typ EventType, payload json.RawMessage) Envelope {
	mono := time.Since(processStart).Milliseconds()
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return Envelope{
		SchemaVersion: EnvelopeSchemaVersion,
		TSWallclock:   time.Now().UTC().Format(time.RFC3339Nano),
		TSMonotonicMS: &mono,
		RunID:         runID,
		SessionRef:    sessionRef,
		Actor:         actor,
		Visibility:    vis,
		Type:          typ,
		Payload:       payload,
	}
}

var processStart = time.Now()

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusEnded   RunStatus = "ended"
	RunStatusFailed  RunStatus = "failed"
	RunStatusStopped RunStatus = "stopped"
)

// Terminal reports whether the status admits no further transition except
// the budget promotion ended -> failed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusEnded || s == RunStatusFailed || s == RunStatusStopped
}

// RunMode selects how the subprocess is driven
type RunMode string

const (
	RunModeCommand   RunMode = "command"
	RunModeAppServer RunMode = "app_server"
)

// RunSpec describes what a run executes
type RunSpec struct {
	Mode       RunMode           `yaml:"mode" json:"mode"`
	Command    []string          `yaml:"command,omitempty" json:"command,omitempty"`
	Prompt     string            `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Model      string            `yaml:"model,omitempty" json:"model,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Stdin      string            `yaml:"stdin,omitempty" json:"stdin,omitempty"`
	WorkdirRel string            `yaml:"workdir_rel,omitempty" json:"workdir_rel,omitempty"`

	// Worktree isolation inputs
	RepoID           string `yaml:"repo_id,omitempty" json:"repo_id,omitempty"`
	TaskID           string `yaml:"task_id,omitempty" json:"task_id,omitempty"`
	RequiresWorktree bool   `yaml:"requires_worktree_isolation,omitempty" json:"requires_worktree_isolation,omitempty"`
	MilestoneKind    string `yaml:"milestone_kind,omitempty" json:"milestone_kind,omitempty"`
}

// Run is a single subprocess invocation, identified by (project_id, run_id)
type Run struct {
	ProjectID      string        `yaml:"project_id" json:"project_id"`
	RunID          string        `yaml:"run_id" json:"run_id"`
	Provider       string        `yaml:"provider" json:"provider"`
	AgentID        string        `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	ContextPackID  string        `yaml:"context_pack_id,omitempty" json:"context_pack_id,omitempty"`
	Status         RunStatus     `yaml:"status" json:"status"`
	CreatedAt      time.Time     `yaml:"created_at" json:"created_at"`
	EndedAt        *time.Time    `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
	Spec           RunSpec       `yaml:"spec" json:"spec"`
	Usage          *UsageSummary `yaml:"usage,omitempty" json:"usage,omitempty"`
	ContextCycles  []string      `yaml:"context_cycles,omitempty" json:"context_cycles,omitempty"`
	BudgetExceeded bool          `yaml:"budget_exceeded,omitempty" json:"budget_exceeded,omitempty"`
	ExitCode       *int          `yaml:"exit_code,omitempty" json:"exit_code,omitempty"`
	Error          string        `yaml:"error,omitempty" json:"error,omitempty"`
}

// EventsRelpath is the run-relative location of the journal within a project.
func (r *Run) EventsRelpath() string {
	return fmt.Sprintf("runs/%s/events.jsonl", r.RunID)
}

// UsageSource describes where a usage summary came from
type UsageSource string

const (
	UsageSourceProviderReported UsageSource = "provider_reported"
	UsageSourceEstimatedChars   UsageSource = "estimated_chars"
)

// UsageConfidence grades a usage summary
type UsageConfidence string

const (
	UsageConfidenceHigh UsageConfidence = "high"
	UsageConfidenceLow  UsageConfidence = "low"
)

// UsageSummary is the token and cost accounting for a run
type UsageSummary struct {
	Source                UsageSource     `yaml:"source" json:"source"`
	Confidence            UsageConfidence `yaml:"confidence" json:"confidence"`
	Provider              string          `yaml:"provider" json:"provider"`
	InputTokens           int64           `yaml:"input_tokens,omitempty" json:"input_tokens,omitempty"`
	CachedInputTokens     int64           `yaml:"cached_input_tokens,omitempty" json:"cached_input_tokens,omitempty"`
	OutputTokens          int64           `yaml:"output_tokens,omitempty" json:"output_tokens,omitempty"`
	ReasoningOutputTokens int64           `yaml:"reasoning_output_tokens,omitempty" json:"reasoning_output_tokens,omitempty"`
	TotalTokens           int64           `yaml:"total_tokens" json:"total_tokens"`
	CostUSD               *float64        `yaml:"cost_usd,omitempty" json:"cost_usd,omitempty"`
	CostSource            string          `yaml:"cost_source,omitempty" json:"cost_source,omitempty"`
	RateCardProvider      string          `yaml:"rate_card_provider,omitempty" json:"rate_card_provider,omitempty"`
	Model                 string          `yaml:"model,omitempty" json:"model,omitempty"`
}

// DedupKey identifies duplicate provider usage reports within one run
func (u *UsageSummary) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d|%d|%d|%d|%d",
		u.Source, u.Provider, u.InputTokens, u.CachedInputTokens,
		u.OutputTokens, u.ReasoningOutputTokens, u.TotalTokens)
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobKind distinguishes execution jobs from heartbeat triage jobs
type JobKind string

const (
	JobKindExecution JobKind = "execution"
	JobKindHeartbeat JobKind = "heartbeat"
)

// JobSpec is the user-provided definition of a job
type JobSpec struct {
	Goal            string   `yaml:"goal" json:"goal"`
	Constraints     []string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Deliverables    []string `yaml:"deliverables,omitempty" json:"deliverables,omitempty"`
	WorkerKind      string   `yaml:"worker_kind" json:"worker_kind"`
	WorkerAgentID   string   `yaml:"worker_agent_id,omitempty" json:"worker_agent_id,omitempty"`
	PermissionLevel string   `yaml:"permission_level,omitempty" json:"permission_level,omitempty"`
	ContextRefs     []string `yaml:"context_refs,omitempty" json:"context_refs,omitempty"`
	JobKind         JobKind  `yaml:"job_kind" json:"job_kind"`
}

// JobAttempt records one run made on behalf of a job
type JobAttempt struct {
	Number       int        `yaml:"number" json:"number"`
	RunID        string     `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	Provider     string     `yaml:"provider" json:"provider"`
	OutputFormat string     `yaml:"output_format" json:"output_format"`
	StartedAt    time.Time  `yaml:"started_at" json:"started_at"`
	EndedAt      *time.Time `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
	Status       string     `yaml:"status" json:"status"`
	Error        string     `yaml:"error,omitempty" json:"error,omitempty"`
}

// Job wraps a bounded sequence of run attempts seeking a schema-valid result
type Job struct {
	JobID                 string       `yaml:"job_id" json:"job_id"`
	ProjectID             string       `yaml:"project_id" json:"project_id"`
	Spec                  JobSpec      `yaml:"spec" json:"spec"`
	Status                JobStatus    `yaml:"status" json:"status"`
	CancellationRequested bool         `yaml:"cancellation_requested,omitempty" json:"cancellation_requested,omitempty"`
	CurrentAttempt        int          `yaml:"current_attempt" json:"current_attempt"`
	Attempts              []JobAttempt `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	FinalResultRelpath    string       `yaml:"final_result_relpath,omitempty" json:"final_result_relpath,omitempty"`
	CreatedAt             time.Time    `yaml:"created_at" json:"created_at"`
	EndedAt               *time.Time   `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
}

// ResultStatus is the worker-declared outcome of a job
type ResultStatus string

const (
	ResultSucceeded  ResultStatus = "succeeded"
	ResultFailed     ResultStatus = "failed"
	ResultBlocked    ResultStatus = "blocked"
	ResultNeedsInput ResultStatus = "needs_input"
	ResultCanceled   ResultStatus = "canceled"
)

// ResultError is a coded error inside a structured result
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the structured output contract a worker must satisfy
type Result struct {
	Status       ResultStatus  `json:"status"`
	Summary      string        `json:"summary"`
	FilesChanged []string      `json:"files_changed,omitempty"`
	CommandsRun  []string      `json:"commands_run,omitempty"`
	Artifacts    []string      `json:"artifacts,omitempty"`
	NextActions  []string      `json:"next_actions,omitempty"`
	Errors       []ResultError `json:"errors,omitempty"`
}

// HeartbeatAction is one follow-up a worker declares in a triage report
type HeartbeatAction struct {
	Kind           string `json:"kind"`
	Goal           string `json:"goal"`
	ProjectID      string `json:"project_id,omitempty"`
	TaskID         string `json:"task_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// HeartbeatReport is the structured form a woken worker must produce
type HeartbeatReport struct {
	Status  string            `json:"status"` // "ok" or "actions"
	Summary string            `json:"summary"`
	Actions []HeartbeatAction `json:"actions,omitempty"`
}
