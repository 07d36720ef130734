package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentcompany/agentcompany/pkg/events"
	"github.com/agentcompany/agentcompany/pkg/journal"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/metrics"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// Request describes one subprocess invocation.
type Request struct {
	ProjectID  string
	RunID      string // generated when empty
	AgentID    string
	SessionRef string
	Provider   string
	Spec       types.RunSpec
	Limits     types.BudgetLimits
	RateCards  []types.RateCard
	RepoPath   string // repo root for worktree and context-pack snapshot
}

// Engine executes runs against a workspace. One Execute call owns its
// run's journal for the run's whole lifetime.
type Engine struct {
	ws  *workspace.Workspace
	bus *events.Bus
}

// NewEngine creates an execution engine.
func NewEngine(ws *workspace.Workspace, bus *events.Bus) *Engine {
	return &Engine{ws: ws, bus: bus}
}

// runState is the mutable context of one executing run, shared between
// the tee goroutines, the stop controller and finalization.
type runState struct {
	ws     *workspace.Workspace
	run    *types.Run
	req    Request
	w      *journal.Writer
	logger zerolog.Logger

	mu          sync.Mutex
	dedup       map[string]bool
	reported    []*types.UsageSummary
	cycles      map[string]bool
	stdinChars  int64
	stdoutChars int64
	stderrChars int64
	exitCode    *int
	completion  string // app-server turn status
	errText     string
	started     time.Time
}

// emit appends one system event to the run's journal. Emission is
// best-effort observability: failures are logged, never fatal.
func (st *runState) emit(typ types.EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		st.logger.Error().Err(err).Str("type", string(typ)).Msg("Failed to marshal event payload")
		return
	}
	env := types.NewEnvelope(st.run.RunID, st.req.SessionRef, types.ActorSystem,
		types.VisibilityTeam, typ, data)
	if _, err := st.w.Append(env); err != nil {
		st.logger.Error().Err(err).Str("type", string(typ)).Msg("Failed to append event")
		return
	}
	metrics.EventsAppendedTotal.Inc()
}

// ingestUsage deduplicates a provider usage report and emits
// usage.reported for the first occurrence of each tuple.
func (st *runState) ingestUsage(u *types.UsageSummary) {
	if u == nil {
		return
	}
	st.mu.Lock()
	key := u.DedupKey()
	if st.dedup[key] {
		st.mu.Unlock()
		return
	}
	st.dedup[key] = true
	st.reported = append(st.reported, u)
	st.mu.Unlock()

	st.emit(types.EventUsageReported, u)
}

// noteCycle records a provider context-cycle signal, emitting one
// context.cycle.detected per new signal kind.
func (st *runState) noteCycle(kind string) {
	st.mu.Lock()
	if st.cycles[kind] {
		st.mu.Unlock()
		return
	}
	st.cycles[kind] = true
	st.mu.Unlock()

	st.run.ContextCycles = append(st.run.ContextCycles, kind)
	st.emit(types.EventContextCycleDetected, map[string]string{"kind": kind})
}

func (st *runState) addChars(stream string, n int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch stream {
	case "stdout":
		st.stdoutChars += n
	case "stderr":
		st.stderrChars += n
	}
}

// Execute runs the request to a terminal state. The returned run record
// reflects the final status; an error is returned only when the engine
// could not set up or observe the run, not when the subprocess fails.
func (e *Engine) Execute(ctx context.Context, req Request) (*types.Run, error) {
	if req.RunID == "" {
		req.RunID = workspace.NewID("run")
	}
	if err := validateSpec(req.Spec); err != nil {
		return nil, err
	}

	run := &types.Run{
		ProjectID:     req.ProjectID,
		RunID:         req.RunID,
		Provider:      req.Provider,
		AgentID:       req.AgentID,
		Status:        types.RunStatusRunning,
		CreatedAt:     time.Now().UTC(),
		Spec:          req.Spec,
		ContextPackID: "",
	}
	if err := os.MkdirAll(e.ws.OutputsDir(req.ProjectID, req.RunID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run outputs: %w", err)
	}
	if err := e.ws.SaveRun(run); err != nil {
		return nil, fmt.Errorf("failed to write run record: %w", err)
	}

	w, err := journal.OpenWriter(e.ws.EventsFile(req.ProjectID, req.RunID), e.bus)
	if err != nil {
		return nil, err
	}

	st := &runState{
		ws:      e.ws,
		run:     run,
		req:     req,
		w:       w,
		logger:  log.WithRun(req.ProjectID, req.RunID),
		dedup:   make(map[string]bool),
		cycles:  make(map[string]bool),
		started: time.Now(),
	}
	st.emit(types.EventRunStarted, map[string]string{
		"provider": req.Provider,
		"mode":     string(req.Spec.Mode),
		"agent_id": req.AgentID,
	})

	workdir, err := e.prepareWorkdir(st)
	if err != nil {
		// Setup failures are still a run outcome: finalize as failed so
		// the journal carries exactly one terminal event.
		st.errText = err.Error()
		return e.finalize(st), nil
	}
	e.snapshotContextPack(st)
	writeInputs(e.ws, st)

	st.emit(types.EventRunExecuting, map[string]string{"workdir": workdir})

	switch req.Spec.Mode {
	case types.RunModeAppServer:
		err = e.runAppServer(ctx, st, workdir)
	default:
		err = e.runCommand(ctx, st, workdir)
	}
	if err != nil && st.errText == "" {
		st.errText = err.Error()
	}

	return e.finalize(st), nil
}

func validateSpec(spec types.RunSpec) error {
	switch spec.Mode {
	case types.RunModeCommand:
		if len(spec.Command) == 0 {
			return fmt.Errorf("command mode requires argv")
		}
	case types.RunModeAppServer:
		if len(spec.Command) == 0 {
			return fmt.Errorf("app-server mode requires a provider binary")
		}
		if spec.Prompt == "" {
			return fmt.Errorf("app-server mode requires a prompt")
		}
	default:
		return fmt.Errorf("unknown run mode %q", spec.Mode)
	}
	return nil
}

// writeInputs persists stdin and prompt into outputs/ so a run is
// reproducible from its directory alone.
func writeInputs(ws *workspace.Workspace, st *runState) {
	out := ws.OutputsDir(st.run.ProjectID, st.run.RunID)
	if st.req.Spec.Stdin != "" {
		st.mu.Lock()
		st.stdinChars = int64(len(st.req.Spec.Stdin))
		st.mu.Unlock()
		if err := os.WriteFile(filepath.Join(out, "stdin.txt"), []byte(st.req.Spec.Stdin), 0644); err != nil {
			st.logger.Error().Err(err).Msg("Failed to write stdin.txt")
		}
	}
	if st.req.Spec.Prompt != "" {
		st.mu.Lock()
		st.stdinChars += int64(len(st.req.Spec.Prompt))
		st.mu.Unlock()
		if err := os.WriteFile(filepath.Join(out, "prompt.txt"), []byte(st.req.Spec.Prompt), 0644); err != nil {
			st.logger.Error().Err(err).Msg("Failed to write prompt.txt")
		}
	}
}

// mergedEnv layers the spec's env over the process environment.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
