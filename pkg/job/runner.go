package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentcompany/agentcompany/pkg/executor"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/metrics"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

const maxAttempts = 3

// Executor runs one subprocess to a terminal state. The execution
// engine satisfies it; tests substitute fakes.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (*types.Run, error)
}

// Backpressure is one classified non-terminal failure reported to the
// lane admission gate.
type Backpressure struct {
	Provider string
	Class    string
}

// ReportSink receives validated heartbeat reports for ingestion by the
// heartbeat scheduler.
type ReportSink func(projectID string, j *types.Job, report *types.HeartbeatReport)

// Runner executes jobs against one workspace. Attempts of a job run
// sequentially; distinct jobs run in parallel.
type Runner struct {
	ws            *workspace.Workspace
	exec          Executor
	contractModes map[string]string
	reportSink    ReportSink
	logger        zerolog.Logger

	backpressureCh chan Backpressure

	mu     sync.Mutex
	active map[string]*slot
}

type slot struct {
	job    *types.Job
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewRunner creates a job runner. contractModes maps provider →
// contract mode; nil uses the two known structured-output families.
func NewRunner(ws *workspace.Workspace, exec Executor, contractModes map[string]string) *Runner {
	if contractModes == nil {
		contractModes = map[string]string{
			"codex":  ContractProviderSchema,
			"claude": ContractProviderSchema,
		}
	}
	return &Runner{
		ws:             ws,
		exec:           exec,
		contractModes:  contractModes,
		logger:         log.WithComponent("job-runner"),
		backpressureCh: make(chan Backpressure, 64),
		active:         make(map[string]*slot),
	}
}

// SetReportSink wires heartbeat report ingestion; call before Submit.
func (r *Runner) SetReportSink(sink ReportSink) {
	r.reportSink = sink
}

// Backpressure exposes the classified-failure channel to the lane gate.
func (r *Runner) Backpressure() <-chan Backpressure {
	return r.backpressureCh
}

func slotKey(projectID, jobID string) string {
	return projectID + "/" + jobID
}

// snapshotJob copies a job record so callers never share memory with
// the attempt loop. Call with r.mu held.
func snapshotJob(j *types.Job) *types.Job {
	c := *j
	c.Attempts = append([]types.JobAttempt(nil), j.Attempts...)
	c.Spec.ContextRefs = append([]string(nil), j.Spec.ContextRefs...)
	c.Spec.Constraints = append([]string(nil), j.Spec.Constraints...)
	c.Spec.Deliverables = append([]string(nil), j.Spec.Deliverables...)
	return &c
}

func (r *Runner) cancelRequested(j *types.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return j.CancellationRequested
}

// Submit creates (or resumes) a job and starts its attempt loop. When
// jobID names an already-active slot, the existing record is returned
// and no new attempt starts.
func (r *Runner) Submit(projectID, jobID string, spec types.JobSpec) (*types.Job, error) {
	if spec.Goal == "" {
		return nil, fmt.Errorf("job goal is required")
	}
	if jobID == "" {
		jobID = workspace.NewID("job")
	}

	r.mu.Lock()
	if s, ok := r.active[slotKey(projectID, jobID)]; ok {
		j := snapshotJob(s.job)
		r.mu.Unlock()
		return j, nil
	}

	j := &types.Job{
		JobID:     jobID,
		ProjectID: projectID,
		Spec:      spec,
		Status:    types.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &slot{job: j, cancel: cancel, doneCh: make(chan struct{})}
	r.active[slotKey(projectID, jobID)] = s
	snap := snapshotJob(j)
	r.mu.Unlock()

	if err := r.ws.SaveJob(snap); err != nil {
		r.release(projectID, jobID)
		cancel()
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	go r.runJob(ctx, s)
	return snap, nil
}

// Cancel requests cancellation of an active job. Unknown or already
// terminal jobs are a no-op.
func (r *Runner) Cancel(projectID, jobID string) error {
	r.mu.Lock()
	s, ok := r.active[slotKey(projectID, jobID)]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	s.job.CancellationRequested = true
	snap := snapshotJob(s.job)
	r.mu.Unlock()

	if err := r.ws.SaveJob(snap); err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist cancellation flag")
	}
	s.cancel()
	return nil
}

// Poll returns a point-in-time copy of the job's current record.
func (r *Runner) Poll(projectID, jobID string) (*types.Job, error) {
	r.mu.Lock()
	if s, ok := r.active[slotKey(projectID, jobID)]; ok {
		j := snapshotJob(s.job)
		r.mu.Unlock()
		return j, nil
	}
	r.mu.Unlock()
	return r.ws.LoadJob(projectID, jobID)
}

// Collect waits for the job to reach a terminal state and returns the
// final record with its structured result.
func (r *Runner) Collect(ctx context.Context, projectID, jobID string) (*types.Job, *types.Result, error) {
	r.mu.Lock()
	s, active := r.active[slotKey(projectID, jobID)]
	r.mu.Unlock()
	if active {
		select {
		case <-s.doneCh:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	j, err := r.ws.LoadJob(projectID, jobID)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(r.ws.JobResultFile(projectID, jobID))
	if err != nil {
		return j, nil, fmt.Errorf("job has no result yet: %w", err)
	}
	var result types.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return j, nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return j, &result, nil
}

// List returns every job of a project, active records taking precedence
// over their on-disk copies.
func (r *Runner) List(projectID string) ([]*types.Job, error) {
	ids, err := r.ws.ListJobs(projectID)
	if err != nil {
		return nil, err
	}
	var jobs []*types.Job
	for _, id := range ids {
		j, err := r.Poll(projectID, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].JobID < jobs[k].JobID })
	return jobs, nil
}

func (r *Runner) release(projectID, jobID string) {
	r.mu.Lock()
	delete(r.active, slotKey(projectID, jobID))
	r.mu.Unlock()
}

// runJob drives the attempt loop for one job.
func (r *Runner) runJob(ctx context.Context, s *slot) {
	j := s.job
	logger := log.WithJob(j.ProjectID, j.JobID)
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()
	defer close(s.doneCh)
	defer r.release(j.ProjectID, j.JobID)

	r.mu.Lock()
	j.Status = types.JobStatusRunning
	snap := snapshotJob(j)
	r.mu.Unlock()
	if err := r.ws.SaveJob(snap); err != nil {
		logger.Error().Err(err).Msg("Failed to persist running status")
	}

	machine, err := r.ws.LoadMachineConfig()
	if err != nil {
		machine = &types.MachineConfig{}
	}

	var (
		lastRaw       string
		lastErrors    []string
		everExtracted bool
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil || r.cancelRequested(j) {
			r.finalizeCanceled(j, logger)
			return
		}

		agentID, provider := r.resolveWorker(j.Spec, attempt)
		mode := r.contractModes[provider]
		if mode == "" {
			mode = ContractPromptOnly
		}
		prompt := composePrompt(j.Spec, mode, attempt, lastRaw, lastErrors)

		rec := types.JobAttempt{
			Number:       attempt,
			Provider:     provider,
			OutputFormat: mode,
			StartedAt:    time.Now().UTC(),
		}
		r.mu.Lock()
		j.CurrentAttempt = attempt
		r.mu.Unlock()

		bin := machine.ProviderBins[provider]
		if bin == "" {
			rec.Status = "error"
			rec.Error = fmt.Sprintf("provider binary not configured for %q", provider)
			lastErrors = append(lastErrors, rec.Error)
			r.closeAttempt(j, rec, logger)
			metrics.JobAttemptsTotal.WithLabelValues("error").Inc()
			continue
		}

		run, execErr := r.exec.Execute(ctx, executor.Request{
			ProjectID:  j.ProjectID,
			AgentID:    agentID,
			SessionRef: j.JobID,
			Provider:   provider,
			Spec: types.RunSpec{
				Mode:    types.RunModeCommand,
				Command: []string{bin},
				Stdin:   prompt,
			},
			Limits:    machine.Budget,
			RateCards: machine.RateCards,
		})

		var raw, failureText string
		if run != nil {
			rec.RunID = run.RunID
			raw = r.readRunOutput(j.ProjectID, run.RunID)
			failureText = run.Error + "\n" + r.readRunStderr(j.ProjectID, run.RunID)
		}
		if execErr != nil {
			failureText += "\n" + execErr.Error()
		}

		if strings.Contains(failureText, "subscription_unverified") {
			rec.Status = "blocked"
			rec.Error = "subscription_unverified"
			r.closeAttempt(j, rec, logger)
			metrics.JobAttemptsTotal.WithLabelValues("blocked").Inc()
			r.finalizeWithResult(j, &types.Result{
				Status:  types.ResultBlocked,
				Summary: "Provider subscription could not be verified.",
				Errors:  []types.ResultError{{Code: "subscription_unverified", Message: "provider preflight failed"}},
			}, nil, logger)
			return
		}

		if ctx.Err() != nil || r.cancelRequested(j) {
			rec.Status = "canceled"
			r.closeAttempt(j, rec, logger)
			metrics.JobAttemptsTotal.WithLabelValues("canceled").Inc()
			r.finalizeCanceled(j, logger)
			return
		}

		if candidate, ok := ExtractJSONCandidate(raw); ok {
			everExtracted = true
			if j.Spec.JobKind == types.JobKindHeartbeat {
				report, errs := ValidateHeartbeatReport([]byte(candidate))
				if report != nil {
					rec.Status = "valid"
					r.closeAttempt(j, rec, logger)
					metrics.JobAttemptsTotal.WithLabelValues("valid").Inc()
					r.finalizeWithResult(j, resultFromReport(report), report, logger)
					return
				}
				lastErrors = append(lastErrors, errs...)
			} else {
				result, errs := ValidateResult([]byte(candidate))
				if result != nil {
					rec.Status = "valid"
					r.closeAttempt(j, rec, logger)
					metrics.JobAttemptsTotal.WithLabelValues("valid").Inc()
					r.finalizeWithResult(j, result, nil, logger)
					return
				}
				lastErrors = append(lastErrors, errs...)
			}
		} else {
			lastErrors = append(lastErrors, fmt.Sprintf("attempt %d: no JSON object found in output", attempt))
		}
		lastRaw = raw

		rec.Status = "invalid"
		if run != nil && run.Status == types.RunStatusFailed {
			class := Classify(failureText)
			if class != ClassAuth {
				r.reportBackpressure(provider, class)
			}
			rec.Error = strings.TrimSpace(failureText)
		}
		r.closeAttempt(j, rec, logger)
		metrics.JobAttemptsTotal.WithLabelValues("invalid").Inc()
	}

	// Exhausted attempts without a valid structured output.
	code := "result_schema_invalid"
	if !everExtracted {
		code = "result_unparseable"
	}
	resultErrors := []types.ResultError{}
	for _, e := range lastErrors {
		resultErrors = append(resultErrors, types.ResultError{Code: code, Message: e})
	}
	r.finalizeWithResult(j, &types.Result{
		Status:  types.ResultNeedsInput,
		Summary: "Worker output never satisfied the result contract after three attempts.",
		Errors:  resultErrors,
	}, nil, logger)
}

// closeAttempt stamps and persists one finished attempt.
func (r *Runner) closeAttempt(j *types.Job, rec types.JobAttempt, logger zerolog.Logger) {
	now := time.Now().UTC()
	rec.EndedAt = &now
	r.mu.Lock()
	j.Attempts = append(j.Attempts, rec)
	snap := snapshotJob(j)
	r.mu.Unlock()
	if err := r.ws.SaveJob(snap); err != nil {
		logger.Error().Err(err).Int("attempt", rec.Number).Msg("Failed to persist attempt")
	}
}

// finalizeWithResult writes result.json (and heartbeat_report.json for
// triage jobs), the manager digest, and the final record — in that
// order, so final_result_relpath is set before completed is visible.
func (r *Runner) finalizeWithResult(j *types.Job, result *types.Result, report *types.HeartbeatReport, logger zerolog.Logger) {
	resultPath := r.ws.JobResultFile(j.ProjectID, j.JobID)
	if data, err := json.MarshalIndent(result, "", "  "); err == nil {
		if err := os.WriteFile(resultPath, data, 0644); err != nil {
			logger.Error().Err(err).Msg("Failed to write result.json")
		}
	}
	if report != nil {
		if data, err := json.MarshalIndent(report, "", "  "); err == nil {
			if err := os.WriteFile(r.ws.JobHeartbeatReportFile(j.ProjectID, j.JobID), data, 0644); err != nil {
				logger.Error().Err(err).Msg("Failed to write heartbeat_report.json")
			}
		}
	}
	now := time.Now().UTC()
	r.mu.Lock()
	j.FinalResultRelpath = filepath.Join("jobs", j.JobID, "result.json")
	if result.Status == types.ResultCanceled {
		j.Status = types.JobStatusCanceled
	} else {
		j.Status = types.JobStatusCompleted
	}
	j.EndedAt = &now
	snap := snapshotJob(j)
	r.mu.Unlock()

	if err := writeDigest(r.ws, snap, result); err != nil {
		logger.Error().Err(err).Msg("Failed to write manager digest")
	}
	if err := r.ws.SaveJob(snap); err != nil {
		logger.Error().Err(err).Msg("Failed to persist final job record")
	}

	metrics.JobsCompletedTotal.WithLabelValues(string(result.Status)).Inc()
	logger.Info().
		Str("result_status", string(result.Status)).
		Int("attempts", len(snap.Attempts)).
		Msg("Job finalized")

	if report != nil && r.reportSink != nil {
		r.reportSink(snap.ProjectID, snap, report)
	}
}

func (r *Runner) finalizeCanceled(j *types.Job, logger zerolog.Logger) {
	r.finalizeWithResult(j, &types.Result{
		Status:  types.ResultCanceled,
		Summary: "Job was canceled before producing a result.",
	}, nil, logger)
}

// resolveWorker picks the agent and provider for an attempt. Attempt 3
// prefers a codex-family reformatter, falling back to claude-family,
// before settling on the primary worker.
func (r *Runner) resolveWorker(spec types.JobSpec, attempt int) (agentID, provider string) {
	agents, _ := r.ws.ListAgents()

	if attempt >= maxAttempts {
		for _, family := range []string{"codex", "claude"} {
			for _, a := range agents {
				if strings.Contains(a.Provider, family) {
					return a.ID, a.Provider
				}
			}
		}
	}

	if spec.WorkerAgentID != "" {
		for _, a := range agents {
			if a.ID == spec.WorkerAgentID {
				return a.ID, a.Provider
			}
		}
	}
	for _, a := range agents {
		if a.Provider == spec.WorkerKind {
			return a.ID, a.Provider
		}
	}
	return "", spec.WorkerKind
}

func (r *Runner) reportBackpressure(provider, class string) {
	metrics.ProviderBackpressureTotal.WithLabelValues(provider, class).Inc()
	select {
	case r.backpressureCh <- Backpressure{Provider: provider, Class: class}:
	default:
	}
}

func (r *Runner) readRunOutput(projectID, runID string) string {
	data, err := os.ReadFile(filepath.Join(r.ws.OutputsDir(projectID, runID), "stdout.txt"))
	if err != nil {
		return ""
	}
	return string(data)
}

func (r *Runner) readRunStderr(projectID, runID string) string {
	data, err := os.ReadFile(filepath.Join(r.ws.OutputsDir(projectID, runID), "stderr.txt"))
	if err != nil {
		return ""
	}
	return string(data)
}

// resultFromReport adapts a validated heartbeat report into the job's
// result contract.
func resultFromReport(report *types.HeartbeatReport) *types.Result {
	var next []string
	for _, a := range report.Actions {
		next = append(next, fmt.Sprintf("%s: %s", a.Kind, a.Goal))
	}
	return &types.Result{
		Status:      types.ResultSucceeded,
		Summary:     report.Summary,
		NextActions: next,
	}
}
