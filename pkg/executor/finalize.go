package executor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentcompany/agentcompany/pkg/budget"
	"github.com/agentcompany/agentcompany/pkg/metrics"
	"github.com/agentcompany/agentcompany/pkg/security"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// finalize settles a run: usage selection, cost, budget evaluation with
// hard-exceed promotion, terminal status, exactly one terminal event.
// It always returns the run record, already persisted.
func (e *Engine) finalize(st *runState) *types.Run {
	st.mu.Lock()
	reported := st.reported
	stdinChars, stdoutChars, stderrChars := st.stdinChars, st.stdoutChars, st.stderrChars
	exitCode := st.exitCode
	completion := st.completion
	errText := st.errText
	st.mu.Unlock()

	final := budget.SelectPreferred(reported)
	if final == nil {
		final = budget.EstimateFromChars(st.req.Provider, stdinChars, stdoutChars, stderrChars)
		st.emit(types.EventUsageEstimated, final)
	}
	if budget.AttachCost(final, st.req.RateCards) {
		st.emit(types.EventUsageCostComputed, final)
	}

	tokenUsagePath := filepath.Join(e.ws.OutputsDir(st.run.ProjectID, st.run.RunID), "token_usage.json")
	if data, err := json.MarshalIndent(final, "", "  "); err == nil {
		if err := os.WriteFile(tokenUsagePath, data, 0644); err != nil {
			st.logger.Error().Err(err).Msg("Failed to write token_usage.json")
		}
	}

	stopped := false
	if _, err := os.Stat(e.ws.StopFlagFile(st.run.ProjectID, st.run.RunID)); err == nil {
		stopped = true
	}

	status := provisionalStatus(st.req.Spec.Mode, stopped, exitCode, completion, errText)

	decision := budget.Evaluate(final, st.req.Limits)
	if decision.SoftExceeded {
		st.emit(types.EventBudgetAlert, decision)
	}
	if decision.HardExceeded {
		st.emit(types.EventBudgetExceeded, decision)
		st.run.BudgetExceeded = true
		// The only permitted post-provisional transition.
		if status == types.RunStatusEnded {
			status = types.RunStatusFailed
		}
	}
	if limitsConfigured(st.req.Limits) {
		st.emit(types.EventBudgetDecision, decision)
	}

	now := time.Now().UTC()
	st.run.Status = status
	st.run.EndedAt = &now
	st.run.Usage = final
	st.run.ExitCode = exitCode
	st.run.Error = errText
	if err := e.ws.SaveRun(st.run); err != nil {
		st.logger.Error().Err(err).Msg("Failed to persist final run record")
	}

	e.proposeMemoryCandidates(st, status, errText)

	terminalPayload := map[string]interface{}{
		"status":          string(status),
		"stopped":         stopped,
		"budget_exceeded": st.run.BudgetExceeded,
	}
	if exitCode != nil {
		terminalPayload["exit_code"] = *exitCode
	}
	if errText != "" {
		terminalPayload["error"] = errText
	}
	switch status {
	case types.RunStatusStopped:
		st.emit(types.EventRunStopped, terminalPayload)
	case types.RunStatusEnded:
		st.emit(types.EventRunEnded, terminalPayload)
	default:
		st.emit(types.EventRunFailed, terminalPayload)
	}

	if err := st.w.Close(); err != nil {
		st.logger.Error().Err(err).Msg("Failed to close journal")
	}

	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	metrics.RunDuration.WithLabelValues(st.req.Provider).Observe(time.Since(st.started).Seconds())
	st.logger.Info().
		Str("status", string(status)).
		Int64("total_tokens", final.TotalTokens).
		Msg("Run finalized")
	return st.run
}

// proposeMemoryCandidates turns a failed run's error text and stderr
// tail into a proposed mistake delta for the agent. Secret-looking
// spans are dropped before anything is persisted; the event carries
// only the per-pattern match counts.
func (e *Engine) proposeMemoryCandidates(st *runState, status types.RunStatus, errText string) {
	if st.req.AgentID == "" || status != types.RunStatusFailed {
		return
	}
	source := strings.TrimSpace(errText)
	if tail := e.readStderrTail(st.run.ProjectID, st.run.RunID, 1024); tail != "" {
		if source != "" {
			source += "\n"
		}
		source += tail
	}
	if source == "" {
		return
	}

	content, matches := security.RedactSecrets(source)
	delta := &types.MemoryDelta{
		DeltaID:   workspace.NewID("delta"),
		AgentID:   st.req.AgentID,
		Kind:      "mistake",
		Content:   content,
		Status:    types.MemoryDeltaProposed,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.ws.SaveMemoryDelta(delta); err != nil {
		st.logger.Error().Err(err).Msg("Failed to persist memory candidate")
		return
	}
	st.emit(types.EventMemoryCandidates, map[string]interface{}{
		"agent_id":       st.req.AgentID,
		"delta_ids":      []string{delta.DeltaID},
		"secret_matches": matches,
	})
}

func (e *Engine) readStderrTail(projectID, runID string, max int) string {
	data, err := os.ReadFile(filepath.Join(e.ws.OutputsDir(projectID, runID), "stderr.txt"))
	if err != nil {
		return ""
	}
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// provisionalStatus applies the terminal-status rules before budget
// promotion: stopped wins; command mode keys off exit code, app-server
// off the turn completion status.
func provisionalStatus(mode types.RunMode, stopped bool, exitCode *int, completion, errText string) types.RunStatus {
	if stopped {
		return types.RunStatusStopped
	}
	if mode == types.RunModeAppServer {
		if completion == "completed" {
			return types.RunStatusEnded
		}
		return types.RunStatusFailed
	}
	if exitCode != nil && *exitCode == 0 && errText == "" {
		return types.RunStatusEnded
	}
	return types.RunStatusFailed
}

func limitsConfigured(l types.BudgetLimits) bool {
	return l.SoftTokens > 0 || l.HardTokens > 0 || l.SoftUSD > 0 || l.HardUSD > 0
}
