package heartbeat

import (
	"fmt"
	"time"

	"github.com/agentcompany/agentcompany/pkg/types"
)

// Ingest consumes a validated triage report from a finished heartbeat
// job. Installed as the job runner's report sink.
//
// An "ok" report opens a suppression window for the worker. An
// "actions" report enqueues execution jobs, bounded by the per-tick and
// per-hour caps and deduplicated through the idempotency ledger.
func (s *Service) Ingest(projectID string, j *types.Job, report *types.HeartbeatReport) {
	cfg, err := LoadConfig(s.ws)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load config during report ingest")
		return
	}

	// Reports arrive on job-runner goroutines; the state read-modify-write
	// must not interleave with a tick or another report.
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	state, err := LoadState(s.ws)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load state during report ingest")
		return
	}

	agentID := j.Spec.WorkerAgentID
	now := s.now().UTC()
	w := state.Worker(agentID)
	w.LastReportStatus = report.Status

	switch report.Status {
	case "ok":
		until := now.Add(time.Duration(cfg.OKSuppressionMinutes) * time.Minute)
		w.LastOKAt = &now
		w.SuppressedUntil = &until
		s.logger.Debug().Str("agent_id", agentID).Time("until", until).Msg("worker reported ok")

	case "actions":
		w.SuppressedUntil = nil
		s.submitActions(projectID, agentID, report.Actions, cfg, state, now)
	}

	if err := SaveState(s.ws, state); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist state after report ingest")
	}
}

func (s *Service) submitActions(projectID, agentID string, actions []types.HeartbeatAction, cfg types.HeartbeatConfig, state *types.HeartbeatState, now time.Time) {
	// The hourly budget resets when the hour mark rolls over.
	if state.HourMark == nil || now.Sub(*state.HourMark) >= time.Hour {
		state.HourMark = &now
		state.ActionsThisHour = 0
	}

	ledger, err := s.openLedger()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to open idempotency ledger")
		return
	}
	ttl := time.Duration(cfg.IdempotencyTTLDays) * 24 * time.Hour

	submitted := 0
	for _, a := range actions {
		if submitted >= cfg.MaxAutoActionsPerTick {
			s.logger.Warn().Str("agent_id", agentID).Msg("per-tick action cap reached, dropping remainder")
			break
		}
		if state.ActionsThisHour >= cfg.MaxAutoActionsPerHour {
			s.logger.Warn().Str("agent_id", agentID).Msg("hourly action cap reached, dropping remainder")
			break
		}
		if a.Goal == "" {
			continue
		}
		ok, err := ledger.Acquire(a.IdempotencyKey, ttl)
		if err != nil {
			s.logger.Error().Err(err).Msg("idempotency ledger acquire failed")
			continue
		}
		if !ok {
			s.logger.Debug().Str("key", a.IdempotencyKey).Msg("action already claimed, skipping")
			continue
		}

		targetProject := a.ProjectID
		if targetProject == "" {
			targetProject = projectID
		}
		spec := types.JobSpec{
			Goal:          a.Goal,
			WorkerAgentID: agentID,
			JobKind:       types.JobKindExecution,
		}
		if a.TaskID != "" {
			spec.ContextRefs = []string{"task:" + a.TaskID}
		}
		if _, err := s.runner.Submit(targetProject, "", spec); err != nil {
			s.logger.Error().Err(err).Str("goal", a.Goal).Msg("failed to submit follow-up job")
			continue
		}
		submitted++
		state.ActionsThisHour++
	}
}

func (s *Service) openLedger() (*Ledger, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	if s.ledger != nil {
		return s.ledger, nil
	}
	l, err := OpenLedger(s.ws.HeartbeatLedgerFile())
	if err != nil {
		return nil, fmt.Errorf("failed to open heartbeat ledger: %w", err)
	}
	s.ledger = l
	return l, nil
}
