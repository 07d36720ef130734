package heartbeat

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/metrics"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// JobSubmitter is the slice of the job runner the scheduler needs.
type JobSubmitter interface {
	Submit(projectID, jobID string, spec types.JobSpec) (*types.Job, error)
}

// Service runs the periodic triage loop for one workspace.
type Service struct {
	ws     *workspace.Workspace
	runner JobSubmitter
	ledger *Ledger
	logger zerolog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	// tickMu guarantees ticks never overlap even when a scan outlasts
	// the interval.
	tickMu sync.Mutex
	// stateMu serializes state.yaml read-modify-write between ticks and
	// report ingestion, which runs on job-runner goroutines.
	stateMu sync.Mutex
	// ledgerMu guards the lazily opened ledger handle against Stop.
	ledgerMu sync.Mutex

	// now is swapped in tests
	now func() time.Time
	// jitter sleeps before each wake; nil means no delay
	jitter func()
}

// NewService creates the triage scheduler. The ledger is opened lazily
// on first ingest with actions.
func NewService(ws *workspace.Workspace, runner JobSubmitter) *Service {
	s := &Service{
		ws:     ws,
		runner: runner,
		logger: log.WithComponent("heartbeat"),
		now:    time.Now,
	}
	s.jitter = func() {
		cfg, err := LoadConfig(ws)
		if err != nil || cfg.JitterMaxSeconds <= 0 {
			return
		}
		time.Sleep(time.Duration(rand.Intn(cfg.JitterMaxSeconds*1000)) * time.Millisecond)
	}
	return s
}

// Start schedules ticks at the configured interval.
func (s *Service) Start() error {
	cfg, err := LoadConfig(s.ws)
	if err != nil {
		return err
	}
	interval := cfg.TickIntervalMinutes
	if interval <= 0 {
		interval = 15
	}
	s.cron = cron.New()
	s.entryID, err = s.cron.AddFunc(fmt.Sprintf("@every %dm", interval), func() {
		if err := s.Tick(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("heartbeat tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule heartbeat ticks: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Int("interval_minutes", interval).Msg("heartbeat scheduler started")
	return nil
}

// Stop halts the scheduler; a tick in flight finishes.
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.ledgerMu.Lock()
	if s.ledger != nil {
		s.ledger.Close()
		s.ledger = nil
	}
	s.ledgerMu.Unlock()
	s.logger.Info().Msg("heartbeat scheduler stopped")
}

// Tick performs one triage pass: score, filter, wake. Overlapping calls
// are rejected rather than queued.
func (s *Service) Tick(ctx context.Context) error {
	if !s.tickMu.TryLock() {
		s.logger.Warn().Msg("heartbeat tick still running, skipping")
		return nil
	}
	defer s.tickMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Config is re-read every tick so edits to config.yaml take effect
	// without a restart.
	cfg, err := LoadConfig(s.ws)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	state, err := LoadState(s.ws)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	candidates, cursors, err := computeCandidates(s.ws, cfg, state, now)
	if err != nil {
		return fmt.Errorf("failed to compute wake candidates: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	quiet := inQuietHours(now.Hour(), cfg.QuietHoursStartHour, cfg.QuietHoursEndHour)
	quietThreshold := 2 * cfg.MinWakeScore

	var eligible []Candidate
	for _, c := range candidates {
		if c.Score < cfg.MinWakeScore {
			continue
		}
		if quiet && c.Score < quietThreshold {
			continue
		}
		if suppressed(state.Worker(c.AgentID), c.ContextHash, now) {
			metrics.HeartbeatSuppressedTotal.Inc()
			s.logger.Debug().Str("agent_id", c.AgentID).Msg("wake suppressed")
			continue
		}
		eligible = append(eligible, c)
	}

	rank(eligible)
	topK := cfg.TopKWorkers
	if topK > 0 && len(eligible) > topK {
		eligible = eligible[:topK]
	}

	for _, c := range eligible {
		// An aborted tick leaves state unsaved so the next pass re-scans
		// the same signals instead of dropping them.
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.jitter != nil {
			s.jitter()
		}
		if err := s.wake(c); err != nil {
			s.logger.Error().Err(err).Str("agent_id", c.AgentID).Msg("failed to wake worker")
			continue
		}
		w := state.Worker(c.AgentID)
		w.LastContextHash = c.ContextHash
		state.WakesTotal++
		metrics.HeartbeatWakesTotal.Inc()
	}

	state.RunEventCursors = cursors
	state.Ticks++
	state.LastTickAt = &now
	metrics.HeartbeatTicksTotal.Inc()

	if err := SaveState(s.ws, state); err != nil {
		return fmt.Errorf("failed to persist heartbeat state: %w", err)
	}
	s.logger.Info().
		Int("candidates", len(candidates)).
		Int("woken", len(eligible)).
		Bool("quiet", quiet).
		Msg("heartbeat tick complete")
	return nil
}

// wake submits a heartbeat job for the candidate. Heartbeat jobs are
// filed under the first project so they have a journal home; the
// triage prompt itself is workspace-wide.
func (s *Service) wake(c Candidate) error {
	projects, err := s.ws.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		return fmt.Errorf("no project to attach heartbeat job to")
	}
	agent, err := s.ws.LoadAgent(c.AgentID)
	if err != nil {
		return err
	}
	spec := types.JobSpec{
		Goal:          triageGoal(c),
		WorkerKind:    agent.Provider,
		WorkerAgentID: c.AgentID,
		JobKind:       types.JobKindHeartbeat,
	}
	_, err = s.runner.Submit(projects[0].ID, "", spec)
	return err
}

func triageGoal(c Candidate) string {
	var b strings.Builder
	b.WriteString("Triage your current workload and report back.")
	if len(c.Signals) > 0 {
		b.WriteString(" Signals observed: ")
		b.WriteString(strings.Join(c.Signals, ", "))
		b.WriteString(".")
	}
	return b.String()
}
