package types

import "time"

// HeartbeatConfig tunes the triage scheduler. Persisted under
// .local/heartbeat/config.yaml.
type HeartbeatConfig struct {
	Enabled                bool `yaml:"enabled" json:"enabled"`
	TickIntervalMinutes    int  `yaml:"tick_interval_minutes" json:"tick_interval_minutes"`
	TopKWorkers            int  `yaml:"top_k_workers" json:"top_k_workers"`
	MinWakeScore           int  `yaml:"min_wake_score" json:"min_wake_score"`
	OKSuppressionMinutes   int  `yaml:"ok_suppression_minutes" json:"ok_suppression_minutes"`
	DueHorizonMinutes      int  `yaml:"due_horizon_minutes" json:"due_horizon_minutes"`
	MaxAutoActionsPerTick  int  `yaml:"max_auto_actions_per_tick" json:"max_auto_actions_per_tick"`
	MaxAutoActionsPerHour  int  `yaml:"max_auto_actions_per_hour" json:"max_auto_actions_per_hour"`
	QuietHoursStartHour    int  `yaml:"quiet_hours_start_hour" json:"quiet_hours_start_hour"`
	QuietHoursEndHour      int  `yaml:"quiet_hours_end_hour" json:"quiet_hours_end_hour"`
	StuckJobRunningMinutes int  `yaml:"stuck_job_running_minutes" json:"stuck_job_running_minutes"`
	IdempotencyTTLDays     int  `yaml:"idempotency_ttl_days" json:"idempotency_ttl_days"`
	JitterMaxSeconds       int  `yaml:"jitter_max_seconds" json:"jitter_max_seconds"`

	// ResultContractModes maps a provider family to the contract mode used
	// when running its workers ("provider_schema" or "prompt_only").
	// Providers absent from the table default to prompt_only.
	ResultContractModes map[string]string `yaml:"result_contract_modes,omitempty" json:"result_contract_modes,omitempty"`
}

// DefaultHeartbeatConfig returns the configuration used when no
// config.yaml exists yet.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Enabled:                true,
		TickIntervalMinutes:    15,
		TopKWorkers:            3,
		MinWakeScore:           1,
		OKSuppressionMinutes:   30,
		DueHorizonMinutes:      120,
		MaxAutoActionsPerTick:  3,
		MaxAutoActionsPerHour:  10,
		QuietHoursStartHour:    0,
		QuietHoursEndHour:      0, // start==end means no quiet window
		StuckJobRunningMinutes: 60,
		IdempotencyTTLDays:     7,
		JitterMaxSeconds:       20,
		ResultContractModes: map[string]string{
			"codex":  "provider_schema",
			"claude": "provider_schema",
		},
	}
}

// HeartbeatWorkerState is the per-worker suppression bookkeeping
type HeartbeatWorkerState struct {
	LastOKAt         *time.Time `yaml:"last_ok_at,omitempty" json:"last_ok_at,omitempty"`
	LastContextHash  string     `yaml:"last_context_hash,omitempty" json:"last_context_hash,omitempty"`
	SuppressedUntil  *time.Time `yaml:"suppressed_until,omitempty" json:"suppressed_until,omitempty"`
	LastReportStatus string     `yaml:"last_report_status,omitempty" json:"last_report_status,omitempty"`
}

// HeartbeatState is the per-workspace scheduler state, persisted under
// .local/heartbeat/state.yaml and reloaded on process start.
type HeartbeatState struct {
	Workers         map[string]*HeartbeatWorkerState `yaml:"workers,omitempty" json:"workers,omitempty"`
	RunEventCursors map[string]int64                 `yaml:"run_event_cursors,omitempty" json:"run_event_cursors,omitempty"`
	Ticks           int64                            `yaml:"ticks" json:"ticks"`
	WakesTotal      int64                            `yaml:"wakes_total" json:"wakes_total"`
	ActionsThisHour int                              `yaml:"actions_this_hour" json:"actions_this_hour"`
	HourMark        *time.Time                       `yaml:"hour_mark,omitempty" json:"hour_mark,omitempty"`
	LastTickAt      *time.Time                       `yaml:"last_tick_at,omitempty" json:"last_tick_at,omitempty"`
}

// Worker returns (allocating if needed) the state for an agent.
func (s *HeartbeatState) Worker(agentID string) *HeartbeatWorkerState {
	if s.Workers == nil {
		s.Workers = make(map[string]*HeartbeatWorkerState)
	}
	ws, ok := s.Workers[agentID]
	if !ok {
		ws = &HeartbeatWorkerState{}
		s.Workers[agentID] = ws
	}
	return ws
}
