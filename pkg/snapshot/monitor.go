package snapshot

import (
	"time"

	"github.com/agentcompany/agentcompany/pkg/index"
)

// RunMonitor is one run's row in the monitor snapshot.
type RunMonitor struct {
	index.RunRow
	LastEventType string `json:"last_event_type,omitempty"`
	LastEventAt   string `json:"last_event_at,omitempty"`
	LastEventSeq  int64  `json:"last_event_seq,omitempty"`
	ParseErrors   int    `json:"parse_errors"`
}

// GovernanceCounters aggregates policy and budget activity for a project.
type GovernanceCounters struct {
	PolicyDenials   int `json:"policy_denials"`
	BudgetAlerts    int `json:"budget_alerts"`
	BudgetExceeds   int `json:"budget_exceeds"`
	BudgetDecisions int `json:"budget_decisions"`
}

// MonitorSnapshot is the live run-monitor view for one project.
type MonitorSnapshot struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	ProjectID    string             `json:"project_id"`
	Runs         []RunMonitor       `json:"runs"`
	StatusCounts map[string]int     `json:"status_counts"`
	Governance   GovernanceCounters `json:"governance"`
}

// ComposeMonitor builds the run monitor for a project from the index.
func ComposeMonitor(store *index.Store, projectID string, limit int) (*MonitorSnapshot, error) {
	runs, err := store.ListRuns(index.RunFilter{ProjectID: projectID, Limit: limit})
	if err != nil {
		return nil, err
	}
	lastEvents, err := store.LastEventPerRun(projectID)
	if err != nil {
		return nil, err
	}
	parseErrors, err := store.ParseErrorCounts(projectID)
	if err != nil {
		return nil, err
	}
	statusCounts, err := store.RunStatusCounts(projectID)
	if err != nil {
		return nil, err
	}
	typeCounts, err := store.EventTypeCounts(projectID)
	if err != nil {
		return nil, err
	}

	snap := &MonitorSnapshot{
		GeneratedAt:  time.Now().UTC(),
		ProjectID:    projectID,
		StatusCounts: statusCounts,
		Governance: GovernanceCounters{
			PolicyDenials:   typeCounts["policy.denied"],
			BudgetAlerts:    typeCounts["budget.alert"],
			BudgetExceeds:   typeCounts["budget.exceeded"],
			BudgetDecisions: typeCounts["budget.decision"],
		},
	}
	for _, r := range runs {
		m := RunMonitor{RunRow: r, ParseErrors: parseErrors[r.RunID]}
		if ev, ok := lastEvents[r.ProjectID+"/"+r.RunID]; ok {
			m.LastEventType = ev.Type
			m.LastEventAt = ev.TSWallclock
			m.LastEventSeq = ev.Seq
		}
		snap.Runs = append(snap.Runs, m)
	}
	return snap, nil
}
