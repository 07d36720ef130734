package snapshot

import (
	"sort"
	"time"

	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// ProviderUsage is the token and cost rollup for one (provider, model)
// pair across all terminal runs.
type ProviderUsage struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model,omitempty"`
	Runs              int     `json:"runs"`
	InputTokens       int64   `json:"input_tokens"`
	CachedInputTokens int64   `json:"cached_input_tokens"`
	OutputTokens      int64   `json:"output_tokens"`
	TotalTokens       int64   `json:"total_tokens"`
	CostUSD           float64 `json:"cost_usd"`
	EstimatedRuns     int     `json:"estimated_runs"`
}

// ResourcesSnapshot is the usage analytics view.
type ResourcesSnapshot struct {
	GeneratedAt   time.Time       `json:"generated_at"`
	Providers     []ProviderUsage `json:"providers"`
	TotalTokens   int64           `json:"total_tokens"`
	TotalCostUSD  float64         `json:"total_cost_usd"`
	ContextCycles int             `json:"context_cycles"`
}

// ComposeResources rolls up per-provider/model usage from run records.
// run.yaml is the source of truth for usage; the index is not consulted.
func ComposeResources(ws *workspace.Workspace) (*ResourcesSnapshot, error) {
	projects, err := ws.ListProjects()
	if err != nil {
		return nil, err
	}

	rollup := make(map[string]*ProviderUsage)
	snap := &ResourcesSnapshot{GeneratedAt: time.Now().UTC()}

	for _, p := range projects {
		runIDs, err := ws.ListRuns(p.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range runIDs {
			run, err := ws.LoadRun(p.ID, id)
			if err != nil {
				continue
			}
			snap.ContextCycles += len(run.ContextCycles)
			if run.Usage == nil {
				continue
			}
			u := run.Usage
			key := u.Provider + "|" + u.Model
			r, ok := rollup[key]
			if !ok {
				r = &ProviderUsage{Provider: u.Provider, Model: u.Model}
				rollup[key] = r
			}
			r.Runs++
			r.InputTokens += u.InputTokens
			r.CachedInputTokens += u.CachedInputTokens
			r.OutputTokens += u.OutputTokens
			r.TotalTokens += u.TotalTokens
			if u.CostUSD != nil {
				r.CostUSD += *u.CostUSD
			}
			if u.Source == "estimated_chars" {
				r.EstimatedRuns++
			}
		}
	}

	for _, r := range rollup {
		snap.Providers = append(snap.Providers, *r)
		snap.TotalTokens += r.TotalTokens
		snap.TotalCostUSD += r.CostUSD
	}
	sort.Slice(snap.Providers, func(i, j int) bool {
		if snap.Providers[i].TotalTokens != snap.Providers[j].TotalTokens {
			return snap.Providers[i].TotalTokens > snap.Providers[j].TotalTokens
		}
		return snap.Providers[i].Provider < snap.Providers[j].Provider
	})
	return snap, nil
}
