package budget

import (
	"github.com/agentcompany/agentcompany/pkg/types"
)

// estimateCharsPerToken is the character heuristic used when a provider
// reports no usage.
const estimateCharsPerToken = 4

// EstimateFromChars builds a low-confidence usage summary from stream
// sizes when the provider reported nothing.
func EstimateFromChars(provider string, stdinChars, stdoutChars, stderrChars int64) *types.UsageSummary {
	input := stdinChars / estimateCharsPerToken
	output := (stdoutChars + stderrChars) / estimateCharsPerToken
	return &types.UsageSummary{
		Source:       types.UsageSourceEstimatedChars,
		Confidence:   types.UsageConfidenceLow,
		Provider:     provider,
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
	}
}

// SelectPreferred picks the usage summary to keep from the reports seen
// during a run: the one with the largest total, provider-reported reports
// winning over estimates.
func SelectPreferred(reported []*types.UsageSummary) *types.UsageSummary {
	var best *types.UsageSummary
	for _, u := range reported {
		if u == nil {
			continue
		}
		if best == nil {
			best = u
			continue
		}
		bestReported := best.Source == types.UsageSourceProviderReported
		uReported := u.Source == types.UsageSourceProviderReported
		if uReported && !bestReported {
			best = u
		} else if uReported == bestReported && u.TotalTokens > best.TotalTokens {
			best = u
		}
	}
	return best
}

// AttachCost prices a usage summary against the machine rate cards.
// Returns false when no card matches; the summary is left unpriced.
func AttachCost(u *types.UsageSummary, cards []types.RateCard) bool {
	card, ok := findCard(cards, u.Provider, u.Model)
	if !ok {
		u.CostSource = "no_rate_card"
		return false
	}

	freshInput := u.InputTokens - u.CachedInputTokens
	if freshInput < 0 {
		freshInput = 0
	}
	cost := float64(freshInput)/1e6*card.InputPerMTok +
		float64(u.CachedInputTokens)/1e6*card.CachedInputPerMTok +
		float64(u.OutputTokens+u.ReasoningOutputTokens)/1e6*card.OutputPerMTok

	u.CostUSD = &cost
	u.CostSource = "machine_rate_card"
	u.RateCardProvider = card.Provider
	return true
}

// findCard matches provider+model first, then provider alone.
func findCard(cards []types.RateCard, provider, model string) (types.RateCard, bool) {
	for _, c := range cards {
		if c.Provider == provider && c.Model != "" && c.Model == model {
			return c, true
		}
	}
	for _, c := range cards {
		if c.Provider == provider && c.Model == "" {
			return c, true
		}
	}
	return types.RateCard{}, false
}

// Decision is the outcome of evaluating a run's final usage against its
// limits.
type Decision struct {
	SoftExceeded bool     `json:"soft_exceeded"`
	HardExceeded bool     `json:"hard_exceeded"`
	Reasons      []string `json:"reasons,omitempty"`
}

// Evaluate checks usage against limits. A hard exceed promotes a run's
// terminal status from ended to failed; soft exceeds only alert.
func Evaluate(u *types.UsageSummary, limits types.BudgetLimits) Decision {
	var d Decision
	if u == nil {
		return d
	}
	if limits.SoftTokens > 0 && u.TotalTokens > limits.SoftTokens {
		d.SoftExceeded = true
		d.Reasons = append(d.Reasons, "soft_tokens")
	}
	if limits.HardTokens > 0 && u.TotalTokens > limits.HardTokens {
		d.HardExceeded = true
		d.Reasons = append(d.Reasons, "hard_tokens")
	}
	if u.CostUSD != nil {
		if limits.SoftUSD > 0 && *u.CostUSD > limits.SoftUSD {
			d.SoftExceeded = true
			d.Reasons = append(d.Reasons, "soft_usd")
		}
		if limits.HardUSD > 0 && *u.CostUSD > limits.HardUSD {
			d.HardExceeded = true
			d.Reasons = append(d.Reasons, "hard_usd")
		}
	}
	return d
}
