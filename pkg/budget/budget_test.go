package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/types"
)

func TestEstimateFromChars(t *testing.T) {
	u := EstimateFromChars("cmd", 400, 800, 200)
	assert.Equal(t, types.UsageSourceEstimatedChars, u.Source)
	assert.Equal(t, types.UsageConfidenceLow, u.Confidence)
	assert.Equal(t, int64(100), u.InputTokens)
	assert.Equal(t, int64(250), u.OutputTokens)
	assert.Equal(t, int64(350), u.TotalTokens)
}

func TestSelectPreferred(t *testing.T) {
	reported := &types.UsageSummary{
		Source: types.UsageSourceProviderReported, TotalTokens: 100,
	}
	estimated := &types.UsageSummary{
		Source: types.UsageSourceEstimatedChars, TotalTokens: 900,
	}
	bigger := &types.UsageSummary{
		Source: types.UsageSourceProviderReported, TotalTokens: 250,
	}

	assert.Nil(t, SelectPreferred(nil))
	assert.Equal(t, reported, SelectPreferred([]*types.UsageSummary{estimated, reported}))
	assert.Equal(t, bigger, SelectPreferred([]*types.UsageSummary{reported, bigger, estimated}))
}

func TestAttachCost(t *testing.T) {
	cards := []types.RateCard{
		{Provider: "codex", InputPerMTok: 2.0, CachedInputPerMTok: 0.2, OutputPerMTok: 8.0},
		{Provider: "codex", Model: "o5", InputPerMTok: 4.0, OutputPerMTok: 16.0},
	}

	u := &types.UsageSummary{
		Provider: "codex", InputTokens: 1_000_000,
		CachedInputTokens: 500_000, OutputTokens: 250_000, TotalTokens: 1_250_000,
	}
	require.True(t, AttachCost(u, cards))
	require.NotNil(t, u.CostUSD)
	// 0.5M fresh input @2 + 0.5M cached @0.2 + 0.25M output @8
	assert.InDelta(t, 1.0+0.1+2.0, *u.CostUSD, 1e-9)
	assert.Equal(t, "machine_rate_card", u.CostSource)
	assert.Equal(t, "codex", u.RateCardProvider)

	// Model-specific card wins
	u2 := &types.UsageSummary{Provider: "codex", Model: "o5", InputTokens: 1_000_000}
	require.True(t, AttachCost(u2, cards))
	assert.InDelta(t, 4.0, *u2.CostUSD, 1e-9)

	// Unknown provider stays unpriced
	u3 := &types.UsageSummary{Provider: "mystery", TotalTokens: 10}
	assert.False(t, AttachCost(u3, cards))
	assert.Nil(t, u3.CostUSD)
	assert.Equal(t, "no_rate_card", u3.CostSource)
}

func TestEvaluate(t *testing.T) {
	cost := 12.0
	u := &types.UsageSummary{TotalTokens: 5000, CostUSD: &cost}

	tests := []struct {
		name   string
		limits types.BudgetLimits
		soft   bool
		hard   bool
	}{
		{name: "no limits", limits: types.BudgetLimits{}},
		{name: "under everything", limits: types.BudgetLimits{SoftTokens: 10000, HardTokens: 20000}},
		{name: "soft tokens only", limits: types.BudgetLimits{SoftTokens: 1000, HardTokens: 20000}, soft: true},
		{name: "hard tokens", limits: types.BudgetLimits{HardTokens: 1000}, hard: true},
		{name: "hard usd", limits: types.BudgetLimits{HardUSD: 10}, hard: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(u, tt.limits)
			assert.Equal(t, tt.soft, d.SoftExceeded)
			assert.Equal(t, tt.hard, d.HardExceeded)
		})
	}

	assert.False(t, Evaluate(nil, types.BudgetLimits{HardTokens: 1}).HardExceeded)
}
