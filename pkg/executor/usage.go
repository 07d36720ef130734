package executor

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/agentcompany/agentcompany/pkg/types"
)

// UsageExtractor parses one complete output line into zero or more
// provider-reported usage summaries. Implementations are per-provider
// so new providers plug in without touching the engine.
type UsageExtractor interface {
	Extract(line string) []*types.UsageSummary
}

// ExtractorFor returns the extractor for a provider. Unknown providers
// get the generic JSON extractor; provider CLIs that print structured
// usage lines are still picked up.
func ExtractorFor(provider string) UsageExtractor {
	switch provider {
	case "codex":
		return &jsonUsageExtractor{provider: provider, wrapKeys: []string{"token_usage", "usage", "info"}}
	case "claude":
		return &jsonUsageExtractor{provider: provider, wrapKeys: []string{"usage", "message"}}
	default:
		return &jsonUsageExtractor{provider: provider, wrapKeys: []string{"token_usage", "usage"}}
	}
}

// jsonUsageExtractor finds token-usage objects in JSON lines. The usage
// object may be the line itself or nested under one of wrapKeys,
// recursively one level at a time.
type jsonUsageExtractor struct {
	provider string
	wrapKeys []string
}

func (x *jsonUsageExtractor) Extract(line string) []*types.UsageSummary {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		if u := extractUsageRegex(x.provider, line); u != nil {
			return []*types.UsageSummary{u}
		}
		return nil
	}
	if u := usageFromObject(x.provider, obj, x.wrapKeys, 3); u != nil {
		return []*types.UsageSummary{u}
	}
	return nil
}

// usageFromObject tries obj itself, then descends through wrap keys up
// to depth levels.
func usageFromObject(provider string, obj map[string]interface{}, wrapKeys []string, depth int) *types.UsageSummary {
	if u := usageFromFields(provider, obj); u != nil {
		return u
	}
	if depth == 0 {
		return nil
	}
	for _, key := range wrapKeys {
		nested, ok := obj[key].(map[string]interface{})
		if !ok {
			continue
		}
		if u := usageFromObject(provider, nested, wrapKeys, depth-1); u != nil {
			if model, ok := obj["model"].(string); ok && u.Model == "" {
				u.Model = model
			}
			return u
		}
	}
	return nil
}

// usageFromFields reads the known field aliases. A summary is produced
// only when at least one input/output/total count is present.
func usageFromFields(provider string, obj map[string]interface{}) *types.UsageSummary {
	input, okIn := intField(obj, "input_tokens", "inputTokens", "prompt_tokens")
	output, okOut := intField(obj, "output_tokens", "outputTokens", "completion_tokens")
	total, okTotal := intField(obj, "total_tokens", "totalTokens")
	if !okIn && !okOut && !okTotal {
		return nil
	}

	cached, _ := intField(obj, "cached_input_tokens", "cachedInputTokens", "cache_read_input_tokens")
	reasoning, _ := intField(obj, "reasoning_output_tokens", "reasoningOutputTokens")
	if !okTotal {
		total = input + output + reasoning
	}

	u := &types.UsageSummary{
		Source:                types.UsageSourceProviderReported,
		Confidence:            types.UsageConfidenceHigh,
		Provider:              provider,
		InputTokens:           input,
		CachedInputTokens:     cached,
		OutputTokens:          output,
		ReasoningOutputTokens: reasoning,
		TotalTokens:           total,
	}
	if model, ok := obj["model"].(string); ok {
		u.Model = model
	}
	return u
}

func intField(obj map[string]interface{}, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return int64(v), true
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// tokensUsedRe matches plain-text usage lines some CLIs print, e.g.
// "tokens used: 1234".
var tokensUsedRe = regexp.MustCompile(`(?i)tokens used:?\s+([0-9,]+)`)

func extractUsageRegex(provider, line string) *types.UsageSummary {
	m := tokensUsedRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	digits := ""
	for _, r := range m[1] {
		if r != ',' {
			digits += string(r)
		}
	}
	total, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	return &types.UsageSummary{
		Source:      types.UsageSourceProviderReported,
		Confidence:  types.UsageConfidenceHigh,
		Provider:    provider,
		TotalTokens: total,
	}
}
