package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/types"
)

func TestExtractJSONCandidate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{
			name: "bare object",
			raw:  `{"status":"succeeded","summary":"done"}`,
			want: `{"status":"succeeded","summary":"done"}`,
			ok:   true,
		},
		{
			name: "fenced with language tag",
			raw:  "Here you go:\n```json\n{\"status\":\"succeeded\",\"summary\":\"done\"}\n```\nanything else",
			want: `{"status":"succeeded","summary":"done"}`,
			ok:   true,
		},
		{
			name: "prose around the object",
			raw:  `Sure! The result is {"status":"failed","summary":"broke"} — sorry.`,
			want: `{"status":"failed","summary":"broke"}`,
			ok:   true,
		},
		{
			name: "braces inside strings",
			raw:  `{"summary":"use {curly} braces","status":"succeeded"}`,
			want: `{"summary":"use {curly} braces","status":"succeeded"}`,
			ok:   true,
		},
		{name: "no json at all", raw: "not-json"},
		{name: "unbalanced", raw: `{"status":"succeeded"`},
		{name: "empty", raw: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONCandidate(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"HTTP 429 Too Many Requests", ClassRateLimit},
		{"error: rate limit reached, retry later", ClassRateLimit},
		{"401 Unauthorized", ClassAuth},
		{"invalid API key provided", ClassAuth},
		{"this command requires a terminal", ClassInteractive},
		{"connection reset by peer", ClassTransient},
		{"", ClassTransient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.text), "text: %q", tt.text)
	}
}

func TestValidateResult(t *testing.T) {
	result, errs := ValidateResult([]byte(`{"status":"succeeded","summary":"ok","errors":[{"code":"x","message":"y"}]}`))
	require.Empty(t, errs)
	assert.Equal(t, types.ResultSucceeded, result.Status)
	require.Len(t, result.Errors, 1)

	result, errs = ValidateResult([]byte(`{"status":"partying","summary":"ok"}`))
	assert.Nil(t, result)
	assert.NotEmpty(t, errs)

	result, errs = ValidateResult([]byte(`{"summary":"missing status"}`))
	assert.Nil(t, result)
	assert.NotEmpty(t, errs)
}

func TestValidateHeartbeatReport(t *testing.T) {
	report, errs := ValidateHeartbeatReport([]byte(`{"status":"ok","summary":"all quiet"}`))
	require.Empty(t, errs)
	assert.Equal(t, "ok", report.Status)

	report, errs = ValidateHeartbeatReport([]byte(`{"status":"actions","summary":"s","actions":[{"kind":"k"}]}`))
	assert.Nil(t, report)
	assert.NotEmpty(t, errs, "action without goal must fail")
}
