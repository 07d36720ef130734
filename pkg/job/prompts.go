package job

import (
	"fmt"
	"strings"

	"github.com/agentcompany/agentcompany/pkg/types"
)

// Contract modes. Providers with native structured output get
// provider_schema; everything else is steered by prompt alone.
const (
	ContractProviderSchema = "provider_schema"
	ContractPromptOnly     = "prompt_only"
)

const resultContractInstructions = `Respond with a single JSON object and nothing else. Required keys:
  "status": one of "succeeded", "failed", "blocked", "needs_input", "canceled"
  "summary": one-paragraph description of what you did
Optional keys: "files_changed", "commands_run", "artifacts", "next_actions" (string arrays),
"errors" (array of {"code","message"}). Do not wrap the object in markdown fences.`

const heartbeatContractInstructions = `Respond with a single JSON object and nothing else. Required keys:
  "status": "ok" if nothing needs attention, "actions" otherwise
  "summary": one-paragraph triage summary
When status is "actions", include "actions": an array of {"kind","goal"} objects,
optionally with "project_id", "task_id", "idempotency_key". Do not wrap the object in markdown fences.`

// contractFor renders the output contract for a provider. Schema-native
// providers get the machine-readable schema verbatim alongside the prose
// instructions; the rest are steered by prose alone.
func contractFor(spec types.JobSpec, mode string) string {
	instructions := resultContractInstructions
	schemaJSON := resultSchemaJSON
	if spec.JobKind == types.JobKindHeartbeat {
		instructions = heartbeatContractInstructions
		schemaJSON = heartbeatReportSchemaJSON
	}
	if mode != ContractProviderSchema {
		return instructions
	}
	return instructions + "\n\nYour response must validate against this JSON Schema:\n" + schemaJSON
}

// initialPrompt composes the first-attempt prompt from the job spec.
func initialPrompt(spec types.JobSpec, mode string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", spec.Goal)
	if len(spec.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range spec.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(spec.Deliverables) > 0 {
		b.WriteString("Deliverables:\n")
		for _, d := range spec.Deliverables {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(spec.ContextRefs) > 0 {
		b.WriteString("Context references:\n")
		for _, r := range spec.ContextRefs {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	b.WriteString("\n")
	b.WriteString(contractFor(spec, mode))
	return b.String()
}

// repairPrompt asks the same worker to fix its previous malformed
// output, quoting the raw text and the validation errors.
func repairPrompt(spec types.JobSpec, mode, prevRaw string, errs []string) string {
	return fmt.Sprintf(`Your previous response was not a valid structured result.

Validation errors:
%s

Your previous raw output:
%s

Produce the corrected response now. %s`,
		bulleted(errs), clip(prevRaw, 8000), contractFor(spec, mode))
}

// reformatPrompt is the attempt-3 cross-provider variant: a different
// worker reformats the prior output without redoing the work.
func reformatPrompt(spec types.JobSpec, mode, prevRaw string, errs []string) string {
	return fmt.Sprintf(`Another worker attempted this task but produced output that does not satisfy the required contract. Do not redo the work: extract the substance of the output below and reformat it.

Original goal: %s

Validation errors:
%s

Raw output to reformat:
%s

%s`,
		spec.Goal, bulleted(errs), clip(prevRaw, 8000), contractFor(spec, mode))
}

// composePrompt picks the prompt for an attempt number.
func composePrompt(spec types.JobSpec, mode string, attempt int, prevRaw string, errs []string) string {
	switch {
	case attempt <= 1 || prevRaw == "":
		return initialPrompt(spec, mode)
	case attempt == 2:
		return repairPrompt(spec, mode, prevRaw, errs)
	default:
		return reformatPrompt(spec, mode, prevRaw, errs)
	}
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "- (none recorded)"
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}
