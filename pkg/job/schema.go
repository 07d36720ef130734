package job

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentcompany/agentcompany/pkg/types"
)

const resultSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["status", "summary"],
	"properties": {
		"status": {"enum": ["succeeded", "failed", "blocked", "needs_input", "canceled"]},
		"summary": {"type": "string", "minLength": 1},
		"files_changed": {"type": "array", "items": {"type": "string"}},
		"commands_run": {"type": "array", "items": {"type": "string"}},
		"artifacts": {"type": "array", "items": {"type": "string"}},
		"next_actions": {"type": "array", "items": {"type": "string"}},
		"errors": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["code", "message"],
				"properties": {
					"code": {"type": "string"},
					"message": {"type": "string"}
				}
			}
		}
	}
}`

const heartbeatReportSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["status", "summary"],
	"properties": {
		"status": {"enum": ["ok", "actions"]},
		"summary": {"type": "string"},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["kind", "goal"],
				"properties": {
					"kind": {"type": "string"},
					"goal": {"type": "string", "minLength": 1},
					"project_id": {"type": "string"},
					"task_id": {"type": "string"},
					"idempotency_key": {"type": "string"}
				}
			}
		}
	}
}`

var (
	resultSchema          = mustCompile("result.json", resultSchemaJSON)
	heartbeatReportSchema = mustCompile("heartbeat_report.json", heartbeatReportSchemaJSON)
)

func mustCompile(name, schemaJSON string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("invalid %s schema: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s schema: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s schema: %v", name, err))
	}
	return schema
}

// ValidateResult checks a JSON candidate against the result contract.
// On failure the returned strings drive the repair prompt.
func ValidateResult(raw []byte) (*types.Result, []string) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, []string{fmt.Sprintf("invalid json: %v", err)}
	}
	if err := resultSchema.Validate(doc); err != nil {
		return nil, []string{err.Error()}
	}
	var result types.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, []string{fmt.Sprintf("failed to decode result: %v", err)}
	}
	return &result, nil
}

// ValidateHeartbeatReport checks a JSON candidate against the heartbeat
// report contract.
func ValidateHeartbeatReport(raw []byte) (*types.HeartbeatReport, []string) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, []string{fmt.Sprintf("invalid json: %v", err)}
	}
	if err := heartbeatReportSchema.Validate(doc); err != nil {
		return nil, []string{err.Error()}
	}
	var report types.HeartbeatReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, []string{fmt.Sprintf("failed to decode report: %v", err)}
	}
	return &report, nil
}
