package job

import (
	"encoding/json"
	"os"
	"time"

	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// ManagerDigest is the at-a-glance summary written beside every final
// result for manager review queues.
type ManagerDigest struct {
	JobID        string   `json:"job_id"`
	ProjectID    string   `json:"project_id"`
	Goal         string   `json:"goal"`
	JobKind      string   `json:"job_kind"`
	ResultStatus string   `json:"result_status"`
	Summary      string   `json:"summary"`
	AttemptCount int      `json:"attempt_count"`
	Providers    []string `json:"providers,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`
	NextActions  []string `json:"next_actions,omitempty"`
	ErrorCount   int      `json:"error_count"`
	EndedAt      string   `json:"ended_at"`
}

// buildDigest derives the digest from a finalized job and its result.
func buildDigest(j *types.Job, result *types.Result) ManagerDigest {
	d := ManagerDigest{
		JobID:        j.JobID,
		ProjectID:    j.ProjectID,
		Goal:         j.Spec.Goal,
		JobKind:      string(j.Spec.JobKind),
		AttemptCount: len(j.Attempts),
		EndedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	seen := make(map[string]bool)
	for _, a := range j.Attempts {
		if !seen[a.Provider] {
			seen[a.Provider] = true
			d.Providers = append(d.Providers, a.Provider)
		}
	}
	if result != nil {
		d.ResultStatus = string(result.Status)
		d.Summary = result.Summary
		d.Artifacts = result.Artifacts
		d.NextActions = result.NextActions
		d.ErrorCount = len(result.Errors)
	}
	return d
}

func writeDigest(ws *workspace.Workspace, j *types.Job, result *types.Result) error {
	data, err := json.MarshalIndent(buildDigest(j, result), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ws.JobDigestFile(j.ProjectID, j.JobID), data, 0644)
}
