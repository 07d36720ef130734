package heartbeat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/agentcompany/agentcompany/pkg/journal"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// Signal weights. Overdue work outranks everything; run chatter alone
// barely clears the default minimum score.
const (
	scoreOverdueTask  = 3
	scoreDueSoonTask  = 2
	scoreStuckJob     = 2
	scoreHelpRequest  = 2
	scorePendingItem  = 1
	scoreNewRunEvents = 1
	scoreNotOK        = 1
)

// Candidate is one worker's wake evaluation for a tick.
type Candidate struct {
	AgentID     string
	Score       int
	Signals     []string
	ContextHash string
	Suppressed  bool
}

// computeCandidates scores every agent and returns the updated run
// cursors observed while scanning journals.
func computeCandidates(ws *workspace.Workspace, cfg types.HeartbeatConfig, state *types.HeartbeatState, now time.Time) ([]Candidate, map[string]int64, error) {
	agents, err := ws.ListAgents()
	if err != nil {
		return nil, nil, err
	}
	projects, err := ws.ListProjects()
	if err != nil {
		return nil, nil, err
	}

	newCursors := make(map[string]int64)
	for k, v := range state.RunEventCursors {
		newCursors[k] = v
	}

	// Shared scans, reused per agent.
	type taskRef struct {
		projectID string
		task      *types.Task
	}
	var allTasks []taskRef
	type jobRef struct {
		projectID string
		job       *types.Job
	}
	var runningJobs []jobRef
	type runRef struct {
		key     string
		agentID string
		lines   int64
	}
	var runs []runRef

	for _, p := range projects {
		tasks, err := ws.ListTasks(p.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, t := range tasks {
			allTasks = append(allTasks, taskRef{p.ID, t})
		}

		jobIDs, err := ws.ListJobs(p.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range jobIDs {
			j, err := ws.LoadJob(p.ID, id)
			if err != nil {
				continue
			}
			if j.Status == types.JobStatusRunning {
				runningJobs = append(runningJobs, jobRef{p.ID, j})
			}
		}

		runIDs, err := ws.ListRuns(p.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range runIDs {
			run, err := ws.LoadRun(p.ID, id)
			if err != nil {
				continue
			}
			lines, err := journal.CountLines(ws.EventsFile(p.ID, id))
			if err != nil {
				continue
			}
			runs = append(runs, runRef{key: p.ID + "/" + id, agentID: run.AgentID, lines: lines})
		}
	}

	helpIDs, err := ws.ListHelpRequestIDs()
	if err != nil {
		return nil, nil, err
	}
	var helpRequests []*types.HelpRequest
	for _, id := range helpIDs {
		hr, _, err := ws.LoadHelpRequest(id)
		if err != nil {
			continue
		}
		helpRequests = append(helpRequests, hr)
	}

	pendingReviews, err := countUnreviewedArtifacts(ws, projects)
	if err != nil {
		return nil, nil, err
	}

	dueHorizon := time.Duration(cfg.DueHorizonMinutes) * time.Minute
	stuckAfter := time.Duration(cfg.StuckJobRunningMinutes) * time.Minute

	var candidates []Candidate
	for _, agent := range agents {
		var score int
		var signals []string

		for _, tr := range allTasks {
			t := tr.task
			if t.AssigneeID != agent.ID || t.Status == types.TaskStatusDone || t.DueAt == nil {
				continue
			}
			switch {
			case t.DueAt.Before(now):
				score += scoreOverdueTask
				signals = append(signals, fmt.Sprintf("task_overdue:%s/%s", tr.projectID, t.ID))
			case t.DueAt.Before(now.Add(dueHorizon)):
				score += scoreDueSoonTask
				signals = append(signals, fmt.Sprintf("task_due:%s/%s", tr.projectID, t.ID))
			}
		}

		for _, jr := range runningJobs {
			if jr.job.Spec.WorkerAgentID == agent.ID && now.Sub(jr.job.CreatedAt) > stuckAfter {
				score += scoreStuckJob
				signals = append(signals, fmt.Sprintf("stuck_job:%s/%s", jr.projectID, jr.job.JobID))
			}
		}

		for _, hr := range helpRequests {
			if hr.TargetManager == agent.ID {
				score += scoreHelpRequest
				signals = append(signals, "help_request:"+hr.HelpRequestID)
			}
		}

		if agent.Role == types.AgentRoleManager && pendingReviews > 0 {
			score += scorePendingItem
			signals = append(signals, fmt.Sprintf("pending_reviews:%d", pendingReviews))
		}

		for _, rr := range runs {
			if rr.agentID != agent.ID {
				continue
			}
			if rr.lines > state.RunEventCursors[rr.key] {
				score += scoreNewRunEvents
				signals = append(signals, fmt.Sprintf("run_events:%s@%d", rr.key, rr.lines))
			}
			if rr.lines > newCursors[rr.key] {
				newCursors[rr.key] = rr.lines
			}
		}

		// The hash covers only workspace-derived signals, so an ok
		// suppression window survives the report itself flipping the
		// worker's last_report_status.
		sort.Strings(signals)
		hash := contextHash(signals)

		wstate := state.Worker(agent.ID)
		if wstate.LastReportStatus != "ok" {
			score += scoreNotOK
			signals = append(signals, "last_report_not_ok")
		}

		candidates = append(candidates, Candidate{
			AgentID:     agent.ID,
			Score:       score,
			Signals:     signals,
			ContextHash: hash,
		})
	}
	return candidates, newCursors, nil
}

// contextHash fingerprints a worker's current signal set. An unchanged
// hash plus an ok report means nothing new happened for that worker.
func contextHash(signals []string) string {
	h := sha256.New()
	for _, s := range signals {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func countUnreviewedArtifacts(ws *workspace.Workspace, projects []*types.Project) (int, error) {
	reviewed := make(map[string]bool)
	reviewIDs, err := ws.ListReviewIDs()
	if err != nil {
		return 0, err
	}
	for _, id := range reviewIDs {
		rev, err := ws.LoadReview(id)
		if err != nil {
			continue
		}
		reviewed[rev.SubjectArtifactID] = true
	}

	pending := 0
	for _, p := range projects {
		artIDs, err := ws.ListArtifactIDs(p.ID)
		if err != nil {
			return 0, err
		}
		for _, id := range artIDs {
			if !reviewed[id] {
				pending++
			}
		}
	}
	return pending, nil
}

// inQuietHours reports whether hour falls in the configured quiet
// window. start==end means no quiet window; windows may wrap midnight.
func inQuietHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// suppressed applies the ok-report suppression rule.
func suppressed(w *types.HeartbeatWorkerState, contextHash string, now time.Time) bool {
	return w.LastReportStatus == "ok" &&
		w.LastContextHash == contextHash &&
		w.SuppressedUntil != nil &&
		now.Before(*w.SuppressedUntil)
}

// rank orders candidates score descending, agent_id ascending on ties.
func rank(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].AgentID < candidates[j].AgentID
	})
}
