package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// CPMStatusOK and CPMStatusCycle are the two outcomes of critical-path
// analysis on a project's task graph.
const (
	CPMStatusOK    = "ok"
	CPMStatusCycle = "dependency_cycle"
)

// GanttSpan places one task on the schedule derived from CPM, in hours
// from the project's earliest start.
type GanttSpan struct {
	TaskID     string  `json:"task_id"`
	Title      string  `json:"title"`
	StartHours float64 `json:"start_hours"`
	EndHours   float64 `json:"end_hours"`
	Critical   bool    `json:"critical"`
}

// CriticalPath is the CPM result for a project.
type CriticalPath struct {
	Status        string      `json:"status"`
	Path          []string    `json:"path,omitempty"`
	DurationHours float64     `json:"duration_hours,omitempty"`
	Gantt         []GanttSpan `json:"gantt,omitempty"`
}

// ProjectSummary is one project's row in the PM snapshot.
type ProjectSummary struct {
	ProjectID       string         `json:"project_id"`
	Name            string         `json:"name"`
	TaskCounts      map[string]int `json:"task_counts"`
	ProgressPercent int            `json:"progress_percent"`
	BlockedTasks    []string       `json:"blocked_tasks,omitempty"`
	OverdueTasks    []string       `json:"overdue_tasks,omitempty"`
	RiskFlags       []string       `json:"risk_flags,omitempty"`
	CriticalPath    *CriticalPath  `json:"critical_path,omitempty"`
}

// PMSnapshot is the workspace-home project management view.
type PMSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Projects    []ProjectSummary `json:"projects"`
}

// ComposePM builds the PM snapshot. When projectID is non-empty only
// that project is summarized, with full CPM analysis; the workspace-wide
// form skips per-task Gantt spans to stay cheap.
func ComposePM(ws *workspace.Workspace, projectID string) (*PMSnapshot, error) {
	var projects []*types.Project
	if projectID != "" {
		p, err := ws.LoadProject(projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load project: %w", err)
		}
		projects = []*types.Project{p}
	} else {
		var err error
		projects, err = ws.ListProjects()
		if err != nil {
			return nil, err
		}
	}

	snap := &PMSnapshot{GeneratedAt: time.Now().UTC()}
	for _, p := range projects {
		tasks, err := ws.ListTasks(p.ID)
		if err != nil {
			return nil, err
		}
		summary := summarizeProject(p, tasks, time.Now().UTC())
		if projectID == "" {
			// Drop the spans, keep status and length.
			if summary.CriticalPath != nil {
				summary.CriticalPath.Gantt = nil
			}
		}
		snap.Projects = append(snap.Projects, summary)
	}
	return snap, nil
}

func summarizeProject(p *types.Project, tasks []*types.Task, now time.Time) ProjectSummary {
	s := ProjectSummary{
		ProjectID:  p.ID,
		Name:       p.Name,
		TaskCounts: make(map[string]int),
	}

	riskSeen := make(map[string]bool)
	var progressSum, progressN int
	for _, t := range tasks {
		s.TaskCounts[string(t.Status)]++
		switch {
		case t.Status == types.TaskStatusDone:
			progressSum += 100
		case t.ProgressPercent > 0:
			progressSum += t.ProgressPercent
		}
		progressN++

		if t.Status == types.TaskStatusBlocked {
			s.BlockedTasks = append(s.BlockedTasks, t.ID)
		}
		if t.DueAt != nil && t.DueAt.Before(now) && t.Status != types.TaskStatusDone {
			s.OverdueTasks = append(s.OverdueTasks, t.ID)
		}
		for _, f := range t.RiskFlags {
			if !riskSeen[f] {
				riskSeen[f] = true
				s.RiskFlags = append(s.RiskFlags, f)
			}
		}
	}
	if progressN > 0 {
		s.ProgressPercent = progressSum / progressN
	}
	sort.Strings(s.BlockedTasks)
	sort.Strings(s.OverdueTasks)
	sort.Strings(s.RiskFlags)

	cp := computeCriticalPath(tasks)
	s.CriticalPath = &cp
	return s
}

// computeCriticalPath runs Kahn's algorithm over depends_on edges. A
// cycle yields status dependency_cycle and no spans. Otherwise the
// longest path by estimate_hours (default 1h per unestimated task) is
// the critical path, and every task gets a Gantt span at its earliest
// start.
func computeCriticalPath(tasks []*types.Task) CriticalPath {
	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		indegree[t.ID] += 0
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue // dangling reference, ignored
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	estimate := func(id string) float64 {
		if h := byID[id].EstimateHours; h > 0 {
			return h
		}
		return 1
	}

	// earliest start per task and the predecessor that determines it
	start := make(map[string]float64, len(tasks))
	prev := make(map[string]string, len(tasks))
	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		finish := start[id] + estimate(id)
		for _, next := range dependents[id] {
			if finish > start[next] {
				start[next] = finish
				prev[next] = id
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) < len(tasks) {
		return CriticalPath{Status: CPMStatusCycle}
	}

	var lastID string
	var duration float64
	for _, id := range order {
		if end := start[id] + estimate(id); end > duration {
			duration = end
			lastID = id
		}
	}

	var path []string
	for id := lastID; id != ""; id = prev[id] {
		path = append([]string{id}, path...)
	}
	onPath := make(map[string]bool, len(path))
	for _, id := range path {
		onPath[id] = true
	}

	cp := CriticalPath{Status: CPMStatusOK, Path: path, DurationHours: duration}
	for _, id := range order {
		cp.Gantt = append(cp.Gantt, GanttSpan{
			TaskID:     id,
			Title:      byID[id].Title,
			StartHours: start[id],
			EndHours:   start[id] + estimate(id),
			Critical:   onPath[id],
		})
	}
	sort.Slice(cp.Gantt, func(i, j int) bool {
		if cp.Gantt[i].StartHours != cp.Gantt[j].StartHours {
			return cp.Gantt[i].StartHours < cp.Gantt[j].StartHours
		}
		return cp.Gantt[i].TaskID < cp.Gantt[j].TaskID
	})
	return cp
}
