package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// RunRow is a run as the index sees it.
type RunRow struct {
	ProjectID     string `json:"project_id"`
	RunID         string `json:"run_id"`
	CreatedAt     string `json:"created_at"`
	Status        string `json:"status"`
	Provider      string `json:"provider"`
	AgentID       string `json:"agent_id,omitempty"`
	ContextPackID string `json:"context_pack_id,omitempty"`
	EventsRelpath string `json:"events_relpath"`
}

// EventRow is one indexed journal line.
type EventRow struct {
	ProjectID     string          `json:"project_id"`
	RunID         string          `json:"run_id"`
	Seq           int64           `json:"seq"`
	Type          string          `json:"type"`
	TSWallclock   string          `json:"ts_wallclock,omitempty"`
	TSMonotonicMS *int64          `json:"ts_monotonic_ms,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	SessionRef    string          `json:"session_ref,omitempty"`
	Visibility    string          `json:"visibility,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ParseErrorRow is one journal line the indexer could not decode.
type ParseErrorRow struct {
	ProjectID string `json:"project_id"`
	RunID     string `json:"run_id"`
	Seq       int64  `json:"seq"`
	Error     string `json:"error"`
	RawLine   string `json:"raw_line"`
}

// ArtifactRow is an artifact as the index sees it.
type ArtifactRow struct {
	ProjectID     string `json:"project_id"`
	ArtifactID    string `json:"artifact_id"`
	Type          string `json:"type"`
	Title         string `json:"title,omitempty"`
	Visibility    string `json:"visibility,omitempty"`
	ProducedBy    string `json:"produced_by,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	ContextPackID string `json:"context_pack_id,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	Relpath       string `json:"relpath"`
}

// ReviewRow is a review decision as the index sees it.
type ReviewRow struct {
	ReviewID          string `json:"review_id"`
	CreatedAt         string `json:"created_at"`
	Decision          string `json:"decision"`
	ActorID           string `json:"actor_id"`
	ActorRole         string `json:"actor_role"`
	SubjectKind       string `json:"subject_kind"`
	SubjectArtifactID string `json:"subject_artifact_id"`
	ProjectID         string `json:"project_id"`
	Notes             string `json:"notes,omitempty"`
}

// HelpRequestRow is a help request as the index sees it.
type HelpRequestRow struct {
	HelpRequestID string `json:"help_request_id"`
	CreatedAt     string `json:"created_at"`
	Title         string `json:"title"`
	Visibility    string `json:"visibility"`
	Requester     string `json:"requester"`
	TargetManager string `json:"target_manager"`
	ProjectID     string `json:"project_id,omitempty"`
	SharePackID   string `json:"share_pack_id,omitempty"`
}

// RunFilter narrows ListRuns. Zero values mean no filter; Limit 0 means
// unbounded.
type RunFilter struct {
	ProjectID string
	Status    string
	Limit     int
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(f RunFilter) ([]RunRow, error) {
	query := `SELECT project_id, run_id, created_at, status, provider,
		COALESCE(agent_id,''), COALESCE(context_pack_id,''), events_relpath
		FROM runs WHERE 1=1`
	var args []interface{}
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, run_id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.ProjectID, &r.RunID, &r.CreatedAt, &r.Status,
			&r.Provider, &r.AgentID, &r.ContextPackID, &r.EventsRelpath); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun looks up one run row; sql.ErrNoRows when absent.
func (s *Store) GetRun(projectID, runID string) (RunRow, error) {
	var r RunRow
	err := s.db.QueryRow(`SELECT project_id, run_id, created_at, status, provider,
		COALESCE(agent_id,''), COALESCE(context_pack_id,''), events_relpath
		FROM runs WHERE project_id=? AND run_id=?`, projectID, runID).
		Scan(&r.ProjectID, &r.RunID, &r.CreatedAt, &r.Status,
			&r.Provider, &r.AgentID, &r.ContextPackID, &r.EventsRelpath)
	return r, err
}

// RunStatusCounts tallies runs by status, optionally scoped to a project.
func (s *Store) RunStatusCounts(projectID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM runs`
	var args []interface{}
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListEvents returns a run's events with seq > afterSeq, ascending.
// Limit 0 means unbounded.
func (s *Store) ListEvents(projectID, runID string, afterSeq int64, limit int) ([]EventRow, error) {
	query := `SELECT project_id, run_id, seq, type, COALESCE(ts_wallclock,''),
		ts_monotonic_ms, COALESCE(actor,''), COALESCE(session_ref,''),
		COALESCE(visibility,''), payload_json
		FROM events WHERE project_id=? AND run_id=? AND seq>? ORDER BY seq ASC`
	args := []interface{}{projectID, runID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.scanEvents(query, args...)
}

// ListEventsByType returns the newest events of the given type across all
// runs, optionally scoped to a project.
func (s *Store) ListEventsByType(projectID, eventType string, limit int) ([]EventRow, error) {
	query := `SELECT project_id, run_id, seq, type, COALESCE(ts_wallclock,''),
		ts_monotonic_ms, COALESCE(actor,''), COALESCE(session_ref,''),
		COALESCE(visibility,''), payload_json
		FROM events WHERE type=?`
	args := []interface{}{eventType}
	if projectID != "" {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY ts_wallclock DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.scanEvents(query, args...)
}

// LastEventPerRun returns each run's highest-seq event, newest run first.
func (s *Store) LastEventPerRun(projectID string) (map[string]EventRow, error) {
	query := `SELECT e.project_id, e.run_id, e.seq, e.type, COALESCE(e.ts_wallclock,''),
		e.ts_monotonic_ms, COALESCE(e.actor,''), COALESCE(e.session_ref,''),
		COALESCE(e.visibility,''), e.payload_json
		FROM events e
		JOIN (SELECT project_id, run_id, MAX(seq) AS max_seq FROM events GROUP BY project_id, run_id) m
		ON e.project_id=m.project_id AND e.run_id=m.run_id AND e.seq=m.max_seq`
	var args []interface{}
	if projectID != "" {
		query += ` WHERE e.project_id=?`
		args = append(args, projectID)
	}
	events, err := s.scanEvents(query, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]EventRow, len(events))
	for _, e := range events {
		out[e.ProjectID+"/"+e.RunID] = e
	}
	return out, nil
}

func (s *Store) scanEvents(query string, args ...interface{}) ([]EventRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var payload string
		var mono sql.NullInt64
		if err := rows.Scan(&e.ProjectID, &e.RunID, &e.Seq, &e.Type, &e.TSWallclock,
			&mono, &e.Actor, &e.SessionRef, &e.Visibility, &payload); err != nil {
			return nil, err
		}
		if mono.Valid {
			v := mono.Int64
			e.TSMonotonicMS = &v
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListParseErrors returns a run's undecodable journal lines, ascending.
func (s *Store) ListParseErrors(projectID, runID string) ([]ParseErrorRow, error) {
	rows, err := s.db.Query(`SELECT project_id, run_id, seq, error, raw_line
		FROM event_parse_errors WHERE project_id=? AND run_id=? ORDER BY seq ASC`,
		projectID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParseErrorRow
	for rows.Next() {
		var p ParseErrorRow
		if err := rows.Scan(&p.ProjectID, &p.RunID, &p.Seq, &p.Error, &p.RawLine); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ArtifactFilter narrows ListArtifacts.
type ArtifactFilter struct {
	ProjectID string
	Type      string
	Limit     int
}

// ListArtifacts returns artifacts newest first.
func (s *Store) ListArtifacts(f ArtifactFilter) ([]ArtifactRow, error) {
	query := `SELECT project_id, artifact_id, type, COALESCE(title,''),
		COALESCE(visibility,''), COALESCE(produced_by,''), COALESCE(run_id,''),
		COALESCE(context_pack_id,''), COALESCE(created_at,''), relpath
		FROM artifacts WHERE 1=1`
	var args []interface{}
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		query += ` AND type=?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY created_at DESC, artifact_id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// UnreviewedArtifacts returns artifacts with no review row, oldest first,
// so managers triage the longest-waiting work first.
func (s *Store) UnreviewedArtifacts(limit int) ([]ArtifactRow, error) {
	query := `SELECT a.project_id, a.artifact_id, a.type, COALESCE(a.title,''),
		COALESCE(a.visibility,''), COALESCE(a.produced_by,''), COALESCE(a.run_id,''),
		COALESCE(a.context_pack_id,''), COALESCE(a.created_at,''), a.relpath
		FROM artifacts a
		LEFT JOIN reviews r ON r.subject_artifact_id = a.artifact_id AND r.project_id = a.project_id
		WHERE r.review_id IS NULL
		ORDER BY a.created_at ASC, a.artifact_id ASC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func scanArtifacts(rows *sql.Rows) ([]ArtifactRow, error) {
	var out []ArtifactRow
	for rows.Next() {
		var a ArtifactRow
		if err := rows.Scan(&a.ProjectID, &a.ArtifactID, &a.Type, &a.Title,
			&a.Visibility, &a.ProducedBy, &a.RunID, &a.ContextPackID,
			&a.CreatedAt, &a.Relpath); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListReviews returns reviews newest first; limit 0 means unbounded.
func (s *Store) ListReviews(limit int) ([]ReviewRow, error) {
	query := `SELECT review_id, created_at, decision, actor_id, actor_role,
		subject_kind, subject_artifact_id, project_id, COALESCE(notes,'')
		FROM reviews ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewRow
	for rows.Next() {
		var r ReviewRow
		if err := rows.Scan(&r.ReviewID, &r.CreatedAt, &r.Decision, &r.ActorID,
			&r.ActorRole, &r.SubjectKind, &r.SubjectArtifactID, &r.ProjectID, &r.Notes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReviewDecisionCounts tallies reviews by decision.
func (s *Store) ReviewDecisionCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT decision, COUNT(*) FROM reviews GROUP BY decision`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var decision string
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, err
		}
		counts[decision] = n
	}
	return counts, rows.Err()
}

// ListHelpRequests returns help requests newest first, optionally scoped
// to a target manager.
func (s *Store) ListHelpRequests(targetManager string, limit int) ([]HelpRequestRow, error) {
	query := `SELECT help_request_id, created_at, title, visibility, requester,
		target_manager, COALESCE(project_id,''), COALESCE(share_pack_id,'')
		FROM help_requests`
	var args []interface{}
	if targetManager != "" {
		query += ` WHERE target_manager=?`
		args = append(args, targetManager)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HelpRequestRow
	for rows.Next() {
		var h HelpRequestRow
		if err := rows.Scan(&h.HelpRequestID, &h.CreatedAt, &h.Title, &h.Visibility,
			&h.Requester, &h.TargetManager, &h.ProjectID, &h.SharePackID); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// EventTypeCounts tallies events by type, optionally scoped to a project.
func (s *Store) EventTypeCounts(projectID string) (map[string]int, error) {
	query := `SELECT type, COUNT(*) FROM events`
	var args []interface{}
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` GROUP BY type`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// ParseErrorCounts tallies parse errors per run within a project. Keys
// are run ids.
func (s *Store) ParseErrorCounts(projectID string) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT run_id, COUNT(*) FROM event_parse_errors WHERE project_id=? GROUP BY run_id`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var runID string
		var n int
		if err := rows.Scan(&runID, &n); err != nil {
			return nil, err
		}
		counts[runID] = n
	}
	return counts, rows.Err()
}

// TableCounts returns row counts for every index table.
func (s *Store) TableCounts() (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, table := range []string{"runs", "events", "event_parse_errors", "artifacts", "reviews", "help_requests"} {
		var n int64
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
