package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/agentcompany/agentcompany/pkg/journal"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// Stats counts the work a rebuild or sync performed, per table.
type Stats struct {
	RunsIndexed         int `json:"runs_indexed"`
	RunsDeleted         int `json:"runs_deleted"`
	EventsIndexed       int `json:"events_indexed"`
	EventsDeleted       int `json:"events_deleted"`
	ParseErrorsIndexed  int `json:"parse_errors_indexed"`
	ParseErrorsDeleted  int `json:"parse_errors_deleted"`
	ArtifactsIndexed    int `json:"artifacts_indexed"`
	ArtifactsDeleted    int `json:"artifacts_deleted"`
	ReviewsIndexed      int `json:"reviews_indexed"`
	ReviewsDeleted      int `json:"reviews_deleted"`
	HelpRequestsIndexed int `json:"help_requests_indexed"`
	HelpRequestsDeleted int `json:"help_requests_deleted"`
}

// Empty reports whether the pass changed nothing.
func (s Stats) Empty() bool {
	return s == Stats{}
}

type runKey struct{ projectID, runID string }
type artifactKey struct{ projectID, artifactID string }

// Sync converges the index to the workspace's current files inside a
// single write transaction, under the workspace write lock.
func (s *Store) Sync(ws *workspace.Workspace) (Stats, error) {
	var stats Stats
	err := WithWorkspaceLock(ws.Root, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin sync transaction: %w", err)
		}
		defer tx.Rollback()

		stats, err = syncTx(tx, ws)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return stats, err
}

func syncTx(tx *sql.Tx, ws *workspace.Workspace) (Stats, error) {
	var stats Stats

	seenRuns := make(map[runKey]bool)
	seenArtifacts := make(map[artifactKey]bool)
	seenReviews := make(map[string]bool)
	seenHelp := make(map[string]bool)

	existingRuns, err := keysRuns(tx)
	if err != nil {
		return stats, err
	}
	existingArtifacts, err := keysArtifacts(tx)
	if err != nil {
		return stats, err
	}
	existingReviews, err := keysSingle(tx, "SELECT review_id FROM reviews")
	if err != nil {
		return stats, err
	}
	existingHelp, err := keysSingle(tx, "SELECT help_request_id FROM help_requests")
	if err != nil {
		return stats, err
	}

	projects, err := ws.ListProjects()
	if err != nil {
		return stats, fmt.Errorf("failed to list projects: %w", err)
	}

	for _, p := range projects {
		runIDs, err := ws.ListRuns(p.ID)
		if err != nil {
			return stats, err
		}
		for _, runID := range runIDs {
			run, err := ws.LoadRun(p.ID, runID)
			if err != nil {
				continue // unreadable run.yaml; existing rows will be dropped
			}
			seenRuns[runKey{p.ID, runID}] = true
			changed, err := upsertRun(tx, run)
			if err != nil {
				return stats, err
			}
			if changed {
				stats.RunsIndexed++
			}
			if err := syncRunEvents(tx, ws, p.ID, runID, &stats); err != nil {
				return stats, err
			}
		}

		artIDs, err := ws.ListArtifactIDs(p.ID)
		if err != nil {
			return stats, err
		}
		for _, artID := range artIDs {
			art, _, err := ws.LoadArtifact(p.ID, artID)
			if err != nil {
				continue
			}
			seenArtifacts[artifactKey{p.ID, artID}] = true
			changed, err := upsertArtifact(tx, p.ID, art)
			if err != nil {
				return stats, err
			}
			if changed {
				stats.ArtifactsIndexed++
			}
		}
	}

	reviewIDs, err := ws.ListReviewIDs()
	if err != nil {
		return stats, err
	}
	for _, id := range reviewIDs {
		rev, err := ws.LoadReview(id)
		if err != nil {
			continue
		}
		seenReviews[id] = true
		changed, err := upsertReview(tx, rev)
		if err != nil {
			return stats, err
		}
		if changed {
			stats.ReviewsIndexed++
		}
	}

	helpIDs, err := ws.ListHelpRequestIDs()
	if err != nil {
		return stats, err
	}
	for _, id := range helpIDs {
		hr, _, err := ws.LoadHelpRequest(id)
		if err != nil {
			continue
		}
		seenHelp[id] = true
		changed, err := upsertHelpRequest(tx, hr)
		if err != nil {
			return stats, err
		}
		if changed {
			stats.HelpRequestsIndexed++
		}
	}

	// Anything indexed at the start and not seen in this pass is gone from
	// the filesystem; delete it, cascading a run's event rows.
	for _, k := range existingRuns {
		if seenRuns[k] {
			continue
		}
		ed, pd, err := deleteRunEvents(tx, k.projectID, k.runID)
		if err != nil {
			return stats, err
		}
		stats.EventsDeleted += ed
		stats.ParseErrorsDeleted += pd
		if _, err := tx.Exec(`DELETE FROM runs WHERE project_id=? AND run_id=?`, k.projectID, k.runID); err != nil {
			return stats, err
		}
		stats.RunsDeleted++
	}
	for _, k := range existingArtifacts {
		if seenArtifacts[k] {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM artifacts WHERE project_id=? AND artifact_id=?`, k.projectID, k.artifactID); err != nil {
			return stats, err
		}
		stats.ArtifactsDeleted++
	}
	for _, id := range existingReviews {
		if seenReviews[id] {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM reviews WHERE review_id=?`, id); err != nil {
			return stats, err
		}
		stats.ReviewsDeleted++
	}
	for _, id := range existingHelp {
		if seenHelp[id] {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM help_requests WHERE help_request_id=?`, id); err != nil {
			return stats, err
		}
		stats.HelpRequestsDeleted++
	}

	return stats, nil
}

// syncRunEvents catches the event tables up to the journal's tail. When
// the journal has fewer lines than the index (truncation), the run's rows
// are dropped and indexing restarts at seq 1.
func syncRunEvents(tx *sql.Tx, ws *workspace.Workspace, projectID, runID string, stats *Stats) error {
	var maxEvents, maxErrors sql.NullInt64
	if err := tx.QueryRow(
		`SELECT MAX(seq) FROM events WHERE project_id=? AND run_id=?`, projectID, runID,
	).Scan(&maxEvents); err != nil {
		return err
	}
	if err := tx.QueryRow(
		`SELECT MAX(seq) FROM event_parse_errors WHERE project_id=? AND run_id=?`, projectID, runID,
	).Scan(&maxErrors); err != nil {
		return err
	}
	maxIndexed := maxEvents.Int64
	if maxErrors.Int64 > maxIndexed {
		maxIndexed = maxErrors.Int64
	}

	lines, err := journal.ReadLines(ws.EventsFile(projectID, runID))
	if err != nil {
		return err
	}
	tail := int64(len(lines))

	if maxIndexed > tail {
		ed, pd, err := deleteRunEvents(tx, projectID, runID)
		if err != nil {
			return err
		}
		stats.EventsDeleted += ed
		stats.ParseErrorsDeleted += pd
		maxIndexed = 0
	}

	for _, line := range lines {
		if line.Seq <= maxIndexed {
			continue
		}
		env, decErr := journal.Decode(line)
		if decErr != nil {
			if err := upsertParseError(tx, projectID, runID, line.Seq, decErr.Error(), line.Raw); err != nil {
				return err
			}
			stats.ParseErrorsIndexed++
			n, err := execCount(tx, `DELETE FROM events WHERE project_id=? AND run_id=? AND seq=?`, projectID, runID, line.Seq)
			if err != nil {
				return err
			}
			stats.EventsDeleted += n
			continue
		}
		if err := upsertEvent(tx, projectID, runID, line.Seq, env, line.Raw); err != nil {
			return err
		}
		stats.EventsIndexed++
		n, err := execCount(tx, `DELETE FROM event_parse_errors WHERE project_id=? AND run_id=? AND seq=?`, projectID, runID, line.Seq)
		if err != nil {
			return err
		}
		stats.ParseErrorsDeleted += n
	}
	return nil
}

func deleteRunEvents(tx *sql.Tx, projectID, runID string) (events, parseErrors int, err error) {
	events, err = execCount(tx, `DELETE FROM events WHERE project_id=? AND run_id=?`, projectID, runID)
	if err != nil {
		return 0, 0, err
	}
	parseErrors, err = execCount(tx, `DELETE FROM event_parse_errors WHERE project_id=? AND run_id=?`, projectID, runID)
	if err != nil {
		return 0, 0, err
	}
	return events, parseErrors, nil
}

func execCount(tx *sql.Tx, query string, args ...interface{}) (int, error) {
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// upsertRun writes the run row, reporting whether anything changed so an
// idempotent re-sync counts zero upserts.
func upsertRun(tx *sql.Tx, run *types.Run) (bool, error) {
	createdAt := run.CreatedAt.UTC().Format(time.RFC3339Nano)
	var existingStatus, existingCreated string
	err := tx.QueryRow(
		`SELECT status, created_at FROM runs WHERE project_id=? AND run_id=?`,
		run.ProjectID, run.RunID,
	).Scan(&existingStatus, &existingCreated)
	if err == nil && existingStatus == string(run.Status) && existingCreated == createdAt {
		return false, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	_, err = tx.Exec(`
		INSERT INTO runs (project_id, run_id, created_at, status, provider, agent_id, context_pack_id, events_relpath)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, run_id) DO UPDATE SET
			created_at=excluded.created_at, status=excluded.status,
			provider=excluded.provider, agent_id=excluded.agent_id,
			context_pack_id=excluded.context_pack_id, events_relpath=excluded.events_relpath`,
		run.ProjectID, run.RunID, createdAt, string(run.Status), run.Provider,
		nullable(run.AgentID), nullable(run.ContextPackID), run.EventsRelpath())
	return true, err
}

func upsertEvent(tx *sql.Tx, projectID, runID string, seq int64, env types.Envelope, raw string) error {
	var mono interface{}
	if env.TSMonotonicMS != nil {
		mono = *env.TSMonotonicMS
	}
	_, err := tx.Exec(`
		INSERT INTO events (project_id, run_id, seq, type, ts_wallclock, ts_monotonic_ms, actor, session_ref, visibility, payload_json, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, run_id, seq) DO UPDATE SET
			type=excluded.type, ts_wallclock=excluded.ts_wallclock,
			ts_monotonic_ms=excluded.ts_monotonic_ms, actor=excluded.actor,
			session_ref=excluded.session_ref, visibility=excluded.visibility,
			payload_json=excluded.payload_json, raw_json=excluded.raw_json`,
		projectID, runID, seq, string(env.Type), nullable(env.TSWallclock), mono,
		nullable(env.Actor), nullable(env.SessionRef), nullable(string(env.Visibility)),
		string(env.Payload), raw)
	return err
}

func upsertParseError(tx *sql.Tx, projectID, runID string, seq int64, errText, raw string) error {
	_, err := tx.Exec(`
		INSERT INTO event_parse_errors (project_id, run_id, seq, error, raw_line)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, run_id, seq) DO UPDATE SET
			error=excluded.error, raw_line=excluded.raw_line`,
		projectID, runID, seq, errText, raw)
	return err
}

// upsertArtifact, upsertReview and upsertHelpRequest guard their DO
// UPDATE with a changed-row predicate, so re-syncing an unchanged file
// affects zero rows and an idempotent pass reports empty stats.
func upsertArtifact(tx *sql.Tx, projectID string, a *types.Artifact) (bool, error) {
	var createdAt interface{}
	if a.CreatedAt != nil {
		createdAt = a.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := tx.Exec(`
		INSERT INTO artifacts (project_id, artifact_id, type, title, visibility, produced_by, run_id, context_pack_id, created_at, relpath)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, artifact_id) DO UPDATE SET
			type=excluded.type, title=excluded.title, visibility=excluded.visibility,
			produced_by=excluded.produced_by, run_id=excluded.run_id,
			context_pack_id=excluded.context_pack_id, created_at=excluded.created_at,
			relpath=excluded.relpath
		WHERE artifacts.type IS NOT excluded.type
			OR artifacts.title IS NOT excluded.title
			OR artifacts.visibility IS NOT excluded.visibility
			OR artifacts.produced_by IS NOT excluded.produced_by
			OR artifacts.run_id IS NOT excluded.run_id
			OR artifacts.context_pack_id IS NOT excluded.context_pack_id
			OR artifacts.created_at IS NOT excluded.created_at
			OR artifacts.relpath IS NOT excluded.relpath`,
		projectID, a.ID, a.Type, nullable(a.Title), nullable(string(a.Visibility)),
		nullable(a.ProducedBy), nullable(a.RunID), nullable(a.ContextPackID), createdAt,
		fmt.Sprintf("artifacts/%s.md", a.ID))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func upsertReview(tx *sql.Tx, r *types.Review) (bool, error) {
	res, err := tx.Exec(`
		INSERT INTO reviews (review_id, created_at, decision, actor_id, actor_role, subject_kind, subject_artifact_id, project_id, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(review_id) DO UPDATE SET
			created_at=excluded.created_at, decision=excluded.decision,
			actor_id=excluded.actor_id, actor_role=excluded.actor_role,
			subject_kind=excluded.subject_kind, subject_artifact_id=excluded.subject_artifact_id,
			project_id=excluded.project_id, notes=excluded.notes
		WHERE reviews.created_at IS NOT excluded.created_at
			OR reviews.decision IS NOT excluded.decision
			OR reviews.actor_id IS NOT excluded.actor_id
			OR reviews.actor_role IS NOT excluded.actor_role
			OR reviews.subject_kind IS NOT excluded.subject_kind
			OR reviews.subject_artifact_id IS NOT excluded.subject_artifact_id
			OR reviews.project_id IS NOT excluded.project_id
			OR reviews.notes IS NOT excluded.notes`,
		r.ReviewID, r.CreatedAt.UTC().Format(time.RFC3339Nano), string(r.Decision),
		r.ActorID, r.ActorRole, r.SubjectKind, r.SubjectArtifactID, r.ProjectID,
		nullable(r.Notes))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func upsertHelpRequest(tx *sql.Tx, h *types.HelpRequest) (bool, error) {
	res, err := tx.Exec(`
		INSERT INTO help_requests (help_request_id, created_at, title, visibility, requester, target_manager, project_id, share_pack_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(help_request_id) DO UPDATE SET
			created_at=excluded.created_at, title=excluded.title,
			visibility=excluded.visibility, requester=excluded.requester,
			target_manager=excluded.target_manager, project_id=excluded.project_id,
			share_pack_id=excluded.share_pack_id
		WHERE help_requests.created_at IS NOT excluded.created_at
			OR help_requests.title IS NOT excluded.title
			OR help_requests.visibility IS NOT excluded.visibility
			OR help_requests.requester IS NOT excluded.requester
			OR help_requests.target_manager IS NOT excluded.target_manager
			OR help_requests.project_id IS NOT excluded.project_id
			OR help_requests.share_pack_id IS NOT excluded.share_pack_id`,
		h.HelpRequestID, h.CreatedAt.UTC().Format(time.RFC3339Nano), h.Title,
		string(h.Visibility), h.Requester, h.TargetManager,
		nullable(h.ProjectID), nullable(h.SharePackID))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func keysRuns(tx *sql.Tx) ([]runKey, error) {
	rows, err := tx.Query(`SELECT project_id, run_id FROM runs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []runKey
	for rows.Next() {
		var k runKey
		if err := rows.Scan(&k.projectID, &k.runID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func keysArtifacts(tx *sql.Tx) ([]artifactKey, error) {
	rows, err := tx.Query(`SELECT project_id, artifact_id FROM artifacts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []artifactKey
	for rows.Next() {
		var k artifactKey
		if err := rows.Scan(&k.projectID, &k.artifactID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func keysSingle(tx *sql.Tx, query string) ([]string, error) {
	rows, err := tx.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
