package executor

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/agentcompany/agentcompany/pkg/gitx"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// needsWorktree reports whether the run must execute inside an isolated
// git worktree: requested explicitly, or implied by a coding milestone.
func needsWorktree(spec types.RunSpec) bool {
	return spec.RequiresWorktree || spec.MilestoneKind == "coding"
}

// prepareWorkdir resolves the execution cwd, creating a worktree when
// isolation is required. Emits worktree.prepared before execution.
func (e *Engine) prepareWorkdir(st *runState) (string, error) {
	base := st.req.RepoPath
	if base == "" {
		base = e.ws.Root
	}

	if needsWorktree(st.req.Spec) {
		if st.req.RepoPath == "" {
			return "", fmt.Errorf("worktree isolation requires a repo path")
		}
		taskID := st.req.Spec.TaskID
		if taskID == "" {
			taskID = "adhoc"
		}
		branch := fmt.Sprintf("ac/%s/%s/%s", st.run.ProjectID, taskID, st.run.RunID)
		dest := e.ws.WorktreeDir(st.run.ProjectID, taskID, st.run.RunID)
		if err := gitx.WorktreeAdd(st.req.RepoPath, branch, dest); err != nil {
			return "", fmt.Errorf("failed to prepare worktree: %w", err)
		}
		st.emit(types.EventWorktreePrepared, map[string]string{
			"branch": branch,
			"path":   dest,
		})
		base = dest
	}

	if st.req.Spec.WorkdirRel != "" {
		base = filepath.Join(base, st.req.Spec.WorkdirRel)
	}
	return base, nil
}

// snapshotContextPack records the repo state the run was given: HEAD
// SHA, dirty flag, and a repo_dirty_patch artifact when the tree is
// dirty. Failures emit context_pack.snapshot_failed and the run
// proceeds without a pack.
func (e *Engine) snapshotContextPack(st *runState) {
	if st.req.Spec.RepoID == "" || st.req.RepoPath == "" {
		return
	}

	head, err := gitx.HeadSHA(st.req.RepoPath)
	if err != nil {
		st.emit(types.EventContextPackSnapshotFailed, map[string]string{"error": err.Error()})
		return
	}
	dirty, err := gitx.IsDirty(st.req.RepoPath)
	if err != nil {
		st.emit(types.EventContextPackSnapshotFailed, map[string]string{"error": err.Error()})
		return
	}

	manifest := &types.ContextPackManifest{
		ID:        workspace.NewID("ctx"),
		RepoID:    st.req.Spec.RepoID,
		HeadSHA:   head,
		Dirty:     dirty,
		CreatedAt: time.Now().UTC(),
	}

	if dirty {
		patch, err := gitx.DiffHead(st.req.RepoPath)
		if err != nil {
			st.emit(types.EventContextPackSnapshotFailed, map[string]string{"error": err.Error()})
			return
		}
		now := time.Now().UTC()
		art := &types.Artifact{
			ID:        workspace.NewID("art"),
			Type:      "repo_dirty_patch",
			Title:     "Uncommitted changes at run start",
			RunID:     st.run.RunID,
			CreatedAt: &now,
		}
		if err := e.ws.SaveArtifact(st.run.ProjectID, art, patch); err != nil {
			st.emit(types.EventContextPackSnapshotFailed, map[string]string{"error": err.Error()})
			return
		}
		manifest.DirtyPatchID = art.ID
	}

	if err := e.ws.SaveContextPack(st.run.ProjectID, manifest); err != nil {
		st.emit(types.EventContextPackSnapshotFailed, map[string]string{"error": err.Error()})
		return
	}

	st.run.ContextPackID = manifest.ID
	st.emit(types.EventContextPackSnapshotWritten, map[string]interface{}{
		"context_pack_id": manifest.ID,
		"head_sha":        head,
		"dirty":           dirty,
	})
}
