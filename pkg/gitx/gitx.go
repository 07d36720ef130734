package gitx

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// run executes git in dir, wrapping a non-zero exit with the stderr text.
func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// HeadSHA returns the SHA of HEAD in the repo at dir.
func HeadSHA(dir string) (string, error) {
	return run(dir, "rev-parse", "HEAD")
}

// IsDirty reports whether the working tree at dir has uncommitted changes.
func IsDirty(dir string) (bool, error) {
	out, err := run(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// DiffHead captures the working tree's diff against HEAD.
func DiffHead(dir string) (string, error) {
	return run(dir, "diff", "HEAD")
}

// WorktreeAdd creates a new worktree at dest on a fresh branch from HEAD.
func WorktreeAdd(repoDir, branch, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create worktree parent: %w", err)
	}
	_, err := run(repoDir, "worktree", "add", "-b", branch, dest, "HEAD")
	return err
}

// WorktreeRemove detaches a worktree, discarding its local state.
func WorktreeRemove(repoDir, dest string) error {
	_, err := run(repoDir, "worktree", "remove", "--force", dest)
	return err
}
