// Package vcs provides git-backed restore points for agent runs.
package vcs

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// checkpointPrefix tags every commit the manager creates so later tooling
// (and operators reading `git log`) can grep for them.
const checkpointPrefix = "architect:checkpoint"

// Checkpoint is one recorded restore point.
type Checkpoint struct {
	CommitID  string
	StepName  string
	Message   string
	CreatedAt time.Time
}

// Manager wraps a workspace's git repository as a checkpoint backing store.
// No git library is used — the teacher's own git_tool.go already shells out
// to the git binary for diff/log/commit, and this generalizes that same
// approach to create/list/rollback.
type Manager struct {
	repoPath string
	logger   *zap.Logger
}

// NewManager creates a checkpoint manager rooted at repoPath (a git
// worktree or the main repository).
func NewManager(repoPath string, logger *zap.Logger) *Manager {
	return &Manager{repoPath: repoPath, logger: logger}
}

func (m *Manager) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoPath
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Create stages all current changes and commits them with a subject
// prefixed `architect:checkpoint`. Returns the empty string (no error) if
// there was nothing to stage.
func (m *Manager) Create(ctx context.Context, stepName, message string) (string, error) {
	if _, stderr, err := m.run(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("checkpoint: git add -A failed: %v: %s", err, stderr)
	}

	if _, _, err := m.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		// Exit code 0 from `diff --cached --quiet` means no staged changes.
		m.logger.Debug("checkpoint: no staged changes, skipping commit", zap.String("step", stepName))
		return "", nil
	}

	subject := fmt.Sprintf("%s: %s", checkpointPrefix, stepName)
	if message != "" {
		subject = fmt.Sprintf("%s\n\n%s", subject, message)
	}

	if _, stderr, err := m.run(ctx, "commit", "-m", subject); err != nil {
		return "", fmt.Errorf("checkpoint: git commit failed: %v: %s", err, stderr)
	}

	commitID, stderr, err := m.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("checkpoint: git rev-parse HEAD failed: %v: %s", err, stderr)
	}
	commitID = strings.TrimSpace(commitID)

	m.logger.Info("checkpoint created", zap.String("step", stepName), zap.String("commit", commitID))
	return commitID, nil
}

// List parses `git log --grep=architect:checkpoint` into ordered checkpoints,
// oldest first.
func (m *Manager) List(ctx context.Context) ([]Checkpoint, error) {
	format := "%H%x01%ct%x01%s"
	stdout, stderr, err := m.run(ctx, "log", "--grep="+checkpointPrefix, "--pretty=format:"+format)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: git log failed: %v: %s", err, stderr)
	}

	var checkpoints []Checkpoint
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x01", 3)
		if len(parts) != 3 {
			continue
		}
		var unixSec int64
		fmt.Sscanf(parts[1], "%d", &unixSec)
		subject := strings.TrimPrefix(parts[2], checkpointPrefix+": ")
		checkpoints = append(checkpoints, Checkpoint{
			CommitID:  parts[0],
			StepName:  subject,
			Message:   parts[2],
			CreatedAt: time.Unix(unixSec, 0),
		})
	}

	// git log lists newest first; reverse to oldest-first.
	for i, j := 0, len(checkpoints)-1; i < j; i, j = i+1, j-1 {
		checkpoints[i], checkpoints[j] = checkpoints[j], checkpoints[i]
	}
	return checkpoints, nil
}

// Rollback resets the workspace to target (a step name or commit id) with
// `git reset --hard`. Destructive: any uncommitted work is discarded.
func (m *Manager) Rollback(ctx context.Context, target string) error {
	commitID := target
	if !looksLikeCommitID(target) {
		checkpoints, err := m.List(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, c := range checkpoints {
			if c.StepName == target {
				commitID = c.CommitID
				found = true
			}
		}
		if !found {
			return fmt.Errorf("checkpoint: no checkpoint named %q", target)
		}
	}

	if _, stderr, err := m.run(ctx, "reset", "--hard", commitID); err != nil {
		return fmt.Errorf("checkpoint: git reset --hard failed: %v: %s", err, stderr)
	}
	m.logger.Warn("checkpoint rollback", zap.String("target", target), zap.String("commit", commitID))
	return nil
}

// HasChangesSince reports whether the working tree (including untracked
// files) differs from commitID.
func (m *Manager) HasChangesSince(ctx context.Context, commitID string) (bool, error) {
	if _, stderr, err := m.run(ctx, "diff", "--quiet", commitID); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return true, nil
		}
		return false, fmt.Errorf("checkpoint: git diff failed: %v: %s", err, stderr)
	}

	untracked, stderr, err := m.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return false, fmt.Errorf("checkpoint: git ls-files failed: %v: %s", err, stderr)
	}
	return strings.TrimSpace(untracked) != "", nil
}

func looksLikeCommitID(s string) bool {
	if len(s) < 7 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
