package service

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func initParallelRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	runGit(t, dir, "commit", "--allow-empty", "-m", "seed")
	return dir
}

func TestParallelRunner_RunsAllTasksInOrder(t *testing.T) {
	repo := initParallelRepo(t)
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "done"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}

	cfg := ParallelRunnerConfig{
		Tasks:    []string{"task-a", "task-b", "task-c"},
		Workers:  2,
		RepoPath: repo,
	}
	runner := NewParallelRunner(cfg, factory, zap.NewNop())
	defer func() { _ = CleanupWorktrees(context.Background(), repo, zap.NewNop()) }()

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"task-a", "task-b", "task-c"} {
		if results[i].Task != want {
			t.Errorf("expected result %d to be for task %q, got %q (task-list order must be preserved)", i, want, results[i].Task)
		}
		if results[i].Status != WorkerStatusSuccess {
			t.Errorf("expected worker %d to succeed, got %s: %s", i, results[i].Status, results[i].Error)
		}
		if results[i].WorktreePath == "" {
			t.Errorf("expected worker %d to have a worktree path", i)
		}
	}
}

func TestParallelRunner_RoundRobinsModels(t *testing.T) {
	repo := initParallelRepo(t)
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "done"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}

	cfg := ParallelRunnerConfig{
		Tasks:    []string{"t1", "t2", "t3", "t4"},
		Workers:  4,
		Models:   []string{"model-a", "model-b"},
		RepoPath: repo,
	}
	runner := NewParallelRunner(cfg, factory, zap.NewNop())
	defer func() { _ = CleanupWorktrees(context.Background(), repo, zap.NewNop()) }()

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"model-a", "model-b", "model-a", "model-b"}
	for i, m := range want {
		if results[i].Model != m {
			t.Errorf("expected worker %d model %q, got %q", i, m, results[i].Model)
		}
	}
}

func TestParallelRunner_IsolatesWorkerFailures(t *testing.T) {
	repo := initParallelRepo(t)
	var mu sync.Mutex
	calls := 0
	factory := func(workDir string) (*AgentLoop, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			return nil, fmt.Errorf("boom")
		}
		return NewAgentLoop(&doneLLM{content: "done"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}

	cfg := ParallelRunnerConfig{
		Tasks:    []string{"t1", "t2", "t3"},
		Workers:  1, // serialize so the factory call order is deterministic
		RepoPath: repo,
	}
	runner := NewParallelRunner(cfg, factory, zap.NewNop())
	defer func() { _ = CleanupWorktrees(context.Background(), repo, zap.NewNop()) }()

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[1].Status != WorkerStatusFailed {
		t.Fatalf("expected worker 1 to fail, got %s", results[1].Status)
	}
	if results[0].Status != WorkerStatusSuccess || results[2].Status != WorkerStatusSuccess {
		t.Error("expected peer workers to succeed despite one failure")
	}
}

func TestCleanupWorktrees_RemovesParallelPrefixedWorktrees(t *testing.T) {
	repo := initParallelRepo(t)
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "done"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}
	cfg := ParallelRunnerConfig{Tasks: []string{"t1"}, Workers: 1, RepoPath: repo}
	runner := NewParallelRunner(cfg, factory, zap.NewNop())

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := CleanupWorktrees(context.Background(), repo, zap.NewNop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = repo
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected at least the main worktree to remain listed")
	}
	for _, r := range results {
		if containsParallelPrefix(r.WorktreePath) && strings.Contains(string(out), r.WorktreePath) {
			t.Errorf("expected worktree %s to be removed by cleanup", r.WorktreePath)
		}
	}
}
