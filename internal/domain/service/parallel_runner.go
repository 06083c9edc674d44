package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/architect-cli/architect/internal/domain/entity"
)

// WorkerStatus is the terminal state of one parallel worker.
type WorkerStatus string

const (
	WorkerStatusSuccess WorkerStatus = "success"
	WorkerStatusFailed  WorkerStatus = "failed"
)

// WorkerResult is the outcome of one task run in its own worktree.
type WorkerResult struct {
	WorkerID      int
	Task          string
	Branch        string
	Model         string
	Status        WorkerStatus
	Steps         int
	Cost          float64
	Duration      time.Duration
	FilesModified []string
	WorktreePath  string
	Error         string
}

// ParallelRunnerConfig configures a fan-out run.
type ParallelRunnerConfig struct {
	Tasks       []string
	Workers     int      // max concurrent workers; defaults to len(Tasks)
	Models      []string // round-robined across tasks when shorter than Tasks
	RepoPath    string   // repo root that worktrees branch off of
	ConfigPath  string   // propagated to each worker, never silently defaulted
	LLMEndpoint string   // propagated to each worker, never silently defaulted
}

// ParallelRunner fans independent tasks out into isolated git worktrees,
// each driven by its own Agent Loop. Workers share no in-memory state;
// coordination happens only at launch and join, mirroring the
// process-worker isolation model the grpc model-failover chain uses for
// picking a model per attempt, generalized here to round-robin across a
// task list instead of a retry chain.
type ParallelRunner struct {
	cfg     ParallelRunnerConfig
	factory AgentFactory
	logger  *zap.Logger
}

// NewParallelRunner creates a fan-out runner. factory is called once per
// worker with that worker's worktree path.
func NewParallelRunner(cfg ParallelRunnerConfig, factory AgentFactory, logger *zap.Logger) *ParallelRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = len(cfg.Tasks)
	}
	return &ParallelRunner{cfg: cfg, factory: factory, logger: logger.With(zap.String("component", "parallel-runner"))}
}

// Run launches up to cfg.Workers concurrent workers, one per task, and
// returns results in task-list order regardless of completion order.
func (p *ParallelRunner) Run(ctx context.Context) ([]WorkerResult, error) {
	results := make([]WorkerResult, len(p.cfg.Tasks))
	sem := make(chan struct{}, p.cfg.Workers)
	var wg sync.WaitGroup

	for i, task := range p.cfg.Tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int, task string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[id] = p.runWorker(ctx, id, task, p.assignModel(id))
		}(i, task)
	}

	wg.Wait()
	return results, nil
}

// assignModel round-robins the configured model list across worker ids.
func (p *ParallelRunner) assignModel(workerID int) string {
	if len(p.cfg.Models) == 0 {
		return ""
	}
	return p.cfg.Models[workerID%len(p.cfg.Models)]
}

func (p *ParallelRunner) runWorker(ctx context.Context, id int, task, model string) WorkerResult {
	start := time.Now()
	result := WorkerResult{WorkerID: id, Task: task, Model: model}

	worktree, branch, cleanup, err := p.createWorktree(ctx, id)
	if err != nil {
		result.Status = WorkerStatusFailed
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	result.Branch = branch
	result.WorktreePath = worktree

	loop, err := p.factory(worktree)
	if err != nil {
		result.Status = WorkerStatusFailed
		result.Error = fmt.Sprintf("agent factory failed: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	agentResult, eventCh := loop.Run(ctx, "", task, nil, model)
	for range eventCh {
	}

	result.Steps = agentResult.TotalSteps
	result.Cost = agentResult.CostUSD
	result.FilesModified = p.changedFiles(ctx, worktree)
	result.Duration = time.Since(start)

	if agentResult.StopReason != "" && agentResult.StopReason != entity.StopLLMDone {
		result.Status = WorkerStatusFailed
		result.Error = fmt.Sprintf("worker stopped early: %s", agentResult.StopReason)
	} else {
		result.Status = WorkerStatusSuccess
	}

	_ = cleanup // worktree retained for inspection; CleanupWorktrees removes it later
	return result
}

func (p *ParallelRunner) changedFiles(ctx context.Context, worktree string) []string {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = worktree
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	var files []string
	for _, line := range splitLines(string(out)) {
		if len(line) > 3 {
			files = append(files, line[3:])
		}
	}
	return files
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func (p *ParallelRunner) createWorktree(ctx context.Context, id int) (dir string, branch string, cleanup func(), err error) {
	stamp := time.Now().UnixNano()
	branch = fmt.Sprintf("architect-parallel-%d-%d", id, stamp)
	dir = filepath.Join(os.TempDir(), fmt.Sprintf(".architect-parallel-%d-%d", id, stamp))

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, dir)
	cmd.Dir = p.cfg.RepoPath
	if out, cmdErr := cmd.CombinedOutput(); cmdErr != nil {
		return "", "", nil, fmt.Errorf("git worktree add failed: %v: %s", cmdErr, out)
	}

	cleanup = func() {
		rm := exec.Command("git", "worktree", "remove", "--force", dir)
		rm.Dir = p.cfg.RepoPath
		if out, rmErr := rm.CombinedOutput(); rmErr != nil {
			p.logger.Warn("parallel runner: worktree cleanup failed", zap.Int("worker_id", id), zap.String("dir", dir), zap.Error(rmErr), zap.ByteString("output", out))
		}
	}
	return dir, branch, cleanup, nil
}

// CleanupWorktrees removes any worktree registered with the repository at
// repoPath whose directory name starts with the ".architect-parallel-" prefix. A separate operation from
// per-worker cleanup, for removing worktrees left behind by crashed or
// RetainWorktree-style runs.
func CleanupWorktrees(ctx context.Context, repoPath string, logger *zap.Logger) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "list", "--porcelain")
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("parallel runner: git worktree list failed: %w", err)
	}

	var removed int
	for _, line := range splitLines(string(out)) {
		if len(line) < 9 || line[:9] != "worktree " {
			continue
		}
		path := line[9:]
		if !containsParallelPrefix(path) {
			continue
		}
		rm := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
		rm.Dir = repoPath
		if rmOut, rmErr := rm.CombinedOutput(); rmErr != nil {
			logger.Warn("parallel runner: cleanup failed to remove worktree", zap.String("path", path), zap.Error(rmErr), zap.ByteString("output", rmOut))
			continue
		}
		removed++
	}
	logger.Info("parallel runner: cleanup complete", zap.Int("removed", removed))
	return nil
}

func containsParallelPrefix(path string) bool {
	base := filepath.Base(path)
	const prefix = ".architect-parallel-"
	return len(base) >= len(prefix) && base[:len(prefix)] == prefix
}
