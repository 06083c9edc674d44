package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CheckResult is the outcome of one ralph-loop check command.
type CheckResult struct {
	Command string
	Passed  bool
	Output  string
}

// RalphIteration records one pass through the loop, for progress.md and the
// final RalphResult.
type RalphIteration struct {
	Number  int
	Output  string
	Checks  []CheckResult
	CostUSD float64
}

// RalphLoopConfig configures iterate-until-green driving of an Agent Loop.
type RalphLoopConfig struct {
	Task          string
	SpecFile      string         // optional path to a spec document prepended to each prompt
	Checks        []string       // shell commands, must all pass to stop
	CheckTimeout  time.Duration  // per-check timeout (default 30s)
	CompletionTag *regexp.Regexp // optional early-accept pattern over final_output

	MaxIterations int           // default 25
	MaxCost       float64       // 0 = unlimited
	MaxTime       time.Duration // 0 = unlimited

	WorktreeEnabled bool
	WorkDir         string // repo root; worktree is created under here when enabled
	RetainWorktree  bool   // skip cleanup for inspection
}

// RalphResult is the final outcome of a ralph loop run.
type RalphResult struct {
	Success     bool
	Iterations  []RalphIteration
	TotalCost   float64
	Duration    time.Duration
	WorktreeDir string
}

// AgentFactory builds a fresh Agent Loop rooted at workDir. Ralph Loop,
// Pipeline Runner, Parallel Runner, and Auto-Reviewer all drive independent
// Agent Loop instances this way rather than reusing one — each needs its
// own tool registry/sandbox confined to its own workspace or worktree.
type AgentFactory func(workDir string) (*AgentLoop, error)

// RalphLoop drives an Agent Loop iteratively until its configured checks
// pass or a budget is exhausted. Grounded on ConfigWatcher's polling-loop
// shape, generalized from "reload on file change" to "reiterate until
// checks pass".
type RalphLoop struct {
	cfg     RalphLoopConfig
	factory AgentFactory
	logger  *zap.Logger
}

// NewRalphLoop creates a ralph loop driver. factory is invoked once per
// iteration, with or without worktree isolation, to obtain a fresh Agent
// Loop.
func NewRalphLoop(cfg RalphLoopConfig, factory AgentFactory, logger *zap.Logger) *RalphLoop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 30 * time.Second
	}
	return &RalphLoop{cfg: cfg, factory: factory, logger: logger.With(zap.String("component", "ralph-loop"))}
}

// Run drives the loop to completion, returning the accumulated result.
func (r *RalphLoop) Run(ctx context.Context) (*RalphResult, error) {
	start := time.Now()
	result := &RalphResult{}

	workDir := r.cfg.WorkDir
	if r.cfg.WorktreeEnabled {
		wt, cleanup, err := r.createWorktree(ctx)
		if err != nil {
			return nil, fmt.Errorf("ralph loop: worktree setup failed: %w", err)
		}
		workDir = wt
		result.WorktreeDir = wt
		if !r.cfg.RetainWorktree {
			defer cleanup()
		}
	}

	progressPath := filepath.Join(workDir, ".architect", "progress.md")
	specContent := ""
	if r.cfg.SpecFile != "" {
		if data, err := os.ReadFile(r.cfg.SpecFile); err == nil {
			specContent = string(data)
		} else {
			r.logger.Warn("ralph loop: spec_file unreadable", zap.String("path", r.cfg.SpecFile), zap.Error(err))
		}
	}

	var prevErrors string
	for n := 1; n <= r.cfg.MaxIterations; n++ {
		if r.cfg.MaxTime > 0 && time.Since(start) > r.cfg.MaxTime {
			r.logger.Warn("ralph loop: max_time exhausted", zap.Duration("elapsed", time.Since(start)))
			break
		}
		if r.cfg.MaxCost > 0 && result.TotalCost > r.cfg.MaxCost {
			r.logger.Warn("ralph loop: max_cost exhausted", zap.Float64("spent", result.TotalCost))
			break
		}

		diff := r.currentDiff(ctx, workDir)
		progress := readProgress(progressPath)
		prompt := buildRalphPrompt(r.cfg.Task, specContent, diff, prevErrors, progress)

		loop, err := r.factory(workDir)
		if err != nil {
			return nil, fmt.Errorf("ralph loop: agent factory failed: %w", err)
		}

		agentResult, eventCh := loop.Run(ctx, "", prompt, nil, "")
		for range eventCh {
		}

		iteration := RalphIteration{Number: n, Output: agentResult.FinalContent, CostUSD: agentResult.CostUSD}
		result.TotalCost += agentResult.CostUSD

		if r.cfg.CompletionTag != nil && r.cfg.CompletionTag.MatchString(agentResult.FinalContent) {
			iteration.Checks = nil
			result.Iterations = append(result.Iterations, iteration)
			result.Success = true
			result.Duration = time.Since(start)
			return result, nil
		}

		checks, allPassed, failSummary := r.runChecks(ctx, workDir)
		iteration.Checks = checks
		result.Iterations = append(result.Iterations, iteration)

		appendProgress(progressPath, n, agentResult.FinalContent, checks)

		if allPassed {
			result.Success = true
			result.Duration = time.Since(start)
			return result, nil
		}
		prevErrors = failSummary
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (r *RalphLoop) runChecks(ctx context.Context, workDir string) ([]CheckResult, bool, string) {
	var results []CheckResult
	var failures strings.Builder
	allPassed := true

	for _, check := range r.cfg.Checks {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.CheckTimeout)
		cmd := exec.CommandContext(cctx, "sh", "-c", check)
		cmd.Dir = workDir
		out, err := cmd.CombinedOutput()
		cancel()

		output := string(out)
		if len(output) > 2000 {
			output = output[:2000] + "\n... (truncated)"
		}

		passed := err == nil
		results = append(results, CheckResult{Command: check, Passed: passed, Output: output})
		if !passed {
			allPassed = false
			fmt.Fprintf(&failures, "check failed: %s\n%s\n\n", check, output)
		}
	}

	return results, allPassed, failures.String()
}

func (r *RalphLoop) currentDiff(ctx context.Context, workDir string) string {
	cmd := exec.CommandContext(ctx, "git", "diff")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

func (r *RalphLoop) createWorktree(ctx context.Context) (string, func(), error) {
	branch := fmt.Sprintf("architect-ralph-%d", time.Now().UnixNano())
	dir := filepath.Join(os.TempDir(), branch)

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, dir)
	cmd.Dir = r.cfg.WorkDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", nil, fmt.Errorf("git worktree add failed: %v: %s", err, out)
	}

	cleanup := func() {
		rm := exec.Command("git", "worktree", "remove", "--force", dir)
		rm.Dir = r.cfg.WorkDir
		if out, err := rm.CombinedOutput(); err != nil {
			r.logger.Warn("ralph loop: worktree cleanup failed", zap.String("dir", dir), zap.Error(err), zap.ByteString("output", out))
		}
	}
	return dir, cleanup, nil
}

func buildRalphPrompt(task, spec, diff, prevErrors, progress string) string {
	var b strings.Builder
	b.WriteString(task)
	if spec != "" {
		b.WriteString("\n\n## Spec\n\n")
		b.WriteString(spec)
	}
	if diff != "" {
		b.WriteString("\n\n## Current diff\n\n```diff\n")
		b.WriteString(diff)
		b.WriteString("\n```\n")
	}
	if prevErrors != "" {
		b.WriteString("\n\n## Failing checks from the previous iteration\n\n")
		b.WriteString(prevErrors)
	}
	if progress != "" {
		b.WriteString("\n\n## Progress so far\n\n")
		b.WriteString(progress)
	}
	return b.String()
}

func readProgress(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func appendProgress(path string, n int, output string, checks []CheckResult) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "## Iteration %d\n\n%s\n\n", n, strings.TrimSpace(output))
	for _, c := range checks {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(f, "- [%s] `%s`\n", status, c.Command)
	}
	f.WriteString("\n")
}
