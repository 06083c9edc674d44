package service

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"
)

const reviewSystemPrompt = `You are reviewing a diff produced by another agent. You were not involved
in writing it and have no memory of how it was built — judge only what is
in front of you.

Look for: bugs, security issues, convention violations, missing tests,
and opportunities for improvement. Your tools are read-only; you cannot
modify anything.

If you find nothing worth flagging, say so plainly. Otherwise list each
issue concretely, quoting the file and the problem.`

var issuesFoundPattern = regexp.MustCompile(`(?i)no (issues|problems) found|looks good|nothing to flag`)

// ReviewResult is the outcome of a clean-context review pass over a diff.
type ReviewResult struct {
	HasIssues  bool
	ReviewText string
	CostUSD    float64
}

// AutoReviewer drives a fresh, read-only Agent Loop over {task, diff} —
// never the builder's own step history — so its judgment isn't anchored
// to whatever the builder already decided. Grounded on AgentSelector's
// single-purpose selection contract, generalized from "pick an agent for
// a message" to "construct the one agent this review needs".
type AutoReviewer struct {
	factory AgentFactory
	logger  *zap.Logger
}

// NewAutoReviewer creates a reviewer. factory must hand back an Agent Loop
// whose tool registry is confined to read-only tools.
func NewAutoReviewer(factory AgentFactory, logger *zap.Logger) *AutoReviewer {
	return &AutoReviewer{factory: factory, logger: logger.With(zap.String("component", "auto-reviewer"))}
}

// Review runs one clean-context pass over task and diff.
func (r *AutoReviewer) Review(ctx context.Context, workDir, task, diff string) (*ReviewResult, error) {
	loop, err := r.factory(workDir)
	if err != nil {
		return nil, fmt.Errorf("auto reviewer: agent factory failed: %w", err)
	}

	prompt := fmt.Sprintf("## Task\n\n%s\n\n## Diff\n\n```diff\n%s\n```\n", task, diff)

	agentResult, eventCh := loop.Run(ctx, reviewSystemPrompt, prompt, nil, "")
	for range eventCh {
	}

	hasIssues := !issuesFoundPattern.MatchString(agentResult.FinalContent)
	return &ReviewResult{
		HasIssues:  hasIssues,
		ReviewText: agentResult.FinalContent,
		CostUSD:    agentResult.CostUSD,
	}, nil
}

// RemediationPrompt turns a ReviewResult with issues into a follow-up
// prompt for a builder agent to fix them. Calling this when HasIssues is
// false still produces a usable (if empty-bodied) prompt.
func RemediationPrompt(task string, review *ReviewResult) string {
	return fmt.Sprintf(
		"A review of your previous work on %q found issues that need fixing:\n\n%s\n\nAddress each point, then summarize what changed.",
		task, review.ReviewText,
	)
}
