package service

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestAutoReviewer_FlagsIssuesFromReviewText(t *testing.T) {
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "Found a SQL injection in db.go line 42."}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}
	reviewer := NewAutoReviewer(factory, zap.NewNop())

	result, err := reviewer.Review(context.Background(), t.TempDir(), "add login", "diff --git a/db.go b/db.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.HasIssues {
		t.Error("expected review text describing a bug to be flagged as having issues")
	}
}

func TestAutoReviewer_NoIssuesWhenClean(t *testing.T) {
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "No issues found. Looks good."}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}
	reviewer := NewAutoReviewer(factory, zap.NewNop())

	result, err := reviewer.Review(context.Background(), t.TempDir(), "add login", "diff --git a/db.go b/db.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HasIssues {
		t.Error("expected a clean review to not be flagged as having issues")
	}
}

func TestAutoReviewer_PassesOnlyTaskAndDiff(t *testing.T) {
	var ran []string
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&recordingLLM{ran: &ran}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}
	reviewer := NewAutoReviewer(factory, zap.NewNop())

	if _, err := reviewer.Review(context.Background(), t.TempDir(), "add login", "some diff content"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ran) != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", len(ran))
	}
	if !strings.Contains(ran[0], "add login") || !strings.Contains(ran[0], "some diff content") {
		t.Errorf("expected prompt to include task and diff, got %q", ran[0])
	}
}

func TestRemediationPrompt_IncludesReviewText(t *testing.T) {
	review := &ReviewResult{HasIssues: true, ReviewText: "missing error handling in foo.go"}
	prompt := RemediationPrompt("add login", review)
	if !strings.Contains(prompt, "missing error handling in foo.go") {
		t.Error("expected remediation prompt to include the review text")
	}
	if !strings.Contains(prompt, "add login") {
		t.Error("expected remediation prompt to reference the original task")
	}
}
