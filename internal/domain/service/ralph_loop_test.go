package service

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"

	domaintool "github.com/architect-cli/architect/internal/domain/tool"
)

// doneLLM always answers with no tool calls, ending the loop on step 1.
type doneLLM struct{ content string }

func (d *doneLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	return &LLMResponse{Content: d.content, ModelUsed: "test-model"}, nil
}

func (d *doneLLM) GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	close(deltaCh)
	return d.Generate(ctx, req)
}

type noopTools struct{}

func (noopTools) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	return &domaintool.Result{Success: true}, nil
}
func (noopTools) GetDefinitions() []domaintool.Definition { return nil }
func (noopTools) GetToolKind(name string) domaintool.Kind { return domaintool.KindExecute }

func TestRalphLoop_SucceedsWhenChecksPass(t *testing.T) {
	dir := t.TempDir()
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "done"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}

	cfg := RalphLoopConfig{
		Task:          "do the thing",
		Checks:        []string{"true"},
		MaxIterations: 3,
		WorkDir:       dir,
	}
	loop := NewRalphLoop(cfg, factory, zap.NewNop())

	result, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success when checks pass on first iteration")
	}
	if len(result.Iterations) != 1 {
		t.Fatalf("expected 1 iteration, got %d", len(result.Iterations))
	}
	if !result.Iterations[0].Checks[0].Passed {
		t.Fatal("expected check to pass")
	}
}

func TestRalphLoop_StopsAtMaxIterationsWhenChecksFail(t *testing.T) {
	dir := t.TempDir()
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "still broken"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}

	cfg := RalphLoopConfig{
		Task:          "do the thing",
		Checks:        []string{"false"},
		MaxIterations: 2,
		WorkDir:       dir,
	}
	loop := NewRalphLoop(cfg, factory, zap.NewNop())

	result, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure when checks never pass")
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("expected 2 iterations (max_iterations), got %d", len(result.Iterations))
	}
}

func TestRalphLoop_CompletionTagAcceptsEarly(t *testing.T) {
	dir := t.TempDir()
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "ALL DONE: task complete"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}

	cfg := RalphLoopConfig{
		Task:          "do the thing",
		Checks:        []string{"false"}, // would never pass on its own
		CompletionTag: regexp.MustCompile(`ALL DONE`),
		MaxIterations: 5,
		WorkDir:       dir,
	}
	loop := NewRalphLoop(cfg, factory, zap.NewNop())

	result, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected completion tag to accept early")
	}
	if len(result.Iterations) != 1 {
		t.Fatalf("expected early accept after 1 iteration, got %d", len(result.Iterations))
	}
}

func TestRalphLoop_WritesProgressFile(t *testing.T) {
	dir := t.TempDir()
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "partial work"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}

	cfg := RalphLoopConfig{
		Task:          "do the thing",
		Checks:        []string{"false"},
		MaxIterations: 1,
		WorkDir:       dir,
	}
	loop := NewRalphLoop(cfg, factory, zap.NewNop())
	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	progressPath := filepath.Join(dir, ".architect", "progress.md")
	data, err := os.ReadFile(progressPath)
	if err != nil {
		t.Fatalf("expected progress.md to be written: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty progress.md")
	}
}

func TestBuildRalphPrompt_IncludesAllSections(t *testing.T) {
	prompt := buildRalphPrompt("task text", "spec text", "diff text", "error text", "progress text")
	for _, want := range []string{"task text", "spec text", "diff text", "error text", "progress text"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}
