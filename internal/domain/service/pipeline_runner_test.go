package service

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/architect-cli/architect/internal/infrastructure/vcs"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v: %s", args, err, out)
	}
}

func initPipelineRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "seed")
	return dir
}

func TestParsePipelineDefinition_Valid(t *testing.T) {
	yamlDoc := []byte(`
steps:
  - name: write-tests
    agent: builder
    prompt: "write tests for {{feature}}"
    output_var: test_output
  - name: review
    agent: reviewer
    prompt: "review the diff"
    condition: test_output
    checkpoint: true
`)
	def, err := ParsePipelineDefinition(yamlDoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(def.Steps))
	}
	if def.Steps[0].OutputVar != "test_output" {
		t.Errorf("expected output_var to be parsed")
	}
	if !def.Steps[1].Checkpoint {
		t.Errorf("expected checkpoint to be parsed true")
	}
}

func TestParsePipelineDefinition_EmptyStepsRejected(t *testing.T) {
	_, err := ParsePipelineDefinition([]byte("steps: []\n"))
	if err == nil {
		t.Fatal("expected validation error for empty steps")
	}
	var verr *PipelineValidationError
	if ok := asValidationError(err, &verr); !ok {
		t.Fatalf("expected PipelineValidationError, got %T", err)
	}
}

func TestParsePipelineDefinition_MissingPromptAggregatesViolations(t *testing.T) {
	yamlDoc := []byte(`
steps:
  - name: a
    agent: builder
  - name: ""
    agent: builder
    prompt: "ok"
`)
	_, err := ParsePipelineDefinition(yamlDoc)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *PipelineValidationError
	if !asValidationError(err, &verr) {
		t.Fatalf("expected PipelineValidationError, got %T", err)
	}
	if len(verr.Violations) != 2 {
		t.Fatalf("expected 2 aggregated violations, got %d: %v", len(verr.Violations), verr.Violations)
	}
}

func TestParsePipelineDefinition_UnknownKeyRejected(t *testing.T) {
	yamlDoc := []byte(`
steps:
  - name: a
    agent: builder
    prompt: "ok"
    bogus_field: true
`)
	if _, err := ParsePipelineDefinition(yamlDoc); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func asValidationError(err error, target **PipelineValidationError) bool {
	if verr, ok := err.(*PipelineValidationError); ok {
		*target = verr
		return true
	}
	return false
}

func TestPipelineRunner_RunsStepsAndBindsOutputVar(t *testing.T) {
	def := &PipelineDefinition{Steps: []PipelineStep{
		{Name: "step1", Agent: "builder", Prompt: "do {{feature}}", OutputVar: "step1_out"},
		{Name: "step2", Agent: "builder", Prompt: "use {{step1_out}}", Condition: "step1_out"},
	}}
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&doneLLM{content: "result"}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}
	runner := NewPipelineRunner(def, factory, nil, t.TempDir(), zap.NewNop())

	result, err := runner.Run(context.Background(), map[string]interface{}{"feature": "auth"}, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(result.Steps))
	}
	if result.Steps[0].ResolvedPrompt != "do auth" {
		t.Errorf("expected var substitution, got %q", result.Steps[0].ResolvedPrompt)
	}
	if result.Steps[1].Status != StepStatusSuccess {
		t.Errorf("expected step2 to run since step1_out is truthy, got %s", result.Steps[1].Status)
	}
	if result.Steps[1].ResolvedPrompt != "use result" {
		t.Errorf("expected output_var binding to flow into step2, got %q", result.Steps[1].ResolvedPrompt)
	}
}

func TestPipelineRunner_SkipsStepWhenConditionFalse(t *testing.T) {
	def := &PipelineDefinition{Steps: []PipelineStep{
		{Name: "maybe", Agent: "builder", Prompt: "do it", Condition: "enabled"},
	}}
	factory := func(workDir string) (*AgentLoop, error) {
		t.Fatal("factory should not be called for a skipped step")
		return nil, nil
	}
	runner := NewPipelineRunner(def, factory, nil, t.TempDir(), zap.NewNop())

	result, err := runner.Run(context.Background(), map[string]interface{}{"enabled": false}, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Steps[0].Status != StepStatusSkipped {
		t.Fatalf("expected step to be skipped, got %s", result.Steps[0].Status)
	}
}

func TestPipelineRunner_FromStepSkipsEarlierSteps(t *testing.T) {
	var ran []string
	def := &PipelineDefinition{Steps: []PipelineStep{
		{Name: "first", Agent: "builder", Prompt: "a"},
		{Name: "second", Agent: "builder", Prompt: "b"},
	}}
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&recordingLLM{ran: &ran}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}
	runner := NewPipelineRunner(def, factory, nil, t.TempDir(), zap.NewNop())

	result, err := runner.Run(context.Background(), nil, "second", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Steps) != 1 || result.Steps[0].Name != "second" {
		t.Fatalf("expected only 'second' to run, got %+v", result.Steps)
	}
}

func TestPipelineRunner_DryRunDoesNotExecute(t *testing.T) {
	def := &PipelineDefinition{Steps: []PipelineStep{
		{Name: "step1", Agent: "builder", Prompt: "do {{feature}}"},
	}}
	factory := func(workDir string) (*AgentLoop, error) {
		t.Fatal("factory should not be called in dry run")
		return nil, nil
	}
	runner := NewPipelineRunner(def, factory, nil, t.TempDir(), zap.NewNop())

	result, err := runner.Run(context.Background(), map[string]interface{}{"feature": "auth"}, "", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.DryRun {
		t.Error("expected DryRun flag set")
	}
	if result.Steps[0].ResolvedPrompt != "do {{feature}}" {
		t.Errorf("expected placeholders to remain visible in dry run plan, got %q", result.Steps[0].ResolvedPrompt)
	}
}

func TestPipelineRunner_StopsOnStepFailureWithoutRollingBackCheckpoints(t *testing.T) {
	dir := initPipelineRepo(t)
	mgr := vcs.NewManager(dir, zap.NewNop())

	def := &PipelineDefinition{Steps: []PipelineStep{
		{Name: "step1", Agent: "builder", Prompt: "a", Checkpoint: true},
		{Name: "step2", Agent: "builder", Prompt: "b", Checks: []string{"false"}},
		{Name: "step3", Agent: "builder", Prompt: "c"},
	}}
	factory := func(workDir string) (*AgentLoop, error) {
		return NewAgentLoop(&fileWritingLLM{dir: dir}, noopTools{}, DefaultAgentLoopConfig(), zap.NewNop()), nil
	}
	runner := NewPipelineRunner(def, factory, mgr, dir, zap.NewNop())

	result, err := runner.Run(context.Background(), nil, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Partial {
		t.Error("expected Partial to be set after a step failure")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected pipeline to stop after step2 fails, got %d steps", len(result.Steps))
	}
	if result.Steps[1].Status != StepStatusFailed {
		t.Errorf("expected step2 to be marked failed, got %s", result.Steps[1].Status)
	}
	if result.Steps[0].Checkpoint == "" {
		t.Error("expected step1's checkpoint to have been recorded and left in place")
	}

	checkpoints, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error listing checkpoints: %v", err)
	}
	if len(checkpoints) != 1 {
		t.Fatalf("expected the earlier checkpoint to remain un-rolled-back, got %d", len(checkpoints))
	}
}

func TestSubstituteVars_UndefinedBecomesEmpty(t *testing.T) {
	out := substituteVars("hello {{name}}, bye {{missing}}", map[string]interface{}{"name": "world"}, zap.NewNop())
	if out != "hello world, bye " {
		t.Errorf("unexpected substitution result: %q", out)
	}
}

func TestEvalCondition_Negation(t *testing.T) {
	scope := map[string]interface{}{"skip": true}
	if evalCondition("!skip", scope) {
		t.Error("expected negated truthy var to be false")
	}
	if !evalCondition("skip", scope) {
		t.Error("expected bare var to be true")
	}
}

// recordingLLM records which prompts it was asked to answer, verifying
// from_step did not include earlier steps.
type recordingLLM struct {
	ran *[]string
}

func (r *recordingLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	*r.ran = append(*r.ran, req.Messages[len(req.Messages)-1].Content)
	return &LLMResponse{Content: "ok", ModelUsed: "test-model"}, nil
}

func (r *recordingLLM) GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	close(deltaCh)
	return r.Generate(ctx, req)
}

// fileWritingLLM writes a new file to dir on every call, so checkpoint
// steps downstream of it have real staged changes to commit.
type fileWritingLLM struct {
	dir   string
	calls int
}

func (f *fileWritingLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	f.calls++
	path := filepath.Join(f.dir, "output.txt")
	_ = os.WriteFile(path, []byte{byte('a' + f.calls)}, 0o644)
	return &LLMResponse{Content: "done", ModelUsed: "test-model"}, nil
}

func (f *fileWritingLLM) GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	close(deltaCh)
	return f.Generate(ctx, req)
}
