package service

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/architect-cli/architect/internal/infrastructure/vcs"
)

// PipelineStep is one ordered unit of work in a pipeline definition.
type PipelineStep struct {
	Name       string        `yaml:"name"`
	Agent      string        `yaml:"agent"`
	Prompt     string        `yaml:"prompt"`
	Model      string        `yaml:"model,omitempty"`
	Condition  string        `yaml:"condition,omitempty"`
	OutputVar  string        `yaml:"output_var,omitempty"`
	Checks     []string      `yaml:"checks,omitempty"`
	Checkpoint bool          `yaml:"checkpoint,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// PipelineDefinition is the decoded form of a pipeline YAML file.
type PipelineDefinition struct {
	Steps []PipelineStep `yaml:"steps"`
}

// PipelineValidationError aggregates every violation found while validating
// a pipeline definition, so the caller sees the whole picture at once
// instead of fixing one problem at a time.
type PipelineValidationError struct {
	Violations []string
}

func (e *PipelineValidationError) Error() string {
	return fmt.Sprintf("pipeline validation failed: %s", strings.Join(e.Violations, "; "))
}

// StepStatus is the terminal state of one executed pipeline step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusFailed  StepStatus = "failed"
)

// PipelineStepResult records what happened when a step ran (or was
// skipped).
type PipelineStepResult struct {
	Name           string
	Status         StepStatus
	Output         string
	ResolvedPrompt string
	Checkpoint     string // commit id, when Checkpoint was requested and something was staged
	Error          string
}

// PipelineResult is the outcome of running (or dry-running) a pipeline.
type PipelineResult struct {
	Steps   []PipelineStepResult
	Vars    map[string]interface{}
	DryRun  bool
	Partial bool
}

// ParsePipelineDefinition decodes and validates a YAML pipeline document.
// Unknown keys are rejected via yaml.v3's KnownFields decoder option.
func ParsePipelineDefinition(data []byte) (*PipelineDefinition, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)

	var def PipelineDefinition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("pipeline: parse failed: %w", err)
	}

	if err := validatePipeline(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func validatePipeline(def *PipelineDefinition) error {
	var violations []string
	if len(def.Steps) == 0 {
		violations = append(violations, "pipeline must have at least one step")
	}
	for i, step := range def.Steps {
		if strings.TrimSpace(step.Prompt) == "" {
			violations = append(violations, fmt.Sprintf("step %d (%s): prompt is required", i, step.Name))
		}
		if step.Name == "" {
			violations = append(violations, fmt.Sprintf("step %d: name is required", i))
		}
	}
	if len(violations) > 0 {
		return &PipelineValidationError{Violations: violations}
	}
	return nil
}

// PipelineRunner executes an ordered list of steps, threading a flat
// variable scope through prompt substitution and optional checkpointing.
type PipelineRunner struct {
	def        *PipelineDefinition
	factory    AgentFactory
	checkpoint *vcs.Manager
	workDir    string
	logger     *zap.Logger
}

// NewPipelineRunner creates a runner for def. checkpoint may be nil if no
// step requests Checkpoint: true.
func NewPipelineRunner(def *PipelineDefinition, factory AgentFactory, checkpoint *vcs.Manager, workDir string, logger *zap.Logger) *PipelineRunner {
	return &PipelineRunner{def: def, factory: factory, checkpoint: checkpoint, workDir: workDir, logger: logger.With(zap.String("component", "pipeline-runner"))}
}

// Run executes the pipeline starting at fromStep (empty string = from the
// beginning), seeding the variable scope with vars. dryRun emits the step
// plan without executing any step; each step's prompt is listed as written,
// with its {{placeholders}} not substituted.
func (p *PipelineRunner) Run(ctx context.Context, vars map[string]interface{}, fromStep string, dryRun bool) (*PipelineResult, error) {
	scope := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		scope[k] = v
	}

	result := &PipelineResult{Vars: scope, DryRun: dryRun}

	started := fromStep == ""
	for _, step := range p.def.Steps {
		if !started {
			if step.Name == fromStep {
				started = true
			} else {
				continue
			}
		}

		resolvedPrompt := substituteVars(step.Prompt, scope, p.logger)

		if dryRun {
			result.Steps = append(result.Steps, PipelineStepResult{
				Name: step.Name, Status: StepStatusSkipped, ResolvedPrompt: step.Prompt,
			})
			continue
		}

		if step.Condition != "" && !evalCondition(step.Condition, scope) {
			result.Steps = append(result.Steps, PipelineStepResult{
				Name: step.Name, Status: StepStatusSkipped, ResolvedPrompt: resolvedPrompt,
			})
			continue
		}

		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		}

		loop, err := p.factory(p.workDir)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			result.Partial = true
			result.Steps = append(result.Steps, PipelineStepResult{
				Name: step.Name, Status: StepStatusFailed, ResolvedPrompt: resolvedPrompt,
				Error: fmt.Sprintf("agent factory failed: %v", err),
			})
			return result, nil
		}

		agentResult, eventCh := loop.Run(stepCtx, "", resolvedPrompt, nil, step.Model)
		for range eventCh {
		}
		if cancel != nil {
			cancel()
		}

		stepResult := PipelineStepResult{Name: step.Name, Status: StepStatusSuccess, Output: agentResult.FinalContent, ResolvedPrompt: resolvedPrompt}

		if checksErr := runStepChecks(stepCtx, step.Checks, p.workDir); checksErr != "" {
			stepResult.Status = StepStatusFailed
			stepResult.Error = checksErr
			result.Steps = append(result.Steps, stepResult)
			result.Partial = true
			return result, nil
		}

		if step.OutputVar != "" {
			scope[step.OutputVar] = agentResult.FinalContent
		}

		if step.Checkpoint && p.checkpoint != nil {
			commitID, err := p.checkpoint.Create(ctx, step.Name, fmt.Sprintf("pipeline step %q", step.Name))
			if err != nil {
				p.logger.Warn("pipeline: checkpoint failed", zap.String("step", step.Name), zap.Error(err))
			} else {
				stepResult.Checkpoint = commitID
			}
		}

		result.Steps = append(result.Steps, stepResult)
	}

	return result, nil
}

func runStepChecks(ctx context.Context, checks []string, workDir string) string {
	for _, check := range checks {
		cmd := exec.CommandContext(ctx, "sh", "-c", check)
		cmd.Dir = workDir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Sprintf("check %q failed: %v\n%s", check, err, out)
		}
	}
	return ""
}

// substituteVars replaces {{name}} occurrences with scope[name]'s string
// form. Undefined variables substitute to the empty string, with a warning
// log — no text/template semantics, just a flat placeholder replace.
func substituteVars(prompt string, scope map[string]interface{}, logger *zap.Logger) string {
	var out strings.Builder
	i := 0
	for i < len(prompt) {
		start := strings.Index(prompt[i:], "{{")
		if start < 0 {
			out.WriteString(prompt[i:])
			break
		}
		start += i
		out.WriteString(prompt[i:start])

		end := strings.Index(prompt[start:], "}}")
		if end < 0 {
			out.WriteString(prompt[start:])
			break
		}
		end += start

		name := strings.TrimSpace(prompt[start+2 : end])
		if val, ok := scope[name]; ok {
			fmt.Fprintf(&out, "%v", val)
		} else {
			logger.Warn("pipeline: undefined variable in prompt", zap.String("var", name))
		}
		i = end + 2
	}
	return out.String()
}

// evalCondition supports the minimal boolean-expression surface the
// pipeline format needs: a bare variable name is truthy when present and
// not the zero value / "false" / empty string; "!name" negates it.
func evalCondition(cond string, scope map[string]interface{}) bool {
	cond = strings.TrimSpace(cond)
	negate := strings.HasPrefix(cond, "!")
	if negate {
		cond = strings.TrimSpace(cond[1:])
	}

	val, ok := scope[cond]
	truthy := ok && !isFalsy(val)
	if negate {
		return !truthy
	}
	return truthy
}

func isFalsy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == "" || x == "false"
	default:
		return false
	}
}
