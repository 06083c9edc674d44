package report

import (
	"strings"
	"testing"
	"time"

	"github.com/architect-cli/architect/internal/domain/entity"
	"github.com/architect-cli/architect/internal/domain/service"
)

func sampleReport() Report {
	return Report{
		Task:        "add login page",
		Status:      entity.RunStatusSuccess,
		StopReason:  entity.StopLLMDone,
		FinalOutput: "Added the login page and tests.",
		Model:       "test-model",
		ToolsUsed:   []string{"write_file", "run_command"},
		Steps: []entity.StepResult{
			{
				StepNumber:  1,
				LLMResponse: "writing the component",
				ToolCallsMade: []entity.ToolCallResult{
					{ToolName: "write_file", Result: entity.ToolResult{Success: true}},
				},
				Timestamp: time.Now(),
			},
		},
		CostUSD:  0.042,
		Duration: 3 * time.Second,
	}
}

func TestRenderJSON_RoundTripsFields(t *testing.T) {
	out, err := RenderJSON(sampleReport())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{`"task": "add login page"`, `"status": "success"`, `"cost_usd": 0.042`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected JSON to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderMarkdown_IncludesSections(t *testing.T) {
	out := RenderMarkdown(sampleReport())
	for _, want := range []string{"# Agent Run Report", "add login page", "write_file, run_command", "## Steps (1)", "Added the login page"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected markdown to contain %q", want)
		}
	}
}

func TestRenderGitHub_UsesDetailsBlockAndStatusIcon(t *testing.T) {
	out := RenderGitHub(sampleReport())
	if !strings.Contains(out, "✅") {
		t.Error("expected success icon for a successful run")
	}
	if !strings.Contains(out, "<details>") {
		t.Error("expected step detail to be folded into a <details> block")
	}
}

func TestRenderGitHub_FailedStatusUsesFailureIcon(t *testing.T) {
	r := sampleReport()
	r.Status = entity.RunStatusFailed
	out := RenderGitHub(r)
	if !strings.Contains(out, "❌") {
		t.Error("expected failure icon for a failed run")
	}
}

func TestRenderMarkdown_DryRunListsPlannedActions(t *testing.T) {
	r := sampleReport()
	r.DryRun = true
	r.PlannedActions = []service.PlannedAction{
		{ToolName: "write_file", Args: map[string]interface{}{"path": "main.go"}},
	}
	out := RenderMarkdown(r)
	if !strings.Contains(out, "Planned actions (dry run)") {
		t.Error("expected dry-run section in markdown report")
	}
	if !strings.Contains(out, "write_file") {
		t.Error("expected planned action tool name in report")
	}
}

func TestFromAgentResult_MapsFields(t *testing.T) {
	result := &service.AgentResult{
		FinalContent: "done",
		ModelUsed:    "test-model",
		Status:       entity.RunStatusSuccess,
		StopReason:   entity.StopLLMDone,
		CostUSD:      1.5,
		StartedAt:    time.Now().Add(-time.Minute),
	}
	r := FromAgentResult("do the thing", result, nil)
	if r.Task != "do the thing" || r.CostUSD != 1.5 || r.Model != "test-model" {
		t.Errorf("unexpected report fields: %+v", r)
	}
}
