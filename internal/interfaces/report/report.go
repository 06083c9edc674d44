// Package report renders an agent run's outcome into JSON, Markdown, or a
// GitHub-comment-flavored Markdown variant, for consumption by operators,
// CI logs, or pull-request automation.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/architect-cli/architect/internal/domain/entity"
	"github.com/architect-cli/architect/internal/domain/service"
)

// Report is the renderer-agnostic view of one agent run, assembled from an
// AgentResult plus the step history the loop produced alongside it.
type Report struct {
	Task           string
	Status         entity.RunStatus
	StopReason     entity.StopReason
	FinalOutput    string
	Model          string
	ToolsUsed      []string
	Steps          []entity.StepResult
	PlannedActions []service.PlannedAction
	CostUSD        float64
	StartedAt      time.Time
	Duration       time.Duration
	DryRun         bool
}

// FromAgentResult builds a Report from an AgentLoop run's result and its
// step history (as recorded in the session, since AgentResult itself
// doesn't retain per-step detail once the run ends).
func FromAgentResult(task string, result *service.AgentResult, steps []entity.StepResult) Report {
	return Report{
		Task:           task,
		Status:         result.Status,
		StopReason:     result.StopReason,
		FinalOutput:    result.FinalContent,
		Model:          result.ModelUsed,
		ToolsUsed:      result.ToolsUsed,
		Steps:          steps,
		PlannedActions: result.PlannedActions,
		CostUSD:        result.CostUSD,
		StartedAt:      result.StartedAt,
		Duration:       time.Since(result.StartedAt),
		DryRun:         len(result.PlannedActions) > 0,
	}
}

type jsonReport struct {
	Task           string                  `json:"task"`
	Status         entity.RunStatus        `json:"status"`
	StopReason     entity.StopReason       `json:"stop_reason"`
	FinalOutput    string                  `json:"final_output"`
	Model          string                  `json:"model"`
	ToolsUsed      []string                `json:"tools_used"`
	StepCount      int                     `json:"step_count"`
	PlannedActions []service.PlannedAction `json:"planned_actions,omitempty"`
	CostUSD        float64                 `json:"cost_usd"`
	StartedAt      time.Time               `json:"started_at"`
	DurationMS     int64                   `json:"duration_ms"`
	DryRun         bool                    `json:"dry_run"`
}


// RenderJSON renders the report as an indented JSON document.
func RenderJSON(r Report) (string, error) {
	out := jsonReport{
		Task:           r.Task,
		Status:         r.Status,
		StopReason:     r.StopReason,
		FinalOutput:    r.FinalOutput,
		Model:          r.Model,
		ToolsUsed:      r.ToolsUsed,
		StepCount:      len(r.Steps),
		PlannedActions: r.PlannedActions,
		CostUSD:        r.CostUSD,
		StartedAt:      r.StartedAt,
		DurationMS:     r.Duration.Milliseconds(),
		DryRun:         r.DryRun,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal json: %w", err)
	}
	return string(data), nil
}

// RenderMarkdown renders a standalone Markdown report, suitable for writing
// to a file or printing to a terminal (optionally piped through a Markdown
// renderer such as the CLI's glamour-backed one).
func RenderMarkdown(r Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Agent Run Report\n\n")
	fmt.Fprintf(&b, "**Task:** %s\n\n", r.Task)
	fmt.Fprintf(&b, "**Status:** %s", r.Status)
	if r.StopReason != "" {
		fmt.Fprintf(&b, " (`%s`)", r.StopReason)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "**Model:** %s\n\n", r.Model)
	fmt.Fprintf(&b, "**Cost:** $%.4f\n\n", r.CostUSD)
	fmt.Fprintf(&b, "**Duration:** %s\n\n", r.Duration.Round(time.Second))

	if len(r.ToolsUsed) > 0 {
		fmt.Fprintf(&b, "**Tools used:** %s\n\n", strings.Join(r.ToolsUsed, ", "))
	}

	if r.DryRun {
		b.WriteString("## Planned actions (dry run)\n\n")
		for _, a := range r.PlannedActions {
			fmt.Fprintf(&b, "- `%s` %v\n", a.ToolName, a.Args)
		}
		b.WriteString("\n")
	}

	if len(r.Steps) > 0 {
		fmt.Fprintf(&b, "## Steps (%d)\n\n", len(r.Steps))
		for _, step := range r.Steps {
			fmt.Fprintf(&b, "### Step %d\n\n", step.StepNumber)
			if step.LLMResponse != "" {
				fmt.Fprintf(&b, "%s\n\n", step.LLMResponse)
			}
			for _, tc := range step.ToolCallsMade {
				status := "✓"
				if !tc.Result.Success {
					status = "✗"
				}
				fmt.Fprintf(&b, "- %s `%s`\n", status, tc.ToolName)
			}
		}
	}

	fmt.Fprintf(&b, "\n## Final Output\n\n%s\n", r.FinalOutput)

	return b.String()
}

// RenderGitHub renders the report as a GitHub pull-request-comment-style
// Markdown document: a compact summary up top, full step detail folded
// into a <details> block so long runs don't dominate the comment thread.
func RenderGitHub(r Report) string {
	var b strings.Builder

	icon := "✅"
	switch r.Status {
	case entity.RunStatusFailed:
		icon = "❌"
	case entity.RunStatusPartial:
		icon = "⚠️"
	}

	fmt.Fprintf(&b, "### %s Agent Run — %s\n\n", icon, r.Status)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Task | %s |\n", r.Task)
	fmt.Fprintf(&b, "| Model | %s |\n", r.Model)
	fmt.Fprintf(&b, "| Cost | $%.4f |\n", r.CostUSD)
	fmt.Fprintf(&b, "| Duration | %s |\n", r.Duration.Round(time.Second))
	if r.StopReason != "" {
		fmt.Fprintf(&b, "| Stop reason | `%s` |\n", r.StopReason)
	}
	b.WriteString("\n")

	if r.DryRun {
		fmt.Fprintf(&b, "**Dry run — %d action(s) planned, none executed.**\n\n", len(r.PlannedActions))
	}

	fmt.Fprintf(&b, "%s\n\n", r.FinalOutput)

	if len(r.Steps) > 0 {
		b.WriteString("<details>\n<summary>Step detail</summary>\n\n")
		for _, step := range r.Steps {
			fmt.Fprintf(&b, "**Step %d**\n", step.StepNumber)
			for _, tc := range step.ToolCallsMade {
				status := "passed"
				if !tc.Result.Success {
					status = "failed"
				}
				fmt.Fprintf(&b, "- `%s` %s\n", tc.ToolName, status)
			}
		}
		b.WriteString("\n</details>\n")
	}

	return b.String()
}
