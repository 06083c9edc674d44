package entity

import "time"

// ToolCallResult is the immutable record of one executed tool call within a step.
type ToolCallResult struct {
	ToolName     string    `json:"tool_name"`
	Args         map[string]interface{} `json:"args"`
	Result       ToolResult `json:"result"`
	WasConfirmed bool      `json:"was_confirmed"`
	WasDryRun    bool      `json:"was_dry_run"`
	Timestamp    time.Time `json:"timestamp"`
}

// ToolResult is the outcome of executing one tool call. Tools never raise;
// failures are reported here and surfaced back to the LLM as the tool message.
type ToolResult struct {
	Success bool    `json:"success"`
	Output  string  `json:"output"`
	Error   *string `json:"error"`
}

// StepResult is the immutable, append-only record of one agent-loop iteration.
type StepResult struct {
	StepNumber   int              `json:"step_number"`
	LLMResponse  string           `json:"llm_response"`
	ToolCallsMade []ToolCallResult `json:"tool_calls_made"`
	Timestamp    time.Time        `json:"timestamp"`
}

// ConfirmMode controls when the Confirmation Policy prompts the operator.
type ConfirmMode string

const (
	ConfirmYolo       ConfirmMode = "yolo"
	ConfirmSensitive  ConfirmMode = "confirm-sensitive"
	ConfirmAll        ConfirmMode = "confirm-all"
)

// AgentConfig is resolved by merging defaults, YAML overrides, and CLI
// overrides, in that precedence.
type AgentConfig struct {
	SystemPrompt string      `json:"system_prompt"`
	AllowedTools []string    `json:"allowed_tools"` // nil = all
	ConfirmMode  ConfirmMode `json:"confirm_mode"`
	MaxSteps     int         `json:"max_steps"`
}

// CostEntry is one line in the append-only cost ledger.
type CostEntry struct {
	Step               int     `json:"step"`
	Model              string  `json:"model"`
	InputTokens        int     `json:"input_tokens"`
	OutputTokens       int     `json:"output_tokens"`
	CachedInputTokens  int     `json:"cached_input_tokens"`
	CostUSD            float64 `json:"cost_usd"`
	Source             string  `json:"source"` // "agent", "eval", "summary"
}

// RepoIndex is a workspace tree + language/line-count summary, built once per
// run and cacheable for a TTL keyed by workspace path hash.
type RepoIndex struct {
	Files       map[string]RepoFileStat `json:"files"`
	TreeSummary string                  `json:"tree_summary"`
	TotalFiles  int                     `json:"total_files"`
	TotalLines  int                     `json:"total_lines"`
	Languages   map[string]int          `json:"languages"`
	BuiltAt     time.Time               `json:"built_at"`
}

// RepoFileStat describes one file entry in a RepoIndex.
type RepoFileStat struct {
	Size     int64  `json:"size"`
	Language string `json:"language"`
	Lines    int    `json:"lines"`
}
