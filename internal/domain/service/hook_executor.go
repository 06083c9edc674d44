package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HookEvent is one of the fixed lifecycle events a subprocess hook can bind to.
type HookEvent string

const (
	EventPreToolUse      HookEvent = "pre_tool_use"
	EventPostToolUse     HookEvent = "post_tool_use"
	EventPreLLMCall      HookEvent = "pre_llm_call"
	EventPostLLMCall     HookEvent = "post_llm_call"
	EventSessionStart    HookEvent = "session_start"
	EventSessionEnd      HookEvent = "session_end"
	EventOnError         HookEvent = "on_error"
	EventBudgetWarning   HookEvent = "budget_warning"
	EventContextCompress HookEvent = "context_compress"
	EventAgentComplete   HookEvent = "agent_complete"
)

// HookDef configures one subprocess hook binding.
type HookDef struct {
	Name         string
	Command      string // may contain a {file} placeholder for legacy post_edit hooks
	Event        HookEvent
	Matcher      *regexp.Regexp // matched against tool/event name; nil = always match
	FilePatterns []string       // glob patterns; only applies to tool-scoped events
	Timeout      time.Duration
	Enabled      bool
	Async        bool // fire-and-forget vs. blocking
}

// HookOutcome is the result of running every matching hook for one event.
type HookOutcome struct {
	Blocked       bool
	BlockReason   string
	ModifiedArgs  map[string]interface{} // non-nil when a hook returned modified_input
	AppendedText  string                 // stdout from non-JSON hooks, joined
}

// HookExecutor runs configured subprocess hooks on lifecycle events, per the
// JSON-stdin / ARCHITECT_*-env / exit-code protocol: 0=ALLOW, 2=BLOCK, other
// nonzero=error (logged, treated as ALLOW). A legacy post_edit hook group is
// recognized and mapped to post_tool_use with matcher edit_file|write_file|apply_patch.
type HookExecutor struct {
	hooks     []HookDef
	sessionID string
	logger    *zap.Logger
}

// NewHookExecutor creates an executor bound to one run/session.
func NewHookExecutor(hooks []HookDef, sessionID string, logger *zap.Logger) *HookExecutor {
	return &HookExecutor{hooks: expandLegacyPostEdit(hooks), sessionID: sessionID, logger: logger}
}

var legacyPostEditMatcher = regexp.MustCompile(`edit_file|write_file|apply_patch`)

// expandLegacyPostEdit rewrites any hook configured under the legacy
// "post_edit" name into a post_tool_use hook with the matcher spec requires.
func expandLegacyPostEdit(hooks []HookDef) []HookDef {
	out := make([]HookDef, len(hooks))
	for i, h := range hooks {
		if h.Name == "post_edit" || h.Event == "post_edit" {
			h.Event = EventPostToolUse
			if h.Matcher == nil {
				h.Matcher = legacyPostEditMatcher
			}
		}
		out[i] = h
	}
	return out
}

// hookPayload is the JSON document written to a hook's stdin.
type hookPayload struct {
	Event     string                 `json:"event"`
	SessionID string                 `json:"session_id"`
	ToolName  string                 `json:"tool_name,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	File      string                 `json:"file,omitempty"`
	Output    string                 `json:"output,omitempty"`
	Success   *bool                  `json:"success,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

type hookStdout struct {
	ModifiedInput map[string]interface{} `json:"modified_input"`
}

// Run invokes every enabled hook bound to event whose matcher (if any)
// matches matchTarget (typically the tool name) and whose file_patterns (if
// any) match file. Blocking hooks run in registration order and stop at the
// first BLOCK; async hooks are spawned without waiting.
func (h *HookExecutor) Run(ctx context.Context, event HookEvent, matchTarget, file string, payload hookPayload) HookOutcome {
	var outcome HookOutcome
	var appended []string

	for _, def := range h.hooks {
		if !def.Enabled || def.Event != event {
			continue
		}
		if def.Matcher != nil && !def.Matcher.MatchString(matchTarget) {
			continue
		}
		if len(def.FilePatterns) > 0 && file != "" {
			matched := false
			for _, pat := range def.FilePatterns {
				if ok, _ := filepath.Match(pat, file); ok {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}

		if def.Async {
			go h.invoke(context.Background(), def, file, payload)
			continue
		}

		result := h.invoke(ctx, def, file, payload)
		if result.Blocked {
			outcome.Blocked = true
			outcome.BlockReason = result.BlockReason
			return outcome
		}
		if result.ModifiedArgs != nil {
			outcome.ModifiedArgs = result.ModifiedArgs
		}
		if result.AppendedText != "" {
			appended = append(appended, result.AppendedText)
		}
	}

	outcome.AppendedText = strings.Join(appended, "\n")
	return outcome
}

// invoke runs a single hook subprocess and interprets its exit code/stdout.
func (h *HookExecutor) invoke(ctx context.Context, def HookDef, file string, payload hookPayload) HookOutcome {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := def.Command
	if file != "" {
		command = strings.ReplaceAll(command, "{file}", file)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("hook payload marshal failed, skipping", zap.String("hook", def.Name), zap.Error(err))
		return HookOutcome{}
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Env = append(cmd.Environ(),
		"ARCHITECT_EVENT="+string(def.Event),
		"ARCHITECT_TOOL_NAME="+payload.ToolName,
		"ARCHITECT_SESSION_ID="+h.sessionID,
		"ARCHITECT_FILE="+file,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			h.logger.Warn("hook invocation failed", zap.String("hook", def.Name), zap.Error(runErr))
			return HookOutcome{}
		}
	}

	switch exitCode {
	case 0:
		var parsed hookStdout
		if json.Unmarshal(stdout.Bytes(), &parsed) == nil && parsed.ModifiedInput != nil {
			return HookOutcome{ModifiedArgs: parsed.ModifiedInput}
		}
		return HookOutcome{AppendedText: strings.TrimSpace(stdout.String())}
	case 2:
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = strings.TrimSpace(stdout.String())
		}
		if reason == "" {
			reason = fmt.Sprintf("hook %q blocked the call", def.Name)
		}
		return HookOutcome{Blocked: true, BlockReason: reason}
	default:
		h.logger.Warn("hook exited nonzero, treating as ALLOW",
			zap.String("hook", def.Name),
			zap.Int("exit_code", exitCode),
			zap.String("stderr", stderr.String()),
		)
		return HookOutcome{}
	}
}
