package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHookExecutor_AllowOnExitZero(t *testing.T) {
	hooks := []HookDef{{
		Name: "allow", Command: "exit 0", Event: EventPreToolUse, Enabled: true, Timeout: time.Second,
	}}
	e := NewHookExecutor(hooks, "sess-1", zap.NewNop())
	out := e.Run(context.Background(), EventPreToolUse, "write_file", "", hookPayload{Event: "pre_tool_use", ToolName: "write_file"})
	if out.Blocked {
		t.Fatalf("exit 0 should not block, got reason %q", out.BlockReason)
	}
}

func TestHookExecutor_BlockOnExitTwo(t *testing.T) {
	hooks := []HookDef{{
		Name: "block", Command: "echo nope 1>&2; exit 2", Event: EventPreToolUse, Enabled: true, Timeout: time.Second,
	}}
	e := NewHookExecutor(hooks, "sess-1", zap.NewNop())
	out := e.Run(context.Background(), EventPreToolUse, "write_file", "", hookPayload{Event: "pre_tool_use", ToolName: "write_file"})
	if !out.Blocked {
		t.Fatalf("exit 2 should block")
	}
	if out.BlockReason != "nope" {
		t.Fatalf("expected block reason from stderr, got %q", out.BlockReason)
	}
}

func TestHookExecutor_OtherNonzeroTreatedAsAllow(t *testing.T) {
	hooks := []HookDef{{
		Name: "flaky", Command: "exit 17", Event: EventPreToolUse, Enabled: true, Timeout: time.Second,
	}}
	e := NewHookExecutor(hooks, "sess-1", zap.NewNop())
	out := e.Run(context.Background(), EventPreToolUse, "write_file", "", hookPayload{Event: "pre_tool_use", ToolName: "write_file"})
	if out.Blocked {
		t.Fatalf("nonzero non-2 exit should be treated as ALLOW, not block")
	}
}

func TestHookExecutor_ModifyInputParsed(t *testing.T) {
	hooks := []HookDef{{
		Name: "modify", Command: `echo '{"modified_input":{"path":"rewritten.txt"}}'`, Event: EventPreToolUse, Enabled: true, Timeout: time.Second,
	}}
	e := NewHookExecutor(hooks, "sess-1", zap.NewNop())
	out := e.Run(context.Background(), EventPreToolUse, "write_file", "", hookPayload{Event: "pre_tool_use", ToolName: "write_file"})
	if out.ModifiedArgs == nil || out.ModifiedArgs["path"] != "rewritten.txt" {
		t.Fatalf("expected modified_input to be parsed, got %+v", out.ModifiedArgs)
	}
}

func TestHookExecutor_MatcherFiltersByToolName(t *testing.T) {
	hooks := []HookDef{{
		Name: "shell-only", Command: "exit 2", Event: EventPreToolUse, Matcher: regexp.MustCompile("^run_command$"), Enabled: true, Timeout: time.Second,
	}}
	e := NewHookExecutor(hooks, "sess-1", zap.NewNop())
	out := e.Run(context.Background(), EventPreToolUse, "write_file", "", hookPayload{Event: "pre_tool_use", ToolName: "write_file"})
	if out.Blocked {
		t.Fatalf("hook matcher should not have matched write_file")
	}
}

func TestHookExecutor_LegacyPostEditMapping(t *testing.T) {
	hooks := []HookDef{{
		Name: "post_edit", Command: "exit 0", Event: "post_edit", Enabled: true, Timeout: time.Second,
	}}
	e := NewHookExecutor(hooks, "sess-1", zap.NewNop())
	if len(e.hooks) != 1 || e.hooks[0].Event != EventPostToolUse {
		t.Fatalf("expected legacy post_edit to be remapped to post_tool_use, got %+v", e.hooks)
	}
	if e.hooks[0].Matcher == nil || !e.hooks[0].Matcher.MatchString("write_file") {
		t.Fatalf("expected default legacy matcher to match write_file")
	}
}

func TestHookExecutor_FilePatternFilter(t *testing.T) {
	hooks := []HookDef{{
		Name: "go-only", Command: "exit 2", Event: EventPostToolUse, FilePatterns: []string{"*.go"}, Enabled: true, Timeout: time.Second,
	}}
	e := NewHookExecutor(hooks, "sess-1", zap.NewNop())
	out := e.Run(context.Background(), EventPostToolUse, "write_file", "README.md", hookPayload{Event: "post_tool_use"})
	if out.Blocked {
		t.Fatalf("hook scoped to *.go should not fire for README.md")
	}
	out = e.Run(context.Background(), EventPostToolUse, "write_file", "main.go", hookPayload{Event: "post_tool_use"})
	if !out.Blocked {
		t.Fatalf("hook scoped to *.go should fire for main.go")
	}
}
