package service

import (
	"regexp"
	"testing"

	"go.uber.org/zap"
)

func newTestGuardrailsEngine(cfg GuardrailsConfig) *GuardrailsEngine {
	return NewGuardrailsEngine(cfg, zap.NewNop())
}

func TestGuardrailsEngine_CheckFileAccess_ProtectedDeniesWrite(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{ProtectedFiles: []string{"*.env"}})
	if err := e.CheckFileAccess("write_file", "secrets.env"); err == nil {
		t.Fatalf("expected protected_files write to be denied")
	}
	if err := e.CheckFileAccess("read_file", "secrets.env"); err != nil {
		t.Fatalf("protected_files should not block reads: %v", err)
	}
}

func TestGuardrailsEngine_CheckFileAccess_SensitiveDeniesBoth(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{SensitiveFiles: []string{"*.pem"}})
	if err := e.CheckFileAccess("read_file", "key.pem"); err == nil {
		t.Fatalf("expected sensitive_files read to be denied")
	}
	if err := e.CheckFileAccess("write_file", "key.pem"); err == nil {
		t.Fatalf("expected sensitive_files write to be denied")
	}
}

func TestGuardrailsEngine_CheckCommand_BlockedRegex(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{
		BlockedCommands: []*regexp.Regexp{regexp.MustCompile(`rm\s+-rf\s+/`)},
	})
	if err := e.CheckCommand("rm -rf /"); err == nil {
		t.Fatalf("expected blocklisted command to be denied")
	}
}

func TestGuardrailsEngine_CheckCommand_RedirectTargetChecked(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{SensitiveFiles: []string{"*.env"}})
	if err := e.CheckCommand("echo hi > out.env"); err == nil {
		t.Fatalf("expected redirect target to be checked against sensitive_files")
	}
}

func TestGuardrailsEngine_CheckCommand_CapEnforced(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{MaxCommands: 1})
	if err := e.CheckCommand("ls"); err != nil {
		t.Fatalf("first command should pass: %v", err)
	}
	if err := e.CheckCommand("ls"); err == nil {
		t.Fatalf("second command should exceed per-run cap")
	}
}

func TestGuardrailsEngine_CheckEditLimits(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{MaxFilesTouched: 1, MaxLinesChanged: 10})
	e.RecordEdit("a.go", 5)
	if err := e.CheckEditLimits(); err != nil {
		t.Fatalf("within limits should pass: %v", err)
	}
	e.RecordEdit("b.go", 20)
	if err := e.CheckEditLimits(); err == nil {
		t.Fatalf("expected edit limits to be exceeded")
	}
}

func TestGuardrailsEngine_CheckCodeRules_BlockVsWarn(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{
		CodeRules: []CodeRule{
			{Pattern: regexp.MustCompile(`TODO`), Severity: SeverityWarn, Message: "leftover TODO"},
			{Pattern: regexp.MustCompile(`os\.Exit`), Severity: SeverityBlock, Message: "no os.Exit in library code"},
		},
	})
	if err := e.CheckCodeRules("x.go", "// TODO: clean up"); err != nil {
		t.Fatalf("warn rule should not block: %v", err)
	}
	if err := e.CheckCodeRules("x.go", "os.Exit(1)"); err == nil {
		t.Fatalf("block rule should block")
	}
}

func TestGuardrailsEngine_CheckToolCall_DispatchesByToolShape(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{
		ProtectedFiles:  []string{"*.env"},
		BlockedCommands: []*regexp.Regexp{regexp.MustCompile(`rm\s+-rf`)},
	})
	if err := e.CheckToolCall("write_file", map[string]interface{}{"path": "config.env", "content": "x"}); err == nil {
		t.Fatalf("expected write to protected file to be blocked")
	}
	if err := e.CheckToolCall("bash", map[string]interface{}{"command": "rm -rf /tmp"}); err == nil {
		t.Fatalf("expected blocked command to be blocked")
	}
	if err := e.CheckToolCall("web_fetch", map[string]interface{}{"url": "https://example.com"}); err != nil {
		t.Fatalf("unrecognized tool shape should pass through: %v", err)
	}
}

func TestGuardrailsEngine_ShouldRetryGate_OnlyOncePerRun(t *testing.T) {
	e := newTestGuardrailsEngine(GuardrailsConfig{})
	if !e.ShouldRetryGate("lint") {
		t.Fatalf("first retry should be allowed")
	}
	e.MarkGateRetried("lint")
	if e.ShouldRetryGate("lint") {
		t.Fatalf("should not allow a second retry this run")
	}
}
