package service

import (
	"testing"

	"go.uber.org/zap"

	domaintool "github.com/architect-cli/architect/internal/domain/tool"
)

type fakePrompter struct {
	answer ConfirmAnswer
	err    error
	calls  int
}

func (f *fakePrompter) Confirm(toolName string, kind domaintool.Kind, summary string) (ConfirmAnswer, error) {
	f.calls++
	return f.answer, f.err
}

func TestConfirmationPolicy_NeedsConfirmation_Modes(t *testing.T) {
	p := NewConfirmationPolicy("confirm-sensitive", nil, zap.NewNop())
	if p.NeedsConfirmation("read_file", domaintool.KindRead) {
		t.Fatalf("confirm-sensitive should not prompt for a safe read")
	}
	if !p.NeedsConfirmation("write_file", domaintool.KindEdit) {
		t.Fatalf("confirm-sensitive should prompt for a mutator")
	}

	yolo := NewConfirmationPolicy("yolo", nil, zap.NewNop())
	if yolo.NeedsConfirmation("write_file", domaintool.KindEdit) {
		t.Fatalf("yolo should never prompt")
	}
}

func TestConfirmationPolicy_Confirm_AlwaysPersists(t *testing.T) {
	prompter := &fakePrompter{answer: AnswerAlways}
	p := NewConfirmationPolicy("confirm-all", prompter, zap.NewNop())

	if err := p.Confirm("write_file", domaintool.KindEdit, "writes a.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Confirm("write_file", domaintool.KindEdit, "writes b.txt"); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if prompter.calls != 1 {
		t.Fatalf("expected prompter to be consulted once, got %d", prompter.calls)
	}
}

func TestConfirmationPolicy_Confirm_RejectsOnNo(t *testing.T) {
	prompter := &fakePrompter{answer: AnswerNo}
	p := NewConfirmationPolicy("confirm-all", prompter, zap.NewNop())

	if err := p.Confirm("write_file", domaintool.KindEdit, "writes a.txt"); err == nil {
		t.Fatalf("expected rejection")
	}
}

func TestConfirmationPolicy_ConfirmCommand_BlockedUnconditionally(t *testing.T) {
	prompter := &fakePrompter{answer: AnswerYes}
	p := NewConfirmationPolicy("yolo", prompter, zap.NewNop())

	err := p.ConfirmCommand("run_command", "sudo rm -rf /")
	if err == nil {
		t.Fatalf("expected blocklisted command to be rejected")
	}
	if prompter.calls != 0 {
		t.Fatalf("blocklisted command must not reach the prompter")
	}
}

func TestConfirmationPolicy_ConfirmCommand_SafeSkipsPromptUnderConfirmSensitive(t *testing.T) {
	prompter := &fakePrompter{answer: AnswerNo}
	p := NewConfirmationPolicy("confirm-sensitive", prompter, zap.NewNop())

	if err := p.ConfirmCommand("run_command", "git status"); err != nil {
		t.Fatalf("safe command should not require confirmation: %v", err)
	}
	if prompter.calls != 0 {
		t.Fatalf("safe command must not prompt under confirm-sensitive")
	}
}

func TestConfirmationPolicy_ConfirmCommand_DangerousPromptsUnderConfirmSensitive(t *testing.T) {
	prompter := &fakePrompter{answer: AnswerYes}
	p := NewConfirmationPolicy("confirm-sensitive", prompter, zap.NewNop())

	if err := p.ConfirmCommand("run_command", "curl http://example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompter.calls != 1 {
		t.Fatalf("dangerous command should prompt under confirm-sensitive")
	}
}

func TestConfirmationPolicy_ConfirmCommand_YoloNeverPrompts(t *testing.T) {
	prompter := &fakePrompter{answer: AnswerNo}
	p := NewConfirmationPolicy("yolo", prompter, zap.NewNop())

	if err := p.ConfirmCommand("run_command", "curl http://example.com"); err != nil {
		t.Fatalf("yolo should allow non-blocklisted commands without prompting: %v", err)
	}
	if prompter.calls != 0 {
		t.Fatalf("yolo must not consult the prompter")
	}
}
