package context

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestTruncateToolResult_BelowLimit(t *testing.T) {
	text := "short output"
	if got := TruncateToolResult(text, 1000); got != text {
		t.Fatalf("expected unchanged text, got %q", got)
	}
}

func TestTruncateToolResult_Disabled(t *testing.T) {
	text := strings.Repeat("line\n", 500)
	if got := TruncateToolResult(text, 0); got != text {
		t.Fatal("maxTokens=0 must disable truncation")
	}
}

func TestTruncateToolResult_LineGranular(t *testing.T) {
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = "line content here that is reasonably long to add tokens"
	}
	text := strings.Join(lines, "\n")

	got := TruncateToolResult(text, 50)
	if !strings.Contains(got, "omitted") {
		t.Fatalf("expected omission marker, got: %s", got[:80])
	}
	if !strings.HasPrefix(got, lines[0]) {
		t.Fatal("expected head preserved")
	}
	if !strings.HasSuffix(got, lines[len(lines)-1]) {
		t.Fatal("expected tail preserved")
	}
}

func TestTruncateToolResult_Idempotent(t *testing.T) {
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = "x"
	}
	text := strings.Join(lines, "\n")
	once := TruncateToolResult(text, 20)
	twice := TruncateToolResult(once, 20)
	if once != twice {
		t.Fatal("re-truncating already-truncated text should be a no-op")
	}
}

type fakeSummarizer struct {
	result string
	err    error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	return f.result, f.err
}

func TestManager_CompressFallsBackMechanically(t *testing.T) {
	cfg := Config{
		SummarizeAfterSteps: 1,
		KeepRecentSteps:     1,
		CompressThreshold:   0.1,
		MaxContextTokens:    100,
		CriticalRatio:       0.95,
	}
	m := NewManager(cfg, &fakeSummarizer{err: errors.New("llm down")})

	messages := []Message{
		{Role: "system", Content: "sys", Pinned: true},
		{Role: "tool", Content: "result one", ToolName: "read_file"},
		{Role: "tool", Content: "result two error", ToolName: "run_command"},
		{Role: "tool", Content: "result three", ToolName: "read_file"},
		{Role: "user", Content: "go on"},
		{Role: "assistant", Content: "ok"},
		{Role: "tool", Content: "result four"},
	}

	out := m.Run(context.Background(), messages, 5)
	found := false
	for _, msg := range out {
		if strings.Contains(msg.Content, "prior tool activity") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected mechanical summary fallback, got: %+v", out)
	}
}

func TestManager_HardCapDropsOldestNonPinned(t *testing.T) {
	cfg := Config{MaxContextTokens: 10, CriticalRatio: 0.95}
	m := NewManager(cfg, nil)

	messages := []Message{
		{Role: "system", Content: strings.Repeat("a", 40), Pinned: true},
		{Role: "user", Content: strings.Repeat("b", 40)},
		{Role: "assistant", Content: strings.Repeat("c", 40)},
		{Role: "user", Content: strings.Repeat("d", 40)},
	}

	out := m.Run(context.Background(), messages, 0)
	if len(out) >= len(messages) {
		t.Fatal("expected hard cap to drop messages")
	}
	if !out[0].Pinned {
		t.Fatal("pinned message must survive hard cap")
	}
}

func TestManager_IsCriticallyFull(t *testing.T) {
	cfg := Config{MaxContextTokens: 100, CriticalRatio: 0.95}
	m := NewManager(cfg, nil)

	small := []Message{{Content: strings.Repeat("x", 40)}}
	if m.IsCriticallyFull(small) {
		t.Fatal("should not be critically full")
	}

	huge := []Message{{Content: strings.Repeat("x", 400)}}
	if !m.IsCriticallyFull(huge) {
		t.Fatal("should be critically full")
	}
}
