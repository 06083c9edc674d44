// Package context implements the three-level context-window pipeline run
// before every LLM call after the first: tool-output truncation, old-turn
// compression, and a hard window cap. Adapted from the teacher's Pruner and
// Summarizer (which implemented a single adaptive-pruning pass) into the
// exact three ordered levels the agent loop requires.
package context

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Message is the context manager's own message shape, decoupled from any
// particular LLM-client wire format. Callers convert to/from their own
// message type at the boundary.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolName   string
	Pinned     bool // system + original user message; never dropped by Level 3
}

// Config holds the tunables named in spec's Context Manager design.
type Config struct {
	MaxToolResultTokens int     // Level 1. 0 disables truncation.
	SummarizeAfterSteps int     // Level 2 trigger: cumulative tool-exchange count.
	KeepRecentSteps     int     // Level 2: steps (x3 messages) kept verbatim.
	CompressThreshold   float64 // Level 2 trigger: ratio of max_context_tokens.
	MaxContextTokens    int     // Level 3 hard cap.
	CriticalRatio       float64 // is_critically_full threshold (default 0.95).
}

// DefaultConfig matches the ratios named in the design.
func DefaultConfig(maxContextTokens int) Config {
	return Config{
		MaxToolResultTokens: 4000,
		SummarizeAfterSteps: 20,
		KeepRecentSteps:     5,
		CompressThreshold:   0.75,
		MaxContextTokens:    maxContextTokens,
		CriticalRatio:       0.95,
	}
}

// Summarizer produces a recap of a message partition, normally by calling
// the LLM once with a dedicated summarization prompt.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// Manager runs the three-level pipeline.
type Manager struct {
	cfg        Config
	summarizer Summarizer
	onTrim     func(event string, detail string)
}

// NewManager builds a Manager. summarizer may be nil — Level 2 then always
// falls back to the mechanical summary.
func NewManager(cfg Config, summarizer Summarizer) *Manager {
	return &Manager{cfg: cfg, summarizer: summarizer}
}

// OnTrim registers a callback invoked whenever Level 1 or Level 3 trims
// content, for the context-trim log event spec requires.
func (m *Manager) OnTrim(fn func(event, detail string)) { m.onTrim = fn }

func (m *Manager) emit(event, detail string) {
	if m.onTrim != nil {
		m.onTrim(event, detail)
	}
}

// EstimateTokens applies the chars/4 heuristic to a message list.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
	}
	return total
}

// TruncateToolResult is Level 1: when text's estimated token count exceeds
// maxTokens, keep the first ~60% and last ~25%, inserting an omission
// marker. Line-granular when the text has enough lines to slice on; falls
// back to character-granular for short dense text. maxTokens == 0 disables.
// Text that already carries an omission marker is returned unchanged, so
// applying it twice is the same as applying it once.
func TruncateToolResult(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if strings.Contains(text, " lines omitted …]") || strings.Contains(text, " chars omitted …]") {
		return text
	}
	estimated := len(text) / 4
	if estimated <= maxTokens {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) >= 10 {
		headN := int(float64(len(lines)) * 0.60)
		tailN := int(float64(len(lines)) * 0.25)
		if headN+tailN >= len(lines) {
			return text
		}
		omitted := len(lines) - headN - tailN
		head := strings.Join(lines[:headN], "\n")
		tail := strings.Join(lines[len(lines)-tailN:], "\n")
		return fmt.Sprintf("%s\n[… %d lines omitted …]\n%s", head, omitted, tail)
	}

	maxChars := maxTokens * 4
	headN := int(float64(maxChars) * 0.60)
	tailN := int(float64(maxChars) * 0.25)
	if headN+tailN >= len(text) {
		return text
	}
	omittedChars := len(text) - headN - tailN
	return fmt.Sprintf("%s\n[… %d chars omitted …]\n%s", text[:headN], omittedChars, text[len(text)-tailN:])
}

// Run applies Level 2 then Level 3 in place, given the number of tool
// exchanges made so far this run. Level 1 is applied by the caller at the
// point a tool result is appended (see TruncateToolResult), not here.
func (m *Manager) Run(ctx context.Context, messages []Message, toolExchangeCount int) []Message {
	out := messages

	if m.cfg.SummarizeAfterSteps > 0 && toolExchangeCount > m.cfg.SummarizeAfterSteps {
		threshold := float64(m.cfg.MaxContextTokens) * m.cfg.CompressThreshold
		if float64(EstimateTokens(out)) > threshold {
			out = m.compress(ctx, out)
		}
	}

	if m.cfg.MaxContextTokens > 0 && EstimateTokens(out) > m.cfg.MaxContextTokens {
		out = m.hardCap(out)
	}

	return out
}

// compress is Level 2: partition into [system, user, …old…, …recent…],
// summarize "old" into a single assistant message.
func (m *Manager) compress(ctx context.Context, messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	keepRecent := m.cfg.KeepRecentSteps * 3
	if keepRecent <= 0 {
		keepRecent = 1
	}

	pinnedEnd := 0
	for pinnedEnd < len(messages) && messages[pinnedEnd].Pinned {
		pinnedEnd++
	}
	if pinnedEnd == 0 && len(messages) > 0 {
		pinnedEnd = 1 // at minimum, the system message is pinned by convention
	}

	recentStart := len(messages) - keepRecent
	if recentStart < pinnedEnd {
		return messages // nothing in the "old" partition to compress
	}

	pinned := messages[:pinnedEnd]
	old := messages[pinnedEnd:recentStart]
	recent := messages[recentStart:]
	if len(old) == 0 {
		return messages
	}

	summary, err := m.summarize(ctx, old)
	if err != nil || summary == "" {
		summary = mechanicalSummary(old)
	}

	result := make([]Message, 0, len(pinned)+1+len(recent))
	result = append(result, pinned...)
	result = append(result, Message{Role: "assistant", Content: summary, Pinned: true})
	result = append(result, recent...)

	m.emit("compress", fmt.Sprintf("compressed %d old messages into summary", len(old)))
	return result
}

func (m *Manager) summarize(ctx context.Context, old []Message) (string, error) {
	if m.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	summary, err := m.summarizer.Summarize(ctx, old)
	if err != nil {
		return "", err
	}
	words := strings.Fields(summary)
	if len(words) > 220 {
		summary = strings.Join(words[:200], " ") + " …"
	}
	return summary, nil
}

// mechanicalSummary is the Level 2 fallback when the LLM summarization call
// fails: a concatenated list of prior tool names with success flags,
// truncated to the last 30.
func mechanicalSummary(old []Message) string {
	var names []string
	for _, msg := range old {
		if msg.ToolName == "" {
			continue
		}
		ok := "ok"
		if strings.Contains(strings.ToLower(msg.Content), "error") || strings.Contains(strings.ToLower(msg.Content), "failed") {
			ok = "failed"
		}
		names = append(names, msg.ToolName+":"+ok)
	}
	if len(names) > 30 {
		names = names[len(names)-30:]
	}
	if len(names) == 0 {
		return "[context summary unavailable — " + strconv.Itoa(len(old)) + " prior messages dropped]"
	}
	return "[prior tool activity] " + strings.Join(names, ", ")
}

// hardCap is Level 3: drop the oldest non-pinned pair repeatedly until under
// MaxContextTokens. system and the original user message are always pinned.
func (m *Manager) hardCap(messages []Message) []Message {
	out := append([]Message(nil), messages...)
	for EstimateTokens(out) > m.cfg.MaxContextTokens {
		idx := -1
		for i, msg := range out {
			if !msg.Pinned {
				idx = i
				break
			}
		}
		if idx < 0 {
			break // nothing left to drop
		}
		dropEnd := idx + 1
		if dropEnd < len(out) && !out[dropEnd].Pinned {
			dropEnd++
		}
		out = append(out[:idx], out[dropEnd:]...)
		m.emit("hard_cap", fmt.Sprintf("dropped messages [%d:%d)", idx, dropEnd))
	}
	return out
}

// IsCriticallyFull reports whether estimated tokens exceed CriticalRatio of
// MaxContextTokens even after compression — the agent loop's cue to force a
// graceful close with CONTEXT_FULL.
func (m *Manager) IsCriticallyFull(messages []Message) bool {
	if m.cfg.MaxContextTokens <= 0 {
		return false
	}
	ratio := m.cfg.CriticalRatio
	if ratio <= 0 {
		ratio = 0.95
	}
	return float64(EstimateTokens(messages)) > ratio*float64(m.cfg.MaxContextTokens)
}
