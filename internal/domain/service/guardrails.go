package service

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/architect-cli/architect/internal/domain/entity"
)

// Guardrail sentinel errors
var (
	ErrTokenBudgetExceeded = fmt.Errorf("token budget exceeded")
	ErrTimeBudgetExceeded  = fmt.Errorf("run time budget exceeded")
	ErrContextOverflow     = fmt.Errorf("context window overflow")
	ErrCostBudgetExceeded  = fmt.Errorf("cost budget exceeded")
)

// ModelPrice is the per-million-token USD price for one model, split between
// fresh input, cached input, and output tokens (cached input is typically a
// fraction of fresh input price on providers that support prompt caching).
type ModelPrice struct {
	InputPerMillion       float64
	CachedInputPerMillion float64
	OutputPerMillion      float64
}

// defaultPriceTable is a conservative fallback price list; callers normally
// supply their own from config (llm.pricing), this just keeps CostGuard
// usable standalone and in tests.
var defaultPriceTable = map[string]ModelPrice{
	"gpt-4o":            {InputPerMillion: 2.50, CachedInputPerMillion: 1.25, OutputPerMillion: 10.00},
	"gpt-4o-mini":       {InputPerMillion: 0.15, CachedInputPerMillion: 0.075, OutputPerMillion: 0.60},
	"claude-3-5-sonnet": {InputPerMillion: 3.00, CachedInputPerMillion: 0.30, OutputPerMillion: 15.00},
	"gemini-1.5-pro":    {InputPerMillion: 1.25, CachedInputPerMillion: 0.3125, OutputPerMillion: 5.00},
}

// CostGuard prevents token/time/USD budget overruns and keeps an append-only
// per-source cost ledger (agent steps, eval runs, summarization calls).
// Thread-safe — can be safely read from multiple goroutines.
type CostGuard struct {
	maxTokens     int64
	currentTokens atomic.Int64
	maxDuration   time.Duration
	startTime     time.Time
	logger        *zap.Logger

	mu         sync.Mutex
	prices     map[string]ModelPrice
	budgetUSD  float64 // 0 = disabled
	warnAtUSD  float64 // 0 = disabled
	totalUSD   float64
	overBudget bool
	ledger     []entity.CostEntry
}

// NewCostGuard creates a cost guard for the current run.
func NewCostGuard(maxTokens int64, maxDuration time.Duration, logger *zap.Logger) *CostGuard {
	return &CostGuard{
		maxTokens:   maxTokens,
		maxDuration: maxDuration,
		startTime:   time.Now(),
		logger:      logger,
		prices:      defaultPriceTable,
	}
}

// SetPriceTable replaces the USD price table (normally loaded from config).
func (g *CostGuard) SetPriceTable(prices map[string]ModelPrice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices = prices
}

// SetUSDBudget configures the advisory cost budget. Exceeding it sets
// over_budget but does not itself error out a running agent — callers decide
// whether an over-budget run should stop, matching spec's "advisory flag"
// design for the Cost Tracker.
func (g *CostGuard) SetUSDBudget(budget, warnAt float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.budgetUSD = budget
	g.warnAtUSD = warnAt
}

// AddTokens accumulates token usage; returns error if the raw token budget
// is exceeded.
func (g *CostGuard) AddTokens(n int64) error {
	current := g.currentTokens.Add(n)
	if g.maxTokens > 0 && current > g.maxTokens {
		g.logger.Warn("Token budget exceeded",
			zap.Int64("current", current),
			zap.Int64("max", g.maxTokens),
		)
		return ErrTokenBudgetExceeded
	}
	return nil
}

// RecordCost prices one LLM call and appends it to the ledger. source is a
// free-form tag ("agent", "eval", "summary") used to group the ledger.
func (g *CostGuard) RecordCost(step int, model string, inputTokens, outputTokens, cachedInputTokens int, source string) entity.CostEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	price, ok := g.prices[model]
	if !ok {
		price = ModelPrice{InputPerMillion: 3.00, OutputPerMillion: 15.00}
	}

	freshInput := inputTokens - cachedInputTokens
	if freshInput < 0 {
		freshInput = 0
	}
	costUSD := float64(freshInput)/1e6*price.InputPerMillion +
		float64(cachedInputTokens)/1e6*price.CachedInputPerMillion +
		float64(outputTokens)/1e6*price.OutputPerMillion

	entry := entity.CostEntry{
		Step:              step,
		Model:             model,
		InputTokens:       inputTokens,
		OutputTokens:      outputTokens,
		CachedInputTokens: cachedInputTokens,
		CostUSD:           costUSD,
		Source:            source,
	}
	g.ledger = append(g.ledger, entry)
	g.totalUSD += costUSD

	if g.budgetUSD > 0 && g.totalUSD > g.budgetUSD {
		g.overBudget = true
		g.logger.Warn("USD cost budget exceeded",
			zap.Float64("total_usd", g.totalUSD),
			zap.Float64("budget_usd", g.budgetUSD),
		)
	} else if g.warnAtUSD > 0 && g.totalUSD > g.warnAtUSD {
		g.logger.Info("approaching USD cost budget",
			zap.Float64("total_usd", g.totalUSD),
			zap.Float64("warn_at_usd", g.warnAtUSD),
		)
	}

	return entry
}

// TotalUSD returns the running USD total and whether the run is over budget.
func (g *CostGuard) TotalUSD() (total float64, overBudget bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalUSD, g.overBudget
}

// Ledger returns a copy of the cost ledger accumulated so far.
func (g *CostGuard) Ledger() []entity.CostEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]entity.CostEntry, len(g.ledger))
	copy(out, g.ledger)
	return out
}

// LedgerBySource totals USD cost grouped by source tag.
func (g *CostGuard) LedgerBySource() map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	totals := make(map[string]float64)
	for _, e := range g.ledger {
		totals[e.Source] += e.CostUSD
	}
	return totals
}

// CheckBudget returns error if time budget exceeded.
func (g *CostGuard) CheckBudget() error {
	if g.maxDuration > 0 && time.Since(g.startTime) > g.maxDuration {
		return ErrTimeBudgetExceeded
	}
	return nil
}

// GetUsage returns current token count and elapsed time.
func (g *CostGuard) GetUsage() (tokens int64, elapsed time.Duration) {
	return g.currentTokens.Load(), time.Since(g.startTime)
}

// ContextGuard monitors context window usage and triggers compaction.
type ContextGuard struct {
	maxTokens int
	warnRatio float64
	hardRatio float64
	logger    *zap.Logger
}

// NewContextGuard creates a context window guard.
func NewContextGuard(maxTokens int, warnRatio, hardRatio float64, logger *zap.Logger) *ContextGuard {
	return &ContextGuard{
		maxTokens: maxTokens,
		warnRatio: warnRatio,
		hardRatio: hardRatio,
		logger:    logger,
	}
}

// ContextCheckResult holds the result of a context window check.
type ContextCheckResult struct {
	EstimatedTokens int
	MaxTokens       int
	Ratio           float64
	NeedCompaction  bool // Hard threshold exceeded — must compact
	Warning         bool // Warn threshold exceeded — approaching limit
}

// Check estimates token usage for LLMMessages and returns compaction signals.
func (g *ContextGuard) Check(messages []LLMMessage) ContextCheckResult {
	estimated := g.estimateTokens(messages)
	ratio := float64(estimated) / float64(g.maxTokens)

	result := ContextCheckResult{
		EstimatedTokens: estimated,
		MaxTokens:       g.maxTokens,
		Ratio:           ratio,
	}

	if ratio > g.hardRatio {
		result.NeedCompaction = true
		g.logger.Warn("Context window exceeds hard threshold",
			zap.Int("tokens", estimated),
			zap.Int("max", g.maxTokens),
			zap.Float64("ratio", ratio),
		)
	} else if ratio > g.warnRatio {
		result.Warning = true
		g.logger.Info("Context window approaching limit",
			zap.Int("tokens", estimated),
			zap.Int("max", g.maxTokens),
			zap.Float64("ratio", ratio),
		)
	}

	return result
}

// estimateTokens roughly estimates token count.
// Heuristic: chars/4, applied uniformly to prose and code.
func (g *ContextGuard) estimateTokens(messages []LLMMessage) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
		// ContentParts: count text parts
		for _, p := range msg.Parts {
			if p.Type == "text" {
				total += len(p.Text) / 4
			} else {
				total += 85 // image/media tokens (~85 for a typical image descriptor)
			}
		}
		// Tool call arguments overhead
		for _, tc := range msg.ToolCalls {
			total += len(tc.Name) + 50
		}
	}
	// Per-message formatting overhead
	total += len(messages) * 4
	return total
}

// LoopDetector detects repeated tool call patterns using two strategies:
//   1. Name-only: same tool name called consecutively (regardless of args)
//   2. Exact match: same tool name + identical args in sliding window
//
// Neither strategy terminates the loop. Instead, they return reflection prompts
// for injection into the conversation, letting the LLM self-correct.
// This aligns with OpenClaw/Continue's LLM-driven termination philosophy.
type LoopDetector struct {
	recentCalls []string // stores "name|argsHash" signatures
	windowSize  int
	threshold   int      // exact-match threshold (sliding window)

	// Name-only sliding window tracking (separate from exact-match window)
	nameThreshold int
	nameHistory   []string // tool names only, for frequency counting

	logger *zap.Logger
}

// NewLoopDetector creates a loop detector with both name-only and exact-match detection.
// nameThreshold: consecutive same-name calls before reflection (e.g. 8)
// windowSize/threshold: sliding window for exact-match detection
func NewLoopDetector(windowSize, threshold, nameThreshold int, logger *zap.Logger) *LoopDetector {
	return &LoopDetector{
		recentCalls:   make([]string, 0, windowSize),
		windowSize:    windowSize,
		threshold:     threshold,
		nameThreshold: nameThreshold,
		logger:        logger,
	}
}

// RecordName tracks tool name frequency in the sliding window (ignoring args).
// Returns a non-empty reflection prompt when the same tool appears >= nameThreshold
// times within the window — even if other tools are interleaved.
// This catches patterns like: bash×7 → web_search → bash (not strictly consecutive).
func (d *LoopDetector) RecordName(toolName string) string {
	// recentCalls is already maintained by Record(), so we count tool name
	// occurrences in the existing window. We also track via separate name window.
	d.nameHistory = append(d.nameHistory, toolName)
	if len(d.nameHistory) > d.windowSize {
		d.nameHistory = d.nameHistory[1:]
	}

	// Count how many times this tool name appears in the window
	count := 0
	for _, name := range d.nameHistory {
		if name == toolName {
			count++
		}
	}

	if count >= d.nameThreshold {
		d.logger.Warn("Same tool dominates sliding window",
			zap.String("tool", toolName),
			zap.Int("count_in_window", count),
			zap.Int("window_size", len(d.nameHistory)),
			zap.Int("threshold", d.nameThreshold),
		)
		return fmt.Sprintf(
			"[SYSTEM] ⚠️ 严重警告：工具 %s 在最近 %d 次调用中出现了 %d 次。"+
				"你很可能陷入了重试循环。你必须立即停止调用工具，"+
				"直接用中文回复用户：(1) 你在尝试做什么 (2) 遇到了什么困难 (3) 建议用户如何解决。"+
				"不要再调用任何工具。",
			toolName, len(d.nameHistory), count,
		)
	}
	return ""
}

// Record adds a tool call to the sliding window and returns a non-empty reflection
// prompt if the EXACT same call (name + args) appears >= threshold times consecutively.
func (d *LoopDetector) Record(toolName string, args ...string) string {
	sig := toolName
	if len(args) > 0 && args[0] != "" {
		sig = toolName + "|" + args[0]
	}

	d.recentCalls = append(d.recentCalls, sig)
	if len(d.recentCalls) > d.windowSize {
		d.recentCalls = d.recentCalls[1:]
	}

	if len(d.recentCalls) < d.threshold {
		return ""
	}

	tail := d.recentCalls[len(d.recentCalls)-d.threshold:]
	allSame := true
	for _, name := range tail {
		if name != tail[0] {
			allSame = false
			break
		}
	}

	if allSame {
		d.logger.Warn("Exact tool call loop detected",
			zap.String("tool", toolName),
			zap.String("signature", sig),
			zap.Int("consecutive_calls", d.threshold),
		)
		return fmt.Sprintf(
			"[SYSTEM] 工具 %s 以完全相同的参数被调用了 %d 次，结果不会改变。"+
				"请停止重复调用，改用其他方法或直接告知用户结果。",
			toolName, d.threshold,
		)
	}
	return ""
}

// Reset clears all tracking state (call at start of each Run).
func (d *LoopDetector) Reset() {
	d.recentCalls = d.recentCalls[:0]
	d.nameHistory = d.nameHistory[:0]
}
