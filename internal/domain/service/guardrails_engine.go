package service

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// GuardrailSeverity classifies a code-rule match.
type GuardrailSeverity string

const (
	SeverityWarn  GuardrailSeverity = "warn"
	SeverityBlock GuardrailSeverity = "block"
)

// CodeRule is one pattern evaluated against proposed write content before the
// write commits. block aborts the write with a structured error surfaced to
// the LLM; warn allows the write through and only logs.
type CodeRule struct {
	Pattern  *regexp.Regexp
	Severity GuardrailSeverity
	Message  string
}

// QualityGate is a shell command run once at agent completion. A failing
// required gate is reported back to the LLM as feedback rather than failing
// the run outright, so the agent gets one chance per gate to fix it.
type QualityGate struct {
	Name     string
	Command  string
	Required bool
}

// GuardrailsConfig is the deterministic policy the LLM cannot disable,
// evaluated before hooks and before tool execution.
type GuardrailsConfig struct {
	ProtectedFiles  []string // glob patterns; write-like tools denied
	SensitiveFiles  []string // glob patterns; read AND write denied
	BlockedCommands []*regexp.Regexp
	MaxCommands     int // 0 = unlimited
	MaxFilesTouched int // 0 = unlimited
	MaxLinesChanged int // 0 = unlimited
	CodeRules       []CodeRule
	QualityGates    []QualityGate
}

// writeLikeTools classifies which tool names count as "write-like" for the
// purposes of check_file_access / check_edit_limits. Mirrors the Tool
// Registry's Kind-based MutatorKinds split, kept independent here since the
// guardrails engine must work from a bare tool name before a Kind lookup.
var writeLikeTools = map[string]bool{
	"write_file":  true,
	"edit_file":   true,
	"apply_patch": true,
	"delete_file": true,
}

// GuardrailViolation is returned by any check_* method on a block/deny.
type GuardrailViolation struct {
	Code    string // e.g. "GUARDRAIL_BLOCKED"
	Message string
}

func (v *GuardrailViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// GuardrailsEngine is the deterministic pre-write/pre-read/pre-command policy
// layer. State (files_modified, lines_changed, commands_executed) is
// run-scoped and reset between runs; the counters are guarded by a mutex so
// concurrent tool-call workers (§4.11 intra-call parallelism) cannot race.
type GuardrailsEngine struct {
	cfg    GuardrailsConfig
	logger *zap.Logger

	mu              sync.Mutex
	filesModified   map[string]bool
	linesChanged    int
	commandsRun     int
	gatesRetried    map[string]bool // quality gate name -> already given the LLM one retry
}

// NewGuardrailsEngine creates an engine for one run.
func NewGuardrailsEngine(cfg GuardrailsConfig, logger *zap.Logger) *GuardrailsEngine {
	return &GuardrailsEngine{
		cfg:           cfg,
		logger:        logger,
		filesModified: make(map[string]bool),
		gatesRetried:  make(map[string]bool),
	}
}

// CheckFileAccess enforces protected_files (write-like tools only) and
// sensitive_files (both read and write tools).
func (e *GuardrailsEngine) CheckFileAccess(toolName, path string) error {
	for _, pattern := range e.cfg.SensitiveFiles {
		if matched, _ := filepath.Match(pattern, path); matched {
			return &GuardrailViolation{Code: "GUARDRAIL_BLOCKED", Message: fmt.Sprintf("%s matches sensitive_files pattern %q", path, pattern)}
		}
	}
	if !writeLikeTools[toolName] {
		return nil
	}
	for _, pattern := range e.cfg.ProtectedFiles {
		if matched, _ := filepath.Match(pattern, path); matched {
			return &GuardrailViolation{Code: "GUARDRAIL_BLOCKED", Message: fmt.Sprintf("%s matches protected_files pattern %q", path, pattern)}
		}
	}
	return nil
}

// redirectPattern and readPattern capture the file target of a shell
// redirection/read operator.
var redirectPattern = regexp.MustCompile(`(?:>>?|\|\s*tee(?:\s+-a)?|<)\s*([^\s;&|]+)`)
var readPattern = regexp.MustCompile(`\bcat\s+([^\s;&|]+)`)

// CheckCommand enforces the blocklist, the global per-run command cap, and
// re-checks any shell redirection/read targets against the file-access
// policy exactly as if they were their own write/read tool call.
func (e *GuardrailsEngine) CheckCommand(command string) error {
	for _, blocked := range e.cfg.BlockedCommands {
		if blocked.MatchString(command) {
			return &GuardrailViolation{Code: "GUARDRAIL_BLOCKED", Message: fmt.Sprintf("command matches blocked pattern %q", blocked.String())}
		}
	}

	e.mu.Lock()
	e.commandsRun++
	count := e.commandsRun
	e.mu.Unlock()
	if e.cfg.MaxCommands > 0 && count > e.cfg.MaxCommands {
		return &GuardrailViolation{Code: "GUARDRAIL_BLOCKED", Message: "command count exceeds per-run cap"}
	}

	for _, m := range redirectPattern.FindAllStringSubmatch(command, -1) {
		if err := e.CheckFileAccess("write_file", strings.Trim(m[1], `"'`)); err != nil {
			return err
		}
	}
	for _, m := range readPattern.FindAllStringSubmatch(command, -1) {
		if err := e.CheckFileAccess("read_file", strings.Trim(m[1], `"'`)); err != nil {
			return err
		}
	}
	return nil
}

// CheckEditLimits denies once the cumulative files-touched or lines-changed
// counters exceed their configured caps. Call RecordEdit after a successful
// write to advance the counters.
func (e *GuardrailsEngine) CheckEditLimits() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.MaxFilesTouched > 0 && len(e.filesModified) > e.cfg.MaxFilesTouched {
		return &GuardrailViolation{Code: "GUARDRAIL_BLOCKED", Message: "files-touched limit exceeded"}
	}
	if e.cfg.MaxLinesChanged > 0 && e.linesChanged > e.cfg.MaxLinesChanged {
		return &GuardrailViolation{Code: "GUARDRAIL_BLOCKED", Message: "lines-changed limit exceeded"}
	}
	return nil
}

// RecordEdit advances the run-scoped files_modified/lines_changed state after
// a write-like tool succeeds. Called by the Execution Engine, step 8.
func (e *GuardrailsEngine) RecordEdit(path string, lineDelta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filesModified[path] = true
	e.linesChanged += lineDelta
}

// CheckCodeRules evaluates proposed write content against the configured
// rule set before the write commits. The first block-severity match aborts;
// warn-severity matches are logged but do not stop the write.
func (e *GuardrailsEngine) CheckCodeRules(path, proposedContent string) error {
	for _, rule := range e.cfg.CodeRules {
		if !rule.Pattern.MatchString(proposedContent) {
			continue
		}
		if rule.Severity == SeverityBlock {
			return &GuardrailViolation{Code: "GUARDRAIL_BLOCKED", Message: rule.Message}
		}
		e.logger.Warn("code rule matched (warn)",
			zap.String("path", path),
			zap.String("pattern", rule.Pattern.String()),
			zap.String("message", rule.Message),
		)
	}
	return nil
}

// QualityGateResult is the outcome of one quality gate invocation.
type QualityGateResult struct {
	Name    string
	Passed  bool
	Output  string
	Skipped bool // already retried once this run; not re-run again
}

// ShouldRetryGate reports whether gate has not yet been given its one retry
// this run — run_quality_gates gives a failing required gate exactly one
// chance at agent completion to avoid infinite retry loops.
func (e *GuardrailsEngine) ShouldRetryGate(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.gatesRetried[name]
}

// MarkGateRetried records that name has now been given its one retry.
func (e *GuardrailsEngine) MarkGateRetried(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gatesRetried[name] = true
}

// FilesModified returns a snapshot of the run-scoped touched-file set.
func (e *GuardrailsEngine) FilesModified() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.filesModified))
	for f := range e.filesModified {
		out = append(out, f)
	}
	return out
}

// LinesChanged returns the run-scoped cumulative line-delta counter.
func (e *GuardrailsEngine) LinesChanged() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.linesChanged
}

// commandTools and their shell-command argument name.
var commandArgTool = map[string]string{"bash": "command", "run_command": "command"}

// pathArgTool maps a path-bearing tool to the argument name holding its path.
var pathArgTool = map[string]string{
	"read_file": "path", "write_file": "path", "edit_file": "path",
	"list_dir": "path", "glob": "path", "apply_patch": "path",
}

// contentArgByTool maps a write-like tool to the argument holding the
// proposed content CheckCodeRules should scan before the write commits.
var contentArgByTool = map[string]string{"write_file": "content", "edit_file": "new_text"}

// CheckToolCall runs the file-access, command, and code-rule checks that
// apply to one tool invocation, dispatching on the tool's known argument
// shape. Unrecognized tools (e.g. read-only network/search tools) pass
// through untouched — they carry no file or command surface to police.
func (e *GuardrailsEngine) CheckToolCall(toolName string, args map[string]interface{}) error {
	if err := e.CheckEditLimits(); err != nil && writeLikeTools[toolName] {
		return err
	}
	if argName, ok := commandArgTool[toolName]; ok {
		if cmd, _ := args[argName].(string); cmd != "" {
			if err := e.CheckCommand(cmd); err != nil {
				return err
			}
		}
	}
	if argName, ok := pathArgTool[toolName]; ok {
		if path, _ := args[argName].(string); path != "" {
			if err := e.CheckFileAccess(toolName, path); err != nil {
				return err
			}
			if contentArg, ok := contentArgByTool[toolName]; ok {
				if content, _ := args[contentArg].(string); content != "" {
					if err := e.CheckCodeRules(path, content); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
