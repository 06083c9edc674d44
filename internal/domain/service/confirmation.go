package service

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/term"

	domaintool "github.com/architect-cli/architect/internal/domain/tool"
	"github.com/architect-cli/architect/internal/infrastructure/sandbox"
)

// ErrUserRejected is returned when the operator answers "n" to a
// confirmation prompt, when a command matches the blocklist, or when a prompt
// was required and no prompter is set.
var ErrUserRejected = errors.New("tool call rejected by operator")

// ConfirmationPrompter asks a yes/no/always question and returns the answer.
// Implementations must be safe to call from the agent loop's goroutine.
type ConfirmationPrompter interface {
	Confirm(toolName string, kind domaintool.Kind, summary string) (ConfirmAnswer, error)
}

// ConfirmAnswer is the operator's response to one confirmation prompt.
type ConfirmAnswer int

const (
	AnswerNo ConfirmAnswer = iota
	AnswerYes
	AnswerAlways
)

// ConfirmationPolicy decides, per tool call, whether the Execution Engine
// must pause for operator approval before running it. Mirrors the decision
// shape of SecurityHook.BeforeToolCall (trusted/dangerous/mode gating) but
// targets spec's three confirm modes instead of Telegram approval, and
// persists "always" answers into its own allow-for-run set rather than a
// config file.
type ConfirmationPolicy struct {
	mode     entityConfirmMode
	prompter ConfirmationPrompter
	logger   *zap.Logger

	mu      sync.Mutex
	always  map[string]bool // tool names approved "always" for this run
}

// entityConfirmMode aliases entity.ConfirmMode to avoid an import cycle at
// the type level while keeping the values identical.
type entityConfirmMode string

const (
	ModeYolo            entityConfirmMode = "yolo"
	ModeConfirmSensitive entityConfirmMode = "confirm-sensitive"
	ModeConfirmAll      entityConfirmMode = "confirm-all"
)

// NewConfirmationPolicy builds a policy for the given mode. prompter may be
// nil only when mode is ModeYolo.
func NewConfirmationPolicy(mode string, prompter ConfirmationPrompter, logger *zap.Logger) *ConfirmationPolicy {
	return &ConfirmationPolicy{
		mode:     entityConfirmMode(mode),
		prompter: prompter,
		logger:   logger,
		always:   make(map[string]bool),
	}
}

// NeedsConfirmation reports whether kind requires a prompt under the current
// mode, before even consulting the prompter (mirrors domaintool.Policy's
// SafeKinds short-circuit).
func (p *ConfirmationPolicy) NeedsConfirmation(toolName string, kind domaintool.Kind) bool {
	p.mu.Lock()
	if p.always[toolName] {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	switch p.mode {
	case ModeYolo:
		return false
	case ModeConfirmAll:
		return true
	case ModeConfirmSensitive:
		_, mutator := domaintool.MutatorKinds[kind]
		return mutator
	default:
		return true
	}
}

// Confirm prompts the operator (if required) and returns nil to proceed or
// ErrUserRejected to abort the call. summary is a short human-readable
// description of what the call will do, shown in the prompt.
func (p *ConfirmationPolicy) Confirm(toolName string, kind domaintool.Kind, summary string) error {
	if !p.NeedsConfirmation(toolName, kind) {
		return nil
	}
	if p.prompter == nil {
		return fmt.Errorf("%w: confirmation required but no prompter configured", ErrUserRejected)
	}

	answer, err := p.prompter.Confirm(toolName, kind, summary)
	if err != nil {
		return fmt.Errorf("confirmation prompt failed: %w", err)
	}

	switch answer {
	case AnswerAlways:
		p.mu.Lock()
		p.always[toolName] = true
		p.mu.Unlock()
		return nil
	case AnswerYes:
		return nil
	default:
		p.logger.Info("tool call rejected by operator", zap.String("tool", toolName))
		return ErrUserRejected
	}
}

// sandboxMode translates the policy's entity-level mode into sandbox's local
// ConfirmMode, since the sandbox package cannot import entity (it sits below
// domain in the dependency graph).
func (p *ConfirmationPolicy) sandboxMode() sandbox.ConfirmMode {
	switch p.mode {
	case ModeConfirmAll:
		return sandbox.ModeConfirmAll
	case ModeConfirmSensitive:
		return sandbox.ModeConfirmSensitive
	default:
		return sandbox.ModeYolo
	}
}

// ConfirmCommand is Confirm's run_command-specific counterpart: it classifies
// command by risk tier (safe/dev/dangerous) instead of relying on the static
// Kind a generic tool call carries, since "bash" has the same Kind whether it
// runs "git status" or an arbitrary pipeline. blocked commands are rejected
// unconditionally, before the mode/class matrix is even consulted.
func (p *ConfirmationPolicy) ConfirmCommand(toolName, command string) error {
	if blocked, pattern := sandbox.IsBlocked(command, nil); blocked {
		return fmt.Errorf("%w: command matches blocked pattern %q", ErrUserRejected, pattern)
	}

	p.mu.Lock()
	always := p.always[toolName]
	p.mu.Unlock()
	if always {
		return nil
	}

	class := sandbox.Classify(command)
	if !sandbox.NeedsConfirmation(p.sandboxMode(), class) {
		return nil
	}
	if p.prompter == nil {
		return fmt.Errorf("%w: confirmation required but no prompter configured", ErrUserRejected)
	}

	summary := fmt.Sprintf("[%s] %s", class, command)
	answer, err := p.prompter.Confirm(toolName, domaintool.KindExecute, summary)
	if err != nil {
		return fmt.Errorf("confirmation prompt failed: %w", err)
	}

	switch answer {
	case AnswerAlways:
		p.mu.Lock()
		p.always[toolName] = true
		p.mu.Unlock()
		return nil
	case AnswerYes:
		return nil
	default:
		p.logger.Info("command rejected by operator", zap.String("tool", toolName), zap.String("class", string(class)))
		return ErrUserRejected
	}
}

// TTYPrompter implements ConfirmationPrompter by reading y/n/a from an
// attached terminal. It fails fast (rather than blocking forever) when the
// input stream is not backed by a TTY, per spec's NO_TTY behavior.
type TTYPrompter struct {
	in     io.Reader
	out    io.Writer
	isTTY  func() bool
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewTTYPrompter wraps stdin/stdout. fd is the file descriptor backing in,
// used only to test terminal-ness via term.IsTerminal.
func NewTTYPrompter(in io.Reader, out io.Writer, fd int) *TTYPrompter {
	return &TTYPrompter{
		in:     in,
		out:    out,
		isTTY:  func() bool { return term.IsTerminal(fd) },
		reader: bufio.NewReader(in),
	}
}

func (t *TTYPrompter) Confirm(toolName string, kind domaintool.Kind, summary string) (ConfirmAnswer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isTTY() {
		return AnswerNo, fmt.Errorf("no TTY attached, cannot prompt for %s", toolName)
	}

	fmt.Fprintf(t.out, "\n%s (%s): %s\n", toolName, kind, summary)
	fmt.Fprint(t.out, "Allow this call? [y/N/a=always] ")

	line, err := t.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return AnswerNo, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return AnswerYes, nil
	case "a", "always":
		return AnswerAlways, nil
	default:
		return AnswerNo, nil
	}
}
