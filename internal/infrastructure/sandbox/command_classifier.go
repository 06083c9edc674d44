package sandbox

import "regexp"

// CommandClass is the risk tier assigned to a shell command string.
type CommandClass string

const (
	ClassSafe      CommandClass = "safe"
	ClassDev       CommandClass = "dev"
	ClassDangerous CommandClass = "dangerous"
)

// safePrefixes are read-only commands: no filesystem or network mutation.
var safePrefixes = []string{
	"ls", "cat", "pwd", "env", "head", "tail", "wc", "find", "grep",
	"git status", "git log", "git diff", "git show", "git branch",
	"go version", "node --version", "python --version", "python3 --version",
	"npm --version", "which", "whoami", "date", "echo",
}

// devPrefixes are test/build tooling — routine but writes build artifacts.
var devPrefixes = []string{
	"pytest", "mypy", "ruff", "cargo test", "cargo build", "npm test",
	"npm run", "make", "tsc", "go test", "go build", "eslint",
	"black --check", "pip install", "npm install",
}

// blockedCommandPatterns is the unconditional blocklist: these never run
// regardless of confirmation mode, even in confirm-all.
var blockedCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`curl[^|]*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`wget[^|]*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`chmod\s+777\b`),
	regexp.MustCompile(`\bkillall\s+-9\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
}

// DefaultBlockedCommandPatterns returns a fresh copy of the built-in
// blocklist; callers may append config-supplied patterns.
func DefaultBlockedCommandPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(blockedCommandPatterns))
	copy(out, blockedCommandPatterns)
	return out
}

// IsBlocked reports whether command matches any unconditional blocklist
// pattern — these are rejected regardless of confirmation mode.
func IsBlocked(command string, extra []*regexp.Regexp) (bool, string) {
	for _, pattern := range blockedCommandPatterns {
		if pattern.MatchString(command) {
			return true, pattern.String()
		}
	}
	for _, pattern := range extra {
		if pattern.MatchString(command) {
			return true, pattern.String()
		}
	}
	return false, ""
}

// Classify assigns a risk tier to command by prefix match. Anything not
// recognized as safe or dev falls through to dangerous.
func Classify(command string) CommandClass {
	for _, p := range safePrefixes {
		if hasPrefix(command, p) {
			return ClassSafe
		}
	}
	for _, p := range devPrefixes {
		if hasPrefix(command, p) {
			return ClassDev
		}
	}
	return ClassDangerous
}

func hasPrefix(command, prefix string) bool {
	if len(command) < len(prefix) {
		return false
	}
	return command[:len(prefix)] == prefix
}

// ConfirmMode mirrors entity.ConfirmMode's three values without importing the
// domain entity package here (sandbox sits below domain in the dependency
// graph) — the Execution Engine translates between the two.
type ConfirmMode string

const (
	ModeYolo             ConfirmMode = "yolo"
	ModeConfirmSensitive ConfirmMode = "confirm-sensitive"
	ModeConfirmAll       ConfirmMode = "confirm-all"
)

// NeedsConfirmation implements the class x mode confirmation matrix:
//
//	class      | yolo | confirm-sensitive | confirm-all
//	safe       | no   | no                 | yes
//	dev        | no   | yes                | yes
//	dangerous  | no*  | yes                | yes
//
// *no setting rejects dangerous commands under yolo; they run without
// confirmation, and only the IsBlocked blocklist stops a command outright.
func NeedsConfirmation(mode ConfirmMode, class CommandClass) bool {
	switch mode {
	case ModeConfirmAll:
		return true
	case ModeConfirmSensitive:
		return class == ClassDev || class == ClassDangerous
	default: // yolo
		return false
	}
}
