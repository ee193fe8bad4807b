package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultAllowedCommands is the base command allow-list for shell/exec.
var DefaultAllowedCommands = []string{
	"ls", "cat", "head", "tail", "grep", "df", "free",
	"top", "ps", "netstat", "systemctl", "service", "journalctl",
}

// forbiddenArgvChars are rejected anywhere in an argv element to prevent
// shell metacharacter smuggling even though the command is exec'd without a
// shell.
const forbiddenArgvChars = "|&;`$><\n\r"

// CommandPolicy enforces the shell/exec allow-list.
type CommandPolicy struct {
	Allowed map[string]bool
}

// NewCommandPolicy builds a CommandPolicy, applying the package default
// when the configured list is empty.
func NewCommandPolicy(allowed []string) *CommandPolicy {
	if len(allowed) == 0 {
		allowed = DefaultAllowedCommands
	}
	set := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		set[c] = true
	}
	return &CommandPolicy{Allowed: set}
}

// CheckArgv validates a fully tokenized argv (no shell interpretation — the
// caller must already have split the command string into tokens itself,
// e.g. via shell-word splitting done purely for tokenizing, never for
// execution). Returns the basename of argv[0] for logging.
func (c *CommandPolicy) CheckArgv(argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	for _, a := range argv {
		if strings.ContainsAny(a, forbiddenArgvChars) {
			return "", fmt.Errorf("argument contains forbidden characters: %q", a)
		}
	}
	base := filepath.Base(argv[0])
	if !c.Allowed[base] {
		return "", fmt.Errorf("command not allowed: %s", base)
	}
	return base, nil
}

// BuildEnv restricts the execution environment to PATH (defaulted if
// absent) plus only the keys the caller explicitly supplied.
func BuildEnv(callerEnv map[string]string) []string {
	env := make([]string, 0, len(callerEnv)+1)
	hasPath := false
	for k, v := range callerEnv {
		env = append(env, k+"="+v)
		if k == "PATH" {
			hasPath = true
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/bin:/bin")
	}
	return env
}
