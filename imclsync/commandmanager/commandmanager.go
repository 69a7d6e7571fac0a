package commandmanager

import (
	"context"
	"strings"
	"time"
)

// CommandConfig describes one process invocation as an argv, never as a
// pre-joined shell string. String renders it for SSH and for logs.
type CommandConfig struct {
	Command string
	Args    []string
	Sudo    bool
	Env     []string
}

// CommandResult encapsulates the results from a command execution.
// A non-zero ExitCode is a result, not an error.
type CommandResult struct {
	Command   string
	STDOUT    string
	STDERR    string
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

// Credentials used for SSH authentication and sudo.
type Credentials struct {
	User          string
	Password      string
	KeyPassphrase string
	SudoPassword  string
}

// CommandManager runs commands on a host. Implementations must capture both
// streams fully and must have reaped the process by the time Run returns.
type CommandManager interface {
	Run(ctx context.Context, config CommandConfig) (CommandResult, error)
}

// String renders the command as a single POSIX shell line with every word
// quoted by Quote.
func (c CommandConfig) String() string {
	var words []string
	if c.Sudo {
		words = append(words, "sudo", "-S")
	}
	if len(c.Env) > 0 {
		words = append(words, "env")
		for _, kv := range c.Env {
			words = append(words, Quote(kv))
		}
	}
	words = append(words, Quote(c.Command))
	for _, arg := range c.Args {
		words = append(words, Quote(arg))
	}
	return strings.Join(words, " ")
}

// Succeeded reports whether the process exited with status 0.
func (r CommandResult) Succeeded() bool {
	return r.ExitCode == 0
}
