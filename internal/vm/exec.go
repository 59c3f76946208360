package vm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/javanstorm/agentvm/internal/logging"
)

// Host-side abort exit codes. Guest process failures stay positive.
const (
	// ExitTimeout marks a command killed by its deadline.
	ExitTimeout = -1
	// ExitAborted marks a command killed by transport loss or cancellation.
	ExitAborted = -2
)

// CommandResult is the outcome of one guest command.
type CommandResult struct {
	// Output is the command's stdout with stderr merged in, in arrival
	// order. Merging is deliberate: agent tooling wants the same stream
	// a terminal user would see.
	Output string

	// ExitCode is 0 on success, positive for a guest process failure,
	// negative for a host-side abort (timeout, kill).
	ExitCode int

	// Duration is wall-clock time from dispatch to completion.
	Duration time.Duration
}

// GuestTransport dispatches a shell invocation inside a running guest.
// Run returns the merged output and the guest exit code; err is reserved
// for transport-level failures, not non-zero guest exits.
type GuestTransport interface {
	Run(ctx context.Context, command string) (output string, exitCode int, err error)
}

// CommandExecutor builds and runs single shell invocations against a
// running guest. The lifecycle controller guarantees the running
// precondition before delegating here.
type CommandExecutor struct {
	transport GuestTransport
	logger    *slog.Logger
}

// NewCommandExecutor builds an executor over the given transport.
func NewCommandExecutor(transport GuestTransport, logger *slog.Logger) *CommandExecutor {
	return &CommandExecutor{
		transport: transport,
		logger:    logging.Ensure(logger),
	}
}

// Run executes command inside the guest, bounded by timeout. On expiry
// the guest-side process is killed and the result carries ExitTimeout;
// the command is never retried.
func (e *CommandExecutor) Run(ctx context.Context, command string, timeout time.Duration) (CommandResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	invocation := "sh -c " + QuoteShell(command)
	start := time.Now()
	output, exitCode, err := e.transport.Run(runCtx, invocation)
	result := CommandResult{
		Output:   output,
		ExitCode: exitCode,
		Duration: time.Since(start),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.ExitCode = ExitTimeout
		e.logger.Warn("guest command timed out", "timeout", timeout)
		return result, fmt.Errorf("%w after %s", ErrCommandTimeout, timeout)
	case err != nil:
		result.ExitCode = ExitAborted
		return result, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	return result, nil
}

// shellSafe are the bytes that never need quoting in a POSIX shell word.
const shellSafe = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"@%_-+=:,./"

// QuoteShell escapes s for use as a single shell word. Strings made of
// safe characters pass through unchanged; anything else is wrapped in
// single quotes, with embedded single quotes turned into '\'' so the
// quoting closes, escapes the quote, and reopens.
func QuoteShell(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(shellSafe, rune(s[i])) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
