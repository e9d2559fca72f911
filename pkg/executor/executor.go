// Package executor invokes the external HTTP client as a direct child
// process. The argument vector is passed as discrete arguments, never
// concatenated into a shell string; every run is bounded by a timeout and
// an output cap. Execution failures are captured into the result shape
// rather than raised, so callers always get a result to interpret.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/relayforge/relayforge/pkg/domain"
)

const (
	// DefaultTimeout bounds a single external call.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxOutput caps captured stdout and stderr, each.
	DefaultMaxOutput = 1 << 20 // 1 MiB

	statusMarker = "HTTP_STATUS:"
)

// Executor runs sanitized argument vectors against a fixed binary.
// Safe for concurrent use; no state is shared between calls.
type Executor struct {
	Binary    string
	Timeout   time.Duration
	MaxOutput int64
	logger    *slog.Logger
}

// New returns an Executor for the given binary (curl in production; tests
// point it at something tame). Zero options take the package defaults.
func New(binary string, timeout time.Duration, maxOutput int64, logger *slog.Logger) *Executor {
	if binary == "" {
		binary = "curl"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{Binary: binary, Timeout: timeout, MaxOutput: maxOutput, logger: logger}
}

// Run executes the argument vector and normalizes the outcome. It never
// returns an error: timeouts, spawn failures and non-zero exits all land
// in the result with Success=false.
func (e *Executor) Run(ctx context.Context, args []string) domain.ExecutionResult {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	stdout := newBoundedBuffer(e.MaxOutput)
	stderr := newBoundedBuffer(e.MaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := domain.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd, runErr),
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.Error = fmt.Sprintf("execution timed out after %s", e.Timeout)
	case runErr != nil && res.ExitCode < 0:
		res.Error = fmt.Sprintf("failed to start process: %v", runErr)
	case runErr != nil:
		res.Error = fmt.Sprintf("process exited with code %d", res.ExitCode)
	}

	body, code := splitStatusMarker(res.Stdout)
	res.HTTPCode = code
	res.Response = parseBody(body)
	res.Success = runErr == nil && code >= 200 && code < 300

	e.logger.Debug("External call finished",
		"binary", e.Binary,
		"exit_code", res.ExitCode,
		"http_code", res.HTTPCode,
		"success", res.Success,
		"duration", elapsed,
	)
	return res
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// splitStatusMarker strips the trailing HTTP_STATUS trailer appended by
// the write-out flag and returns the remaining body plus the parsed code
// (0 when absent).
func splitStatusMarker(out string) (string, int) {
	idx := strings.LastIndex(out, statusMarker)
	if idx < 0 {
		return out, 0
	}
	tail := strings.TrimSpace(out[idx+len(statusMarker):])
	code, err := strconv.Atoi(tail)
	if err != nil {
		return out, 0
	}
	body := strings.TrimRight(out[:idx], "\n")
	return body, code
}

// parseBody attempts structured decoding, falling back to the raw string.
func parseBody(body string) domain.Response {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return domain.RawResponse("")
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return domain.RawResponse(body)
	}
	return domain.StructuredResponse(v)
}

// boundedBuffer keeps at most cap bytes and silently drops the rest.
type boundedBuffer struct {
	max int64
	buf strings.Builder
}

func newBoundedBuffer(max int64) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining > 0 {
		if int64(len(p)) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	// Report full write so the child never sees a pipe error.
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
