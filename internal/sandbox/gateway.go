// Package sandbox runs user-submitted Python snippets in isolated containers.
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"
)

const (
	// MsgNotReady is shown when a run is attempted before the runtime is up.
	MsgNotReady = "System Error: Python environment is still initializing. Please wait a moment."

	// MsgNoOutput replaces an empty stdout on success.
	MsgNoOutput = "> Code executed successfully (No output)."

	msgUnknownFailure = "Unknown error occurred"
)

// Gateway is an execution runtime. Ready must be polled before every Run.
type Gateway interface {
	Ready() bool
	// Run executes code and returns stdout as ordered lines. A failed
	// execution is reported as an error whose message is the failure line.
	Run(ctx context.Context, code string) ([]string, error)
}

// Result is the outcome of one execution as shown to the user.
type Result struct {
	Lines  []string `json:"lines"`
	Failed bool     `json:"failed"`
}

// Executor guards a gateway: it checks readiness, cleans the snippet and
// folds every failure into a single output line.
type Executor struct {
	gw  Gateway
	sem *semaphore.Weighted
}

// NewExecutor creates an executor allowing at most maxConcurrent runs at once.
func NewExecutor(gw Gateway, maxConcurrent int64) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{gw: gw, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Ready reports whether the underlying runtime accepts runs.
func (e *Executor) Ready() bool {
	return e.gw.Ready()
}

// Run executes code. It never returns a structural error.
func (e *Executor) Run(ctx context.Context, code string) Result {
	if !e.gw.Ready() {
		return failure(MsgNotReady)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return failure(err.Error())
	}
	defer e.sem.Release(1)

	lines, err := e.gw.Run(ctx, StripFences(code))
	if err != nil {
		slog.Debug("Sandbox run failed", "error", err)
		return failure(failureLine(err))
	}
	if len(lines) == 0 {
		return Result{Lines: []string{MsgNoOutput}}
	}
	return Result{Lines: lines}
}

func failure(line string) Result {
	return Result{Lines: []string{line}, Failed: true}
}

func failureLine(err error) string {
	var execErr *ExecError
	if errors.As(err, &execErr) && execErr.Message != "" {
		return execErr.Message
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return msgUnknownFailure
}

var fenceReplacer = strings.NewReplacer("```python", "", "```", "")

// StripFences removes markdown code fences left around a snippet.
func StripFences(code string) string {
	return fenceReplacer.Replace(code)
}

// ExecError is a failure raised by the executed program itself.
type ExecError struct {
	ExitCode int64
	Message  string
}

func (e *ExecError) Error() string {
	return e.Message
}

// SplitLines splits program output into lines, dropping the trailing newline.
func SplitLines(out string) []string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
