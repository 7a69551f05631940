package bench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	terrors "github.com/tracesmith/tracesmith/internal/errors"
)

// Result is the observed outcome of one benchmark process.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Executor builds benchmark binaries and runs benchmark processes.
// The process-backed implementation is ProcessExecutor; tests substitute
// scripted implementations.
type Executor interface {
	// Build prepares the benchmark's executable. Implementations memoize:
	// at most one build per benchmark per Executor lifetime.
	Build(ctx context.Context, spec Spec) error

	// Run executes one invocation to completion. A non-zero exit returns
	// a RUN_FAILED error alongside the observed Result.
	Run(ctx context.Context, spec Spec, inv Invocation) (Result, error)
}

// ProcessExecutor runs real benchmark processes in a fixed working
// directory, appending their combined output to a log file.
type ProcessExecutor struct {
	workDir      string
	logPath      string
	buildCommand []string
	timeout      time.Duration

	mu    sync.Mutex
	built map[string]bool
}

// NewProcessExecutor creates a process executor.
// timeout of zero disables the per-run wall-clock limit.
func NewProcessExecutor(workDir, logPath string, buildCommand []string, timeout time.Duration) *ProcessExecutor {
	return &ProcessExecutor{
		workDir:      workDir,
		logPath:      logPath,
		buildCommand: buildCommand,
		timeout:      timeout,
		built:        make(map[string]bool),
	}
}

// Build runs the build command once in the benchmark's build directory.
// Later calls for the same benchmark are no-ops.
func (e *ProcessExecutor) Build(ctx context.Context, spec Spec) error {
	e.mu.Lock()
	done := e.built[spec.Name]
	e.mu.Unlock()
	if done {
		return nil
	}

	cmd := exec.CommandContext(ctx, e.buildCommand[0], e.buildCommand[1:]...)
	cmd.Dir = spec.BuildDir
	out, err := cmd.CombinedOutput()

	e.appendLog(fmt.Sprintf("=== build %s: %s (in %s)\n%s",
		spec.Name, strings.Join(e.buildCommand, " "), spec.BuildDir, out))

	if err != nil {
		return terrors.NewBuildError(
			fmt.Sprintf("%s failed in %s", strings.Join(e.buildCommand, " "), spec.BuildDir),
			err,
		).WithDetails(map[string]interface{}{"output": strings.TrimSpace(string(out))})
	}

	e.mu.Lock()
	e.built[spec.Name] = true
	e.mu.Unlock()
	return nil
}

// Run executes one invocation with stdout and stderr appended to the log
// file. The per-run timeout, when configured, kills the process on expiry
// and reports the run as failed.
func (e *ProcessExecutor) Run(ctx context.Context, spec Spec, inv Invocation) (Result, error) {
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logFile, err := os.OpenFile(e.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return Result{ExitCode: -1}, terrors.NewRunError("failed to open run log", err)
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "\n=== run %s: %s\n", time.Now().UTC().Format(time.RFC3339), inv.CommandLine())

	cmd := exec.CommandContext(runCtx, spec.ExecPath, inv.Args...)
	cmd.Dir = e.workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	start := time.Now()
	runErr := cmd.Run()
	res := Result{Duration: time.Since(start)}

	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		msg := fmt.Sprintf("%s exited with status %d", inv.CommandLine(), res.ExitCode)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("%s killed after %s timeout", inv.CommandLine(), e.timeout)
		}
		return res, terrors.NewRunError(msg, runErr).
			WithDetails(map[string]interface{}{"exit_code": res.ExitCode})
	}

	// The process never started (missing executable, permission, ...).
	res.ExitCode = -1
	return res, terrors.NewRunError(fmt.Sprintf("failed to start %s", inv.CommandLine()), runErr).
		WithDetails(map[string]interface{}{"exit_code": res.ExitCode})
}

// appendLog best-effort appends a block to the run log.
func (e *ProcessExecutor) appendLog(block string) {
	f, err := os.OpenFile(e.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, block)
}
