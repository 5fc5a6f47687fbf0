package task

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Environment variables passed to interpreter scripts.
const (
	EnvPayload   = "RESUMATE_PAYLOAD"
	EnvUserID    = "RESUMATE_USER_ID"
	EnvDeviceID  = "RESUMATE_DEVICE_ID"
	EnvTaskID    = "RESUMATE_TASK_ID"
	EnvWorkspace = "RESUMATE_WORKSPACE"
)

// InterpreterConfig holds configuration for the interpreter bridge
type InterpreterConfig struct {
	// Command is the interpreter executable, e.g. python3.
	Command string
	// ScriptsDir holds the scripts the jobs run.
	ScriptsDir string
	// KillGracePeriod is the delay between SIGTERM and SIGKILL.
	KillGracePeriod time.Duration
}

// ProcessTracker is implemented by *Execution and lets the bridge make a
// child process killable through the process registry.
type ProcessTracker interface {
	TrackProcess(cmd *exec.Cmd, exited chan struct{}, grace time.Duration) *ProcessHandle
	ReleaseProcess()
}

// ScriptRequest describes one interpreter run.
type ScriptRequest struct {
	Script    string
	Payload   any
	Meta      Meta
	Workspace *Workspace
	// Tracker registers the child process for cancellation. Optional.
	Tracker ProcessTracker
}

// ScriptResult lists the artifacts a script announced, in order.
type ScriptResult struct {
	Artifacts []string
}

// Interpreter runs job scripts in a child process. Scripts receive their
// input through environment variables and report artifacts with
// ResultPrefix lines on stdout.
type Interpreter struct {
	config InterpreterConfig
	logger *slog.Logger
}

// NewInterpreter creates an interpreter bridge.
func NewInterpreter(config InterpreterConfig, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.KillGracePeriod <= 0 {
		config.KillGracePeriod = DefaultKillGracePeriod
	}
	return &Interpreter{
		config: config,
		logger: logger.With("component", "interpreter"),
	}
}

// RunScript starts the script, waits for it to exit and returns the
// artifacts it announced. Cancelling ctx, or killing the task through the
// process registry, terminates the script's process group.
func (b *Interpreter) RunScript(ctx context.Context, req ScriptRequest) (*ScriptResult, error) {
	if req.Workspace == nil {
		return nil, errors.New("script run requires a workspace")
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script payload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}

	log := b.logger.With("task_id", req.Meta.TaskID, "script", req.Script)

	cmd := exec.Command(b.config.Command, filepath.Join(b.config.ScriptsDir, req.Script))
	cmd.Dir = req.Workspace.Dir()
	cmd.Env = append(os.Environ(),
		EnvPayload+"="+string(payload),
		EnvUserID+"="+req.Meta.UserID.String(),
		EnvDeviceID+"="+req.Meta.DeviceID,
		EnvTaskID+"="+req.Meta.TaskID.String(),
		EnvWorkspace+"="+req.Workspace.Dir(),
	)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open script stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open script stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", req.Script, err)
	}
	log.Debug("script started", "pid", cmd.Process.Pid)

	exited := make(chan struct{})
	var handle *ProcessHandle
	if req.Tracker != nil {
		handle = req.Tracker.TrackProcess(cmd, exited, b.config.KillGracePeriod)
	} else {
		handle = NewProcessHandle(cmd, nil, b.config.KillGracePeriod, exited)
	}
	go func() {
		select {
		case <-ctx.Done():
			handle.Terminate()
		case <-exited:
		}
	}()

	var (
		wg         sync.WaitGroup
		stderrTail string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxScriptLine)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			stderrTail = line
			log.Warn("script stderr", "line", line)
		}
		_, _ = io.Copy(io.Discard, stderr)
	}()

	artifacts, scanErr := scanScriptOutput(stdout, func(line string) {
		log.Debug("script output", "line", line)
	})
	if scanErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}
	wg.Wait()
	waitErr := cmd.Wait()
	close(exited)
	if req.Tracker != nil {
		req.Tracker.ReleaseProcess()
	}

	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	if waitErr != nil {
		log.Error("script exited with error",
			"error", waitErr,
			"stderr_tail", stderrTail)
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("%w: %s exited with code %d", ErrScriptFailed, req.Script, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrScriptFailed, req.Script, waitErr)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read script output: %w", scanErr)
	}

	log.Info("script finished", "artifacts", len(artifacts))
	return &ScriptResult{Artifacts: artifacts}, nil
}
