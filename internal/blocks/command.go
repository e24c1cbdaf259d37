package blocks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/temple-compute/horus/pkg/schema"
)

const defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB

// CommandConfig configures the builtin command block type.
type CommandConfig struct {
	DefaultShell  string
	MaxOutputSize int64
}

// CommandBlock runs a shell command and captures stdout, stderr and the
// exit code as output slots. Blocks with a target are offloaded instead of
// executed locally; RemoteCommand provides the dispatch description.
type CommandBlock struct {
	cfg CommandConfig
}

// NewCommandBlock creates the command block type.
func NewCommandBlock(cfg CommandConfig) *CommandBlock {
	if cfg.DefaultShell == "" {
		cfg.DefaultShell = "/bin/sh"
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	return &CommandBlock{cfg: cfg}
}

func (b *CommandBlock) Type() string { return "command" }

func (b *CommandBlock) Description() string {
	return "Run a shell command, capturing stdout, stderr, and exit code."
}

func (b *CommandBlock) Validate(params json.RawMessage) error {
	p, err := b.parseParams(params)
	if err != nil {
		return err
	}
	if p.Command == "" {
		return schema.NewError(schema.ErrCodeValidation, "command block requires non-empty 'command' param")
	}
	return nil
}

// RemoteCommand returns the dispatch description for offloaded execution.
func (b *CommandBlock) RemoteCommand(params json.RawMessage) (*RemoteCommand, error) {
	p, err := b.parseParams(params)
	if err != nil {
		return nil, err
	}
	if p.Command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "command block requires non-empty 'command' param")
	}
	shell := p.Shell
	if shell == "" {
		shell = b.cfg.DefaultShell
	}
	return &RemoteCommand{
		Command:   p.Command,
		Shell:     shell,
		Env:       p.Env,
		Uploads:   p.Uploads,
		Downloads: p.Downloads,
	}, nil
}

func (b *CommandBlock) Execute(ctx context.Context, in Input) (map[string]any, error) {
	p, err := b.parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	if p.Command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "command block requires non-empty 'command' param")
	}

	shell := p.Shell
	if shell == "" {
		shell = b.cfg.DefaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", p.Command)
	if p.WorkDir != "" {
		cmd.Dir = p.WorkDir
	}
	if len(p.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range p.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: b.cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: b.cfg.MaxOutputSize}

	start := time.Now()
	runErr := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "command timed out after %dms", durationMs).
				WithCause(runErr)
		}
		if ctx.Err() == context.Canceled {
			return nil, schema.NewError(schema.ErrCodeCancelled, "command cancelled").WithCause(runErr)
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "command exited with code %d", exitErr.ExitCode()).
				WithCause(runErr).
				WithDetails(map[string]any{
					"exit_code": exitErr.ExitCode(),
					"stderr":    stderrBuf.String(),
				})
		}
		// Non-exit error (e.g. shell not found).
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "command failed to start: %v", runErr).WithCause(runErr)
	}

	return CommandOutputs(stdoutBuf.String(), stderrBuf.String(), 0, durationMs), nil
}

// CommandOutputs builds the output slots for a finished command. Stdout is
// auto-parsed when it is valid JSON so downstream references can traverse
// into structured results. Remote dispatch uses the same shape, so a block
// behaves identically whether it ran locally or on a target.
func CommandOutputs(stdout, stderr string, exitCode int, durationMs int64) map[string]any {
	var parsedStdout any = stdout
	if stdout != "" && json.Valid([]byte(stdout)) {
		var parsed any
		if err := json.Unmarshal([]byte(stdout), &parsed); err == nil {
			parsedStdout = parsed
		}
	}
	return map[string]any{
		"stdout":      parsedStdout,
		"stdout_raw":  stdout,
		"stderr":      stderr,
		"exit_code":   exitCode,
		"duration_ms": durationMs,
	}
}

func (b *CommandBlock) parseParams(raw json.RawMessage) (*schema.CommandParams, error) {
	var p schema.CommandParams
	if len(raw) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "command block has no params")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "command block params: %v", err).WithCause(err)
	}
	return &p, nil
}

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed to prevent the subprocess
// from blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
