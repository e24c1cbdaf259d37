package remote

import (
	"context"
	"errors"

	"github.com/temple-compute/horus/pkg/schema"
)

// Config describes one named remote target.
type Config struct {
	Name         string `yaml:"name" json:"name"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port,omitempty" json:"port,omitempty"` // defaults to 22
	User         string `yaml:"user" json:"user"`
	IdentityFile string `yaml:"identity_file,omitempty" json:"identity_file,omitempty"`
	SecretRef    string `yaml:"secret_ref,omitempty" json:"secret_ref,omitempty"` // vault key holding the private key
	WorkDir      string `yaml:"workdir,omitempty" json:"workdir,omitempty"`       // defaults to ~/.horus/work
	DialTimeout  string `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"` // duration, e.g. "10s"
}

// Dialer establishes connections to remote targets. The production
// implementation speaks SSH; tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Client, error)
}

// Client is an established connection to a remote target. Command execution
// and file transfer share the connection; transfers are serialized by the
// implementation.
type Client interface {
	Start(ctx context.Context, dir, command string, env map[string]string) (Process, error)
	Upload(ctx context.Context, localPath, remotePath string) error
	UploadBytes(ctx context.Context, data []byte, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	MkdirAll(ctx context.Context, path string) error
	RemoveAll(ctx context.Context, path string) error
	Close() error
}

// Process is a command started on a remote target.
type Process interface {
	Wait() (*Result, error)
	Kill() error
}

// Result is the outcome of a completed remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// DispatchSpec describes one block attempt to run on a remote target.
type DispatchSpec struct {
	RunID     string
	BlockID   string
	Attempt   int // 1-based
	Command   string
	Shell     string
	Env       map[string]string
	Uploads   []string // local paths staged into the attempt workdir
	Downloads []string // remote paths retrieved after completion
	Inputs    []byte   // serialized inputs, always uploaded as inputs.json
}

// HandleState is the lifecycle state of a dispatch handle.
type HandleState string

const (
	HandleDispatched HandleState = "dispatched"
	HandleRunning    HandleState = "running"
	HandleSucceeded  HandleState = "succeeded"
	HandleFailed     HandleState = "failed"
	HandleCancelled  HandleState = "cancelled"
)

// Terminal reports whether the handle reached a final state.
func (s HandleState) Terminal() bool {
	return s == HandleSucceeded || s == HandleFailed || s == HandleCancelled
}

const detailAuthFailed = "auth_failed"

// authFailureError wraps an authentication failure so the manager can latch
// the remote's breaker.
func authFailureError(remote string, cause error) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeConnection, "authentication failed for remote %q", remote).
		WithCause(cause).
		WithDetails(map[string]any{detailAuthFailed: true, "remote": remote})
}

// IsAuthFailure reports whether err is a remote authentication failure.
func IsAuthFailure(err error) bool {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		v, _ := engErr.Details[detailAuthFailed].(bool)
		return v
	}
	return false
}
