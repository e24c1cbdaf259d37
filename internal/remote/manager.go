package remote

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/temple-compute/horus/pkg/schema"
)

const (
	defaultWorkDir      = ".horus/work"
	defaultDialAttempts = 3
	defaultDialBackoff  = 500 * time.Millisecond
	defaultIdleTimeout  = 5 * time.Minute
)

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	// DialAttempts bounds retries for transient connect failures.
	DialAttempts int
	// DialBackoff is the initial delay between dial attempts; it doubles
	// per attempt.
	DialBackoff time.Duration
	// IdleTimeout closes pooled connections unused for this long. Zero
	// disables the reaper.
	IdleTimeout time.Duration
	Breaker     BreakerConfig
}

// Manager pools connections to named remotes and dispatches block attempts
// onto them. One connection per remote; SFTP transfers on it are serialized
// by the client.
type Manager struct {
	dialer   Dialer
	remotes  map[string]Config
	breakers *BreakerRegistry
	logger   *slog.Logger
	cfg      ManagerConfig

	mu    sync.Mutex
	conns map[string]*pooledConn

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type pooledConn struct {
	client   Client
	lastUsed time.Time
}

// NewManager creates a Manager over the given named remotes.
func NewManager(dialer Dialer, remotes []Config, logger *slog.Logger, cfg ManagerConfig) *Manager {
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = defaultDialAttempts
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = defaultDialBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]Config, len(remotes))
	for _, r := range remotes {
		byName[r.Name] = r
	}

	m := &Manager{
		dialer:   dialer,
		remotes:  byName,
		breakers: NewBreakerRegistry(cfg.Breaker),
		logger:   logger,
		cfg:      cfg,
		conns:    make(map[string]*pooledConn),
	}
	if cfg.IdleTimeout > 0 {
		m.reaperStop = make(chan struct{})
		m.reaperDone = make(chan struct{})
		go m.reapIdle(cfg.IdleTimeout)
	}
	return m
}

// Remotes returns the names of all configured remotes.
func (m *Manager) Remotes() []string {
	names := make([]string, 0, len(m.remotes))
	for name := range m.remotes {
		names = append(names, name)
	}
	return names
}

// BreakerState returns the breaker state for a remote.
func (m *Manager) BreakerState(name string) BreakerState {
	return m.breakers.State(name)
}

// ResetBreaker clears a remote's breaker, including an auth latch.
func (m *Manager) ResetBreaker(name string) {
	m.breakers.Reset(name)
}

// Connect returns a pooled connection to the named remote, dialing if
// needed. Transient dial failures are retried with bounded exponential
// backoff; an authentication failure latches the remote's breaker.
func (m *Manager) Connect(ctx context.Context, name string) (Client, error) {
	cfg, ok := m.remotes[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "remote %q is not configured", name)
	}

	if err := m.breakers.Allow(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if pc, ok := m.conns[name]; ok {
		pc.lastUsed = time.Now()
		m.mu.Unlock()
		return pc.client, nil
	}
	m.mu.Unlock()

	client, err := m.dialWithBackoff(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pc, ok := m.conns[name]; ok {
		// Lost the race; keep the existing connection.
		client.Close()
		pc.lastUsed = time.Now()
		return pc.client, nil
	}
	m.conns[name] = &pooledConn{client: client, lastUsed: time.Now()}
	return client, nil
}

func (m *Manager) dialWithBackoff(ctx context.Context, cfg Config) (Client, error) {
	delay := m.cfg.DialBackoff
	var lastErr error

	for attempt := 1; attempt <= m.cfg.DialAttempts; attempt++ {
		client, err := m.dialer.Dial(ctx, cfg)
		if err == nil {
			m.breakers.RecordSuccess(cfg.Name)
			return client, nil
		}
		lastErr = err

		if IsAuthFailure(err) {
			m.breakers.Latch(cfg.Name)
			m.logger.Error("remote authentication failed, breaker latched",
				"remote", cfg.Name)
			return nil, err
		}

		m.breakers.RecordFailure(cfg.Name)
		m.logger.Warn("remote dial failed",
			"remote", cfg.Name, "attempt", attempt, "error", err)

		if attempt < m.cfg.DialAttempts {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, schema.NewError(schema.ErrCodeCancelled, "dial cancelled").WithCause(ctx.Err())
			}
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeRemoteUnavailable,
		"remote %q unreachable after %d attempts", cfg.Name, m.cfg.DialAttempts).
		WithCause(lastErr).
		WithDetails(map[string]any{"remote": cfg.Name, "attempts": m.cfg.DialAttempts})
}

// Dispatch stages and starts one block attempt on the named remote. The
// attempt gets its own workdir <workdir>/<run>/<block>/attempt-<n>; inputs
// are always staged as inputs.json alongside any declared uploads.
func (m *Manager) Dispatch(ctx context.Context, name string, spec DispatchSpec) (*Handle, error) {
	client, err := m.Connect(ctx, name)
	if err != nil {
		return nil, err
	}

	cfg := m.remotes[name]
	base := cfg.WorkDir
	if base == "" {
		base = defaultWorkDir
	}
	workdir := path.Join(base, spec.RunID, spec.BlockID, fmt.Sprintf("attempt-%d", spec.Attempt))

	if err := client.MkdirAll(ctx, workdir); err != nil {
		return nil, err
	}

	if err := client.UploadBytes(ctx, spec.Inputs, path.Join(workdir, "inputs.json")); err != nil {
		return nil, err
	}
	for _, local := range spec.Uploads {
		if err := client.Upload(ctx, local, path.Join(workdir, path.Base(local))); err != nil {
			return nil, err
		}
	}

	shell := spec.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	command := shell + " -c " + shellQuote(spec.Command)

	h := newHandle(spec, name, workdir, client)
	p, err := client.Start(ctx, workdir, command, spec.Env)
	if err != nil {
		return nil, err
	}
	h.run(p)

	m.logger.Info("block dispatched",
		"remote", name, "run_id", spec.RunID, "block_id", spec.BlockID,
		"attempt", spec.Attempt, "workdir", workdir)
	return h, nil
}

// Disconnect closes and drops the pooled connection for a remote.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	pc, ok := m.conns[name]
	delete(m.conns, name)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return pc.client.Close()
}

// Close shuts down the reaper and all pooled connections.
func (m *Manager) Close() error {
	if m.reaperStop != nil {
		close(m.reaperStop)
		<-m.reaperDone
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, pc := range m.conns {
		if err := pc.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.conns, name)
	}
	return firstErr
}

func (m *Manager) reapIdle(idle time.Duration) {
	defer close(m.reaperDone)
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.reaperStop:
			return
		case <-ticker.C:
			m.mu.Lock()
			for name, pc := range m.conns {
				if time.Since(pc.lastUsed) >= idle {
					pc.client.Close()
					delete(m.conns, name)
					m.logger.Debug("closed idle remote connection", "remote", name)
				}
			}
			m.mu.Unlock()
		}
	}
}
