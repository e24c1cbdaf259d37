package cli

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/temple-compute/horus/internal/blocks"
	"github.com/temple-compute/horus/internal/config"
	"github.com/temple-compute/horus/internal/engine"
	"github.com/temple-compute/horus/internal/logging"
	"github.com/temple-compute/horus/internal/remote"
	"github.com/temple-compute/horus/internal/secrets"
	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/internal/streaming"
	"github.com/temple-compute/horus/internal/validation"
	"github.com/temple-compute/horus/pkg/schema"
)

// app wires the engine components for one CLI invocation.
type app struct {
	cfg      config.Config
	store    *store.LibSQLStore
	vault    secrets.Vault
	remotes  *remote.Manager
	registry *blocks.Registry
	hub      *streaming.MemoryHub
	engine   *engine.Scheduler
	logger   *slog.Logger

	remoteNames map[string]bool
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	vault, err := openVault(st)
	if err != nil {
		st.Close()
		return nil, err
	}

	remoteCfgs, err := config.LoadRemotes()
	if err != nil {
		st.Close()
		return nil, err
	}
	names := make(map[string]bool, len(remoteCfgs))
	for _, r := range remoteCfgs {
		names[r.Name] = true
	}

	var manager *remote.Manager
	if len(remoteCfgs) > 0 {
		manager = remote.NewManager(remote.NewSSHDialer(vault), remoteCfgs, logger, remote.ManagerConfig{
			IdleTimeout: 5 * time.Minute,
		})
	}

	registry := blocks.DefaultRegistry()
	hub := streaming.NewMemoryHub()

	eng := engine.NewScheduler(st, registry, engine.Config{
		Concurrency:  cfg.Concurrency,
		DefaultRetry: &cfg.Retry,
		PollInterval: cfg.PollIntervalDuration(),
		ArtifactDir:  cfg.ArtifactDir,
		Remotes:      manager,
		Hub:          hub,
		Vault:        vault,
		Logger:       logger,
	})

	return &app{
		cfg:         cfg,
		store:       st,
		vault:       vault,
		remotes:     manager,
		registry:    registry,
		hub:         hub,
		engine:      eng,
		logger:      logger,
		remoteNames: names,
	}, nil
}

func (a *app) Close() {
	if a.remotes != nil {
		a.remotes.Close()
	}
	a.store.Close()
}

func (a *app) validator() (*validation.WorkflowValidator, error) {
	return validation.NewWorkflowValidator(a.registry, func(name string) bool {
		return a.remoteNames[name]
	})
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// openVault builds the AES vault from HORUS_VAULT_PASSPHRASE. Without a
// passphrase the vault is nil and secret features are unavailable.
func openVault(st secrets.SecretStore) (secrets.Vault, error) {
	passphrase := os.Getenv("HORUS_VAULT_PASSPHRASE")
	if passphrase == "" {
		return nil, nil
	}
	salt, err := vaultSalt()
	if err != nil {
		return nil, err
	}
	return secrets.NewAESVault(st, secrets.VaultConfig{
		Passphrase: passphrase,
		Salt:       salt,
	})
}

// vaultSalt reads the persisted PBKDF2 salt, creating it on first use.
func vaultSalt() ([]byte, error) {
	path := filepath.Join(config.Dir(), "vault.salt")
	salt, err := os.ReadFile(path)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read vault salt: %w", err)
	}

	salt = make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate vault salt: %w", err)
	}
	if err := os.MkdirAll(config.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write vault salt: %w", err)
	}
	return salt, nil
}

// loadDefinition reads a workflow document from a YAML or JSON file.
func loadDefinition(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	raw := data
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	var def schema.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &def, nil
}

// yamlToJSON converts a YAML document to JSON so raw params round-trip
// into json.RawMessage fields.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML rewrites map[any]any keys into strings for JSON encoding.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}

// parseInputs converts --input key=value pairs. Values that parse as JSON
// keep their type; everything else is a string.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, want key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			inputs[key] = parsed
		} else {
			inputs[key] = value
		}
	}
	return inputs, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
