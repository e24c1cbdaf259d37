package secrets

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temple-compute/horus/pkg/schema"
)

// memStore keeps sealed secrets in a map so tests can inspect the raw
// bytes the vault persisted.
type memStore struct {
	sealed map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{sealed: make(map[string][]byte)}
}

func (m *memStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.sealed[key] = bytes.Clone(value)
	return nil
}

func (m *memStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	v, ok := m.sealed[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *memStore) DeleteSecret(_ context.Context, key string) error {
	if _, ok := m.sealed[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.sealed, key)
	return nil
}

func (m *memStore) ListSecrets(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.sealed))
	for k := range m.sealed {
		keys = append(keys, k)
	}
	return keys, nil
}

func newTestVault(t *testing.T) (*AESVault, *memStore) {
	t.Helper()
	s := newMemStore()
	key := bytes.Repeat([]byte{0x42}, 32)
	v, err := NewAESVault(s, VaultConfig{MasterKey: key})
	require.NoError(t, err)
	return v, s
}

func requireVaultCode(t *testing.T, err error, code string) {
	t.Helper()
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, code, engErr.Code)
}

func TestAESVault_RoundTrip(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "hpc-cluster/ssh-passphrase", []byte("correct horse battery")))

	got, err := v.Resolve(ctx, "hpc-cluster/ssh-passphrase")
	require.NoError(t, err)
	assert.Equal(t, []byte("correct horse battery"), got)
}

func TestAESVault_PersistedBytesAreNotPlaintext(t *testing.T) {
	v, s := newTestVault(t)
	ctx := context.Background()

	plaintext := []byte("gpu-box api token")
	require.NoError(t, v.Store(ctx, "gpu-box/api-token", plaintext))

	raw := s.sealed["gpu-box/api-token"]
	assert.NotContains(t, string(raw), string(plaintext))
	assert.Greater(t, len(raw), len(plaintext))
}

func TestAESVault_SamePlaintextDifferentCiphertext(t *testing.T) {
	v, s := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "a", []byte("shared")))
	require.NoError(t, v.Store(ctx, "b", []byte("shared")))

	assert.False(t, bytes.Equal(s.sealed["a"], s.sealed["b"]),
		"nonces must be random per value")
}

func TestAESVault_PassphraseKey(t *testing.T) {
	s := newMemStore()
	v, err := NewAESVault(s, VaultConfig{
		Passphrase: "open sesame",
		Salt:       []byte("0123456789abcdef"),
		Iterations: 1000,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "k", []byte("v")))
	got, err := v.Resolve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestAESVault_WrongKeyFailsToOpen(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	v1, err := NewAESVault(s, VaultConfig{MasterKey: bytes.Repeat([]byte{1}, 32)})
	require.NoError(t, err)
	require.NoError(t, v1.Store(ctx, "secret", []byte("hidden")))

	v2, err := NewAESVault(s, VaultConfig{MasterKey: bytes.Repeat([]byte{2}, 32)})
	require.NoError(t, err)
	_, err = v2.Resolve(ctx, "secret")
	requireVaultCode(t, err, schema.ErrCodeVault)
}

func TestAESVault_TamperDetection(t *testing.T) {
	v, s := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "k", []byte("authentic")))

	t.Run("flipped bit", func(t *testing.T) {
		sealed := bytes.Clone(s.sealed["k"])
		sealed[len(sealed)-1] ^= 0x01
		s.sealed["k"] = sealed

		_, err := v.Resolve(ctx, "k")
		requireVaultCode(t, err, schema.ErrCodeVault)
	})

	t.Run("truncated", func(t *testing.T) {
		s.sealed["k"] = s.sealed["k"][:4]

		_, err := v.Resolve(ctx, "k")
		requireVaultCode(t, err, schema.ErrCodeVault)
	})
}

func TestAESVault_DeleteAndMissing(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "k", []byte("v")))
	require.NoError(t, v.Delete(ctx, "k"))

	_, err := v.Resolve(ctx, "k")
	requireVaultCode(t, err, schema.ErrCodeNotFound)

	err = v.Delete(ctx, "never-existed")
	require.Error(t, err)
}

func TestAESVault_ListAndOverwrite(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "hpc-cluster/ssh-passphrase", []byte("one")))
	require.NoError(t, v.Store(ctx, "gpu-box/api-token", []byte("two")))
	require.NoError(t, v.Store(ctx, "gpu-box/api-token", []byte("three")))

	keys, err := v.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hpc-cluster/ssh-passphrase", "gpu-box/api-token"}, keys)

	got, err := v.Resolve(ctx, "gpu-box/api-token")
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), got)
}

func TestAESVault_EmptyValue(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "empty", nil))
	got, err := v.Resolve(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewAESVault_ConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  VaultConfig
	}{
		{"empty config", VaultConfig{}},
		{"short master key", VaultConfig{MasterKey: []byte("too-short")}},
		{"passphrase without salt", VaultConfig{Passphrase: "pass"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESVault(newMemStore(), tt.cfg)
			requireVaultCode(t, err, schema.ErrCodeVault)
		})
	}
}

func TestAESVault_WrapsStoreErrors(t *testing.T) {
	v, _ := newTestVault(t)

	_, err := v.Resolve(context.Background(), "nope")
	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
}
