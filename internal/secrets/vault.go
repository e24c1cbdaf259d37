package secrets

import "context"

// Vault is the runtime face of the secret store. The engine calls Resolve
// when interpolating ${{secrets.KEY}} references; the CLI uses the rest.
// Plaintext only ever exists in memory.
type Vault interface {
	// Resolve decrypts and returns the secret for key.
	Resolve(ctx context.Context, key string) ([]byte, error)
	// Store encrypts value and persists it under key, replacing any
	// previous value.
	Store(ctx context.Context, key string, value []byte) error
	// Delete removes the secret for key.
	Delete(ctx context.Context, key string) error
	// List returns the stored secret keys.
	List(ctx context.Context) ([]string, error)
}

// SecretStore is what a vault needs from persistence: ciphertext in,
// ciphertext out. store.Store satisfies it.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
