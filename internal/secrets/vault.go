// Package secrets holds process secrets (credential key, JWT signing secret)
// with hot reload, and decrypts integration credentials.
package secrets

import (
	"errors"
	"fmt"
	"sync"
)

// Well-known secret names.
const (
	KeyCredentials = "FEEDBACKSYNC_CREDENTIALS_KEY"
	KeyJWTSecret   = "FEEDBACKSYNC_JWT_SECRET"
)

// ErrMissing is returned by Require for an unset secret.
var ErrMissing = errors.New("secret not set")

// Loader retrieves secrets from a source (env vars, mounted files, remote vault).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Require returns the secret for key or ErrMissing.
func (v *Vault) Require(key string) (string, error) {
	if s := v.Get(key); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%s: %w", key, ErrMissing)
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	vals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = vals
	v.mu.Unlock()
	return nil
}
