package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned for credentials that fail authentication or decoding.
var ErrDecrypt = errors.New("credentials decrypt failed")

// Cipher seals integration credentials with XChaCha20-Poly1305. The key is a
// base64 encoded 32 byte secret read from the vault on every call, so a
// vault reload rotates it. Sealed form: base64(nonce || ciphertext).
type Cipher struct {
	vault *Vault
}

// NewCipher returns a Cipher keyed by KeyCredentials in vault.
func NewCipher(vault *Vault) *Cipher {
	return &Cipher{vault: vault}
}

func (c *Cipher) key() ([]byte, error) {
	enc, err := c.vault.Require(KeyCredentials)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyCredentials, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", KeyCredentials, chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// Encrypt seals a credential map.
func (c *Cipher) Encrypt(creds map[string]string) (string, error) {
	key, err := c.key()
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens sealed credentials. An empty input yields an empty map.
func (c *Cipher) Decrypt(sealed string) (map[string]string, error) {
	if sealed == "" {
		return map[string]string{}, nil
	}
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: input too short", ErrDecrypt)
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	creds := map[string]string{}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return creds, nil
}
