package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const keySize = 32
const nonceSize = 24

// Codec seals and opens opaque password values with a machine-local key.
// The key is generated on first use and kept next to the settings file with
// owner-only permissions.
type Codec struct {
	key [keySize]byte
}

// OpenCodec loads the sealing key from keyPath, generating a fresh one if
// the file does not exist yet.
func OpenCodec(keyPath string) (*Codec, error) {
	c := &Codec{}

	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(raw) != keySize {
			return nil, fmt.Errorf("secret key file %s has unexpected size %d", keyPath, len(raw))
		}
		copy(c.key[:], raw)
		return c, nil
	case os.IsNotExist(err):
		if _, err := rand.Read(c.key[:]); err != nil {
			return nil, fmt.Errorf("failed to generate secret key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
		if err := os.WriteFile(keyPath, c.key[:], 0600); err != nil {
			return nil, fmt.Errorf("failed to write secret key: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("failed to read secret key: %w", err)
	}
}

// Encode seals plain and returns a base64 value safe to hand to the
// settings store. Encoding the empty string yields the empty string.
func (c *Codec) Encode(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decode opens an opaque value produced by Encode. Decoding the empty
// string yields the empty string.
func (c *Codec) Decode(opaque string) (string, error) {
	if opaque == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return "", fmt.Errorf("malformed opaque value: %w", err)
	}
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("malformed opaque value: too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", fmt.Errorf("failed to open opaque value")
	}
	return string(plain), nil
}
