// Package secrets keeps the account password out of directly readable
// storage. On macOS the password lives in the system Keychain; everywhere
// else it is sealed with a machine-local key before being handed to the
// settings store.
package secrets

import "errors"

// Service name used for warble credentials in the system keychain.
const ServiceName = "Warble"

// ErrNotFound is returned when a credential is not found in the store.
var ErrNotFound = errors.New("credential not found")

// ErrNotSupported is returned when the secret store is not supported on the
// current platform.
var ErrNotSupported = errors.New("secret store not supported on this platform")

// SecretStore provides an interface for secure credential storage.
// Implementations must be safe for concurrent use.
type SecretStore interface {
	// Get retrieves a password for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Get(service, account string) (string, error)

	// Set stores a password for the given service and account.
	// If a credential already exists, it is updated.
	Set(service, account, password string) error

	// Delete removes a credential for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Delete(service, account string) error

	// IsSupported returns true if this store is functional on the current
	// platform.
	IsSupported() bool
}

// store is the package-level secret store instance, set by the
// platform-specific init().
var store SecretStore

// Default returns the default SecretStore for the current platform. On
// unsupported platforms it returns a NoopStore that reports ErrNotSupported
// for all operations.
func Default() SecretStore {
	if store == nil {
		store = &NoopStore{}
	}
	return store
}

// IsSupported returns true if secure credential storage is available on this
// platform.
func IsSupported() bool {
	return Default().IsSupported()
}
