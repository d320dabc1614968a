// Package account holds the identity of the single configured account:
// bare JID, password, resource and the optional custom host/port. It is the
// only state shared directly between the UI-facing thread and the session
// thread, so every accessor takes the manager lock for the duration of the
// call and releases it before any change notification is emitted.
package account

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/warble-im/warble/internal/secrets"
	"github.com/warble-im/warble/internal/settings"
)

const (
	// PortDefault is the port used when no custom port is configured.
	PortDefault = 5222
	// PortUnset marks the custom port as not configured. It is distinct
	// from every valid port; the default is applied only when reading.
	PortUnset = -1

	// DefaultResourcePrefix is used when no resource prefix is stored.
	DefaultResourcePrefix = "warble"

	resourceSuffixLength = 8
)

// Field identifies an identity field in change notifications.
type Field int

const (
	FieldJID Field = iota
	FieldPassword
	FieldHost
	FieldPort
	FieldResourcePrefix
	FieldCustomConnection
)

// String returns the field name used in logs.
func (f Field) String() string {
	switch f {
	case FieldJID:
		return "jid"
	case FieldPassword:
		return "password"
	case FieldHost:
		return "host"
	case FieldPort:
		return "port"
	case FieldResourcePrefix:
		return "resourcePrefix"
	case FieldCustomConnection:
		return "customConnection"
	default:
		return "unknown"
	}
}

// Manager is the thread-safe credential store.
type Manager struct {
	mu       sync.Mutex
	store    *settings.Store
	codec    *secrets.Codec
	keychain secrets.SecretStore

	jid            string
	password       string
	host           string
	port           int
	resourcePrefix string
	resource       string

	customConnection bool

	// hasNewCredentials is set on every identity write and cleared once
	// the values are known to match the last successful login (or were
	// just loaded from storage).
	hasNewCredentials bool

	onFieldChanged      func(Field)
	onCredentialsNeeded func()
}

// NewManager creates a credential store persisting into the given settings
// store. The codec seals the password before it reaches the settings file;
// on platforms with a system keychain the password bypasses the settings
// file entirely.
func NewManager(store *settings.Store, codec *secrets.Codec) *Manager {
	return &Manager{
		store:    store,
		codec:    codec,
		keychain: secrets.Default(),
		port:     PortUnset,
	}
}

// SetFieldChangedHandler registers the per-field change notification. The
// handler runs without the manager lock held.
func (m *Manager) SetFieldChangedHandler(handler func(Field)) {
	m.onFieldChanged = handler
}

// SetCredentialsNeededHandler registers the "credentials needed"
// notification. The handler runs without the manager lock held.
func (m *Manager) SetCredentialsNeededHandler(handler func()) {
	m.onCredentialsNeeded = handler
}

// JID returns the bare address of the account.
func (m *Manager) JID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jid
}

// SetJID sets the bare address of the account.
func (m *Manager) SetJID(jid string) {
	m.mu.Lock()
	m.jid = jid
	m.hasNewCredentials = true
	m.mu.Unlock()
	m.notifyFieldChanged(FieldJID)
}

// Password returns the account password.
func (m *Manager) Password() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.password
}

// SetPassword sets the account password.
func (m *Manager) SetPassword(password string) {
	m.mu.Lock()
	m.password = password
	m.hasNewCredentials = true
	m.mu.Unlock()
	m.notifyFieldChanged(FieldPassword)
}

// Host returns the custom host, or the empty string if none is configured.
func (m *Manager) Host() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host
}

// SetHost sets the custom host.
func (m *Manager) SetHost(host string) {
	m.mu.Lock()
	m.host = host
	m.hasNewCredentials = true
	m.mu.Unlock()
	m.notifyFieldChanged(FieldHost)
}

// ResetHost clears the custom host.
func (m *Manager) ResetHost() {
	m.SetHost("")
}

// Port returns the configured port, applying the default when no custom
// port is set.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port < 0 {
		return PortDefault
	}
	return m.port
}

// HasCustomPort reports whether a custom port is configured.
func (m *Manager) HasCustomPort() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port != PortUnset
}

// SetPort sets the custom port.
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	m.port = port
	m.hasNewCredentials = true
	m.mu.Unlock()
	m.notifyFieldChanged(FieldPort)
}

// ResetPort clears the custom port.
func (m *Manager) ResetPort() {
	m.SetPort(PortUnset)
}

// CustomConnectionEnabled reports whether the custom host/port should be
// used when connecting.
func (m *Manager) CustomConnectionEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.customConnection
}

// SetCustomConnectionEnabled toggles use of the custom host/port.
func (m *Manager) SetCustomConnectionEnabled(enabled bool) {
	m.mu.Lock()
	m.customConnection = enabled
	m.mu.Unlock()
	m.notifyFieldChanged(FieldCustomConnection)
}

// ResourcePrefix returns the configured resource prefix.
func (m *Manager) ResourcePrefix() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resourcePrefix
}

// SetResourcePrefix sets the resource prefix and regenerates the cached
// resource with a fresh random suffix.
func (m *Manager) SetResourcePrefix(prefix string) {
	m.mu.Lock()
	m.resourcePrefix = prefix
	m.resource = generateResource(prefix)
	m.hasNewCredentials = true
	m.mu.Unlock()
	m.notifyFieldChanged(FieldResourcePrefix)
}

// Resource returns the resolved resource. While no prefix is configured a
// resource with the default prefix is generated per call and not cached;
// once a prefix is set via SetResourcePrefix the resource stays stable until
// the prefix changes again.
func (m *Manager) Resource() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resourcePrefix == "" {
		return generateResource(DefaultResourcePrefix)
	}
	return m.resource
}

// HasNewCredentials reports whether an identity field was written since the
// flag was last cleared.
func (m *Manager) HasNewCredentials() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasNewCredentials
}

// SetHasNewCredentials overrides the new-credentials flag. It is cleared by
// the session core after a successful login settles.
func (m *Manager) SetHasNewCredentials(hasNew bool) {
	m.mu.Lock()
	m.hasNewCredentials = hasNew
	m.mu.Unlock()
}

// HasEnoughCredentialsForLogin reports whether a login can be attempted.
// This is the sole authorization gate before connecting.
func (m *Manager) HasEnoughCredentialsForLogin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jid != "" && m.password != ""
}

// LoadCredentials populates the manager from persistent storage. It is a
// no-op if the credentials are already sufficient for a login. Loading
// stored values must not be mistaken for the user supplying new ones, so
// the new-credentials flag is cleared afterwards. Returns false and signals
// "credentials needed" if the credentials are still insufficient.
func (m *Manager) LoadCredentials() bool {
	if m.HasEnoughCredentialsForLogin() {
		return true
	}

	m.SetJID(m.store.GetString(settings.KeyJID, ""))
	m.SetPassword(m.loadPassword())
	m.SetResourcePrefix(m.store.GetString(settings.KeyResourcePrefix, DefaultResourcePrefix))
	m.SetHost(m.store.GetString(settings.KeyHost, ""))
	m.SetPort(m.store.GetInt(settings.KeyPort, PortUnset))
	m.SetCustomConnectionEnabled(m.store.GetBool(settings.KeyUseCustomConnection, false))

	// The setters above marked the credentials as new; stored values are
	// old by definition.
	m.SetHasNewCredentials(false)

	if !m.HasEnoughCredentialsForLogin() {
		m.notifyCredentialsNeeded()
		return false
	}
	return true
}

// StoreCredentials persists the JID, the opaque-encoded password and, when
// configured, the custom host and port.
func (m *Manager) StoreCredentials() error {
	if err := m.store.Set(settings.KeyJID, m.JID()); err != nil {
		return err
	}
	if err := m.storePassword(); err != nil {
		return err
	}

	m.mu.Lock()
	host, port := m.host, m.port
	m.mu.Unlock()

	if host != "" {
		if err := m.store.Set(settings.KeyHost, host); err != nil {
			return err
		}
	}
	if port != PortUnset {
		if err := m.store.Set(settings.KeyPort, port); err != nil {
			return err
		}
	}
	return nil
}

// DeleteCredentials removes every persisted credential key, resets all
// in-memory identity fields and signals "credentials needed".
func (m *Manager) DeleteCredentials() error {
	keys := []string{
		settings.KeyJID,
		settings.KeyResourcePrefix,
		settings.KeyPassword,
		settings.KeyHost,
		settings.KeyPort,
		settings.KeyUseCustomConnection,
	}
	var firstErr error
	for _, key := range keys {
		if err := m.store.Remove(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.keychain.IsSupported() {
		if err := m.keychain.Delete(secrets.ServiceName, m.JID()); err != nil && err != secrets.ErrNotFound && firstErr == nil {
			firstErr = err
		}
	}

	m.mu.Lock()
	m.jid = ""
	m.password = ""
	m.host = ""
	m.port = PortUnset
	m.resourcePrefix = ""
	m.resource = ""
	m.customConnection = false
	m.hasNewCredentials = false
	m.mu.Unlock()

	m.notifyCredentialsNeeded()
	return firstErr
}

// DeleteSettings removes the UI-level keys that belong to the account but
// are not interpreted by the session core.
func (m *Manager) DeleteSettings() error {
	keys := []string{
		settings.KeyOnline,
		settings.KeyNotificationsMuted,
		settings.KeyFavoriteEmojis,
		settings.KeyWindowWidth,
		settings.KeyWindowHeight,
	}
	var firstErr error
	for _, key := range keys {
		if err := m.store.Remove(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) storePassword() error {
	jid, password := m.JID(), m.Password()

	if m.keychain.IsSupported() {
		return m.keychain.Set(secrets.ServiceName, jid, password)
	}

	opaque, err := m.codec.Encode(password)
	if err != nil {
		return err
	}
	return m.store.Set(settings.KeyPassword, opaque)
}

func (m *Manager) loadPassword() string {
	jid := m.store.GetString(settings.KeyJID, "")

	if m.keychain.IsSupported() {
		password, err := m.keychain.Get(secrets.ServiceName, jid)
		if err == nil {
			return password
		}
	}

	opaque := m.store.GetString(settings.KeyPassword, "")
	password, err := m.codec.Decode(opaque)
	if err != nil {
		return ""
	}
	return password
}

func (m *Manager) notifyFieldChanged(field Field) {
	if m.onFieldChanged != nil {
		m.onFieldChanged(field)
	}
}

func (m *Manager) notifyCredentialsNeeded() {
	if m.onCredentialsNeeded != nil {
		m.onCredentialsNeeded()
	}
}

// generateResource appends a random suffix to the prefix so that concurrent
// sessions of the same account never collide.
func generateResource(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:resourceSuffixLength]
	return prefix + "." + suffix
}
