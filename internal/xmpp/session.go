// Package xmpp wraps the protocol engine behind the Session interface the
// session core drives. The production implementation negotiates a Mellium
// session; tests substitute a scripted fake.
package xmpp

import (
	"context"
	"errors"
)

// Errors the session reports for failures the core must distinguish. Raw
// transport errors (DNS, refused connections, TLS) are returned wrapped so
// callers can inspect them with errors.As.
var (
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrNoSupportedAuth         = errors.New("no supported authentication mechanism")
	ErrTLSUnavailable          = errors.New("server does not support TLS")
	ErrKeepAliveTimeout        = errors.New("keep-alive timed out")
	ErrRegistrationUnsupported = errors.New("server does not support in-band registration")
	ErrNotConnected            = errors.New("not connected")
)

// Config carries everything needed for one connection attempt.
type Config struct {
	// JID is the bare address of the account.
	JID      string
	Password string
	Resource string

	// Host and Port override the DNS-derived connection target. Host
	// empty means "derive from the JID's domain"; Port 0 means the
	// standard port.
	Host string
	Port int

	// Register connects without authenticating so an in-band
	// registration form can be requested.
	Register bool
}

// Equal reports whether two configurations would produce the same
// connection. A live session is never mutated; a differing configuration is
// applied through a disconnect-then-reconnect sequence.
func (c Config) Equal(other Config) bool {
	return c == other
}

// RegistrationForm is a received in-band registration form.
type RegistrationForm struct {
	Instructions string
	Fields       []string
}

// Session is the protocol engine owned by the connection state machine.
// Connect and the operation methods are synchronous; lifecycle events
// initiated by the peer arrive through the handlers.
type Session interface {
	// Connect dials and negotiates a session. For a non-register config
	// the connected handler fires after authentication succeeds.
	Connect(ctx context.Context, cfg Config) error

	// Disconnect closes the session. Disconnecting an already
	// disconnected session is a no-op. The disconnected handler fires
	// with a nil error.
	Disconnect(ctx context.Context) error

	// Authenticated reports whether the session is connected and
	// authenticated.
	Authenticated() bool

	// FetchRegistrationForm requests the in-band registration form.
	FetchRegistrationForm(ctx context.Context) (*RegistrationForm, error)

	// SubmitRegistration submits filled registration fields.
	SubmitRegistration(ctx context.Context, fields map[string]string) error

	// ChangePassword changes the account password on the server.
	ChangePassword(ctx context.Context, newPassword string) error

	// DeleteAccount asks the server to remove the account. A nil return
	// means the server confirmed the deletion.
	DeleteAccount(ctx context.Context) error

	// SetConnectedHandler registers the callback fired on successful
	// authentication.
	SetConnectedHandler(func())

	// SetDisconnectedHandler registers the callback fired when the
	// session ends. err is nil for a locally requested disconnect and
	// carries the terminal error otherwise.
	SetDisconnectedHandler(func(err error))
}
