package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/warble-im/warble/internal/account"
	"github.com/warble-im/warble/internal/client"
	"github.com/warble-im/warble/internal/secrets"
	"github.com/warble-im/warble/internal/settings"
	"github.com/warble-im/warble/internal/xmpp"
)

type stubSession struct {
	onConnected    func()
	onDisconnected func(err error)

	connected bool
	connects  chan xmpp.Config
}

func newStubSession() *stubSession {
	return &stubSession{connects: make(chan xmpp.Config, 16)}
}

func (s *stubSession) Connect(ctx context.Context, cfg xmpp.Config) error {
	s.connects <- cfg
	s.connected = true
	if !cfg.Register && s.onConnected != nil {
		s.onConnected()
	}
	return nil
}

func (s *stubSession) Disconnect(ctx context.Context) error {
	if !s.connected {
		return nil
	}
	s.connected = false
	if s.onDisconnected != nil {
		s.onDisconnected(nil)
	}
	return nil
}

func (s *stubSession) Authenticated() bool { return s.connected }

func (s *stubSession) FetchRegistrationForm(ctx context.Context) (*xmpp.RegistrationForm, error) {
	return &xmpp.RegistrationForm{Fields: []string{"username", "password"}}, nil
}

func (s *stubSession) SubmitRegistration(ctx context.Context, fields map[string]string) error {
	return nil
}

func (s *stubSession) ChangePassword(ctx context.Context, newPassword string) error { return nil }
func (s *stubSession) DeleteAccount(ctx context.Context) error                      { return nil }
func (s *stubSession) SetConnectedHandler(handler func())                           { s.onConnected = handler }
func (s *stubSession) SetDisconnectedHandler(handler func(err error))               { s.onDisconnected = handler }

func newTestApp(t *testing.T) (*App, *stubSession) {
	t.Helper()

	dir := t.TempDir()
	store, err := settings.Open(filepath.Join(dir, "settings.toml"))
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}
	codec, err := secrets.OpenCodec(filepath.Join(dir, "secret.key"))
	if err != nil {
		t.Fatalf("failed to open codec: %v", err)
	}

	session := newStubSession()
	a, err := New(Options{Settings: store, Codec: codec, Session: session})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	t.Cleanup(a.Close)
	return a, session
}

func waitEvent(t *testing.T, ch <-chan EventMsg) EventMsg {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return EventMsg{}
	}
}

func TestNewRejectsSecondInstance(t *testing.T) {
	a, _ := newTestApp(t)

	dir := t.TempDir()
	store, err := settings.Open(filepath.Join(dir, "settings.toml"))
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}
	codec, err := secrets.OpenCodec(filepath.Join(dir, "secret.key"))
	if err != nil {
		t.Fatalf("failed to open codec: %v", err)
	}

	if _, err := New(Options{Settings: store, Codec: codec, Session: newStubSession()}); err != ErrAlreadyCreated {
		t.Fatalf("expected ErrAlreadyCreated, got %v", err)
	}

	a.Close()
	second, err := New(Options{Settings: store, Codec: codec, Session: newStubSession()})
	if err != nil {
		t.Fatalf("expected construction to succeed after Close, got %v", err)
	}
	second.Close()
}

func TestNewRequiresSettingsAndCodec(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected an error without a settings store")
	}
}

func TestLogInPublishesStateEvents(t *testing.T) {
	a, _ := newTestApp(t)
	a.Account().SetJID("alice@example.org")
	a.Account().SetPassword("secret")

	states := make(chan EventMsg, 16)
	a.Subscribe(EventConnectionState, func(event EventMsg) { states <- event })

	a.LogIn()

	first := waitEvent(t, states)
	if first.Data.(client.ConnectionState) != client.StateConnecting {
		t.Fatalf("expected connecting first, got %v", first.Data)
	}
	second := waitEvent(t, states)
	if second.Data.(client.ConnectionState) != client.StateConnected {
		t.Fatalf("expected connected, got %v", second.Data)
	}

	if a.ConnectionState() != client.StateConnected {
		t.Fatalf("facade state out of sync: %s", a.ConnectionState())
	}
	if a.ConnectionError() != client.ErrNone {
		t.Fatalf("unexpected error: %s", a.ConnectionError())
	}
}

func TestLogInByURIWithFullCredentials(t *testing.T) {
	a, session := newTestApp(t)

	states := make(chan EventMsg, 16)
	a.Subscribe(EventConnectionState, func(event EventMsg) { states <- event })

	result := a.LogInByURI("xmpp:alice@example.org?login;password=secret")
	if result != LoginURIConnecting {
		t.Fatalf("expected connecting result, got %s", result)
	}
	if a.Account().JID() != "alice@example.org" {
		t.Fatalf("expected the JID from the URI, got %q", a.Account().JID())
	}
	if a.Account().Password() != "secret" {
		t.Fatalf("expected the password from the URI")
	}

	waitEvent(t, states)
	waitEvent(t, states)

	select {
	case cfg := <-session.connects:
		if cfg.JID != "alice@example.org" || cfg.Password != "secret" {
			t.Fatalf("unexpected connection config: %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the connection attempt")
	}
}

func TestLogInByURIWithoutPassword(t *testing.T) {
	a, _ := newTestApp(t)

	result := a.LogInByURI("xmpp:alice@example.org?login")
	if result != LoginURIPasswordNeeded {
		t.Fatalf("expected password-needed result, got %s", result)
	}
	if a.Account().JID() != "alice@example.org" {
		t.Fatalf("expected the JID to be stored, got %q", a.Account().JID())
	}
	if a.Account().Password() != "" {
		t.Fatalf("no password must be stored")
	}
}

func TestLogInByURIInvalid(t *testing.T) {
	a, _ := newTestApp(t)

	result := a.LogInByURI("xmpp:alice@example.org")
	if result != LoginURIInvalid {
		t.Fatalf("expected invalid result, got %s", result)
	}
	if a.Account().JID() != "" {
		t.Fatalf("an invalid URI must not touch the credentials")
	}
}

func TestCredentialChangesRepublished(t *testing.T) {
	a, _ := newTestApp(t)

	var fields []account.Field
	a.Subscribe(EventCredentialChanged, func(event EventMsg) {
		fields = append(fields, event.Data.(CredentialChangedData).Field)
	})

	a.Account().SetJID("alice@example.org")
	a.Account().SetPassword("secret")

	if len(fields) != 2 || fields[0] != account.FieldJID || fields[1] != account.FieldPassword {
		t.Fatalf("unexpected field notifications: %v", fields)
	}
}
