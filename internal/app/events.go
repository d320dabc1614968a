package app

import (
	"sync"

	"github.com/warble-im/warble/internal/account"
	"github.com/warble-im/warble/internal/client"
	"github.com/warble-im/warble/internal/xmpp"
)

// EventType represents the type of event
type EventType int

const (
	EventConnectionState EventType = iota
	EventConnectionError
	EventCredentialsNeeded
	EventCredentialChanged
	EventLoggedInWithNewCredentials
	EventRegistrationFormReceived
	EventRegistrationFailed
	EventPasswordChangeFailed
	EventAccountDeletedFromServer
	EventAccountDeletedFromClient
	EventAccountDeletionFailed
)

// EventMsg represents an event published by the session core
type EventMsg struct {
	Type EventType
	Data interface{}
}

// ConnectionErrorData carries a connection error notification.
type ConnectionErrorData struct {
	Error client.ConnectionError
}

// CredentialChangedData names the identity field that changed.
type CredentialChangedData struct {
	Field account.Field
}

// RegistrationFormData carries a received registration form.
type RegistrationFormData struct {
	Form *xmpp.RegistrationForm
}

// RegistrationFailedData carries a failed registration attempt.
type RegistrationFailedData struct {
	Error   client.ConnectionError
	Message string
}

// AccountDeletedData carries the purged account's address.
type AccountDeletedData struct {
	JID string
}

// ErrorMessageData carries a human-readable server error message.
type ErrorMessageData struct {
	Message string
}

// EventHandler is a function that handles events
type EventHandler func(event EventMsg)

// EventBus handles event subscription and publishing. Delivery is
// synchronous and in subscription order so observers always see a
// connection error before the disconnected state it caused.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe subscribes to an event type
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish publishes an event to all subscribers. Handlers run on the
// publishing goroutine; they must not block.
func (b *EventBus) Publish(event EventMsg) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]EventHandler)
}
