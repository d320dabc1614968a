// Package app is the externally observable session facade: it aggregates
// the credential store, the task queue and the connection state machine,
// exposes the operation set other subsystems call into, and republishes
// their notifications through an event bus.
package app

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/warble-im/warble/internal/account"
	"github.com/warble-im/warble/internal/client"
	"github.com/warble-im/warble/internal/logging"
	"github.com/warble-im/warble/internal/secrets"
	"github.com/warble-im/warble/internal/settings"
	"github.com/warble-im/warble/internal/storage/sqlite"
	"github.com/warble-im/warble/internal/xmpp"
)

// ErrAlreadyCreated is returned when a second App is constructed while one
// is still alive. The facade owns the single protocol session; two of them
// would fight over it.
var ErrAlreadyCreated = errors.New("app: an instance already exists")

var instanceAlive atomic.Bool

// Options configures the App.
type Options struct {
	// Settings is the persistent key-value store. Required.
	Settings *settings.Store
	// Codec seals the password before it reaches the settings store.
	// Required.
	Codec *secrets.Codec
	// Session is the protocol session. Nil selects the production
	// implementation.
	Session xmpp.Session
	// Storage holds account-scoped data purged on account deletion.
	// Optional.
	Storage *sqlite.DB
	// Logger defaults to the package default logger.
	Logger *logging.Logger
}

// App is the session facade.
type App struct {
	bus     *EventBus
	creds   *account.Manager
	worker  *client.Worker
	storage *sqlite.DB
	log     *logging.Logger

	mu        sync.RWMutex
	connState client.ConnectionState
	connError client.ConnectionError
}

// New constructs the facade and starts the session worker. Only one App may
// exist at a time; a second construction returns ErrAlreadyCreated until
// the first one is closed.
func New(opts Options) (*App, error) {
	if opts.Settings == nil || opts.Codec == nil {
		return nil, errors.New("app: settings store and codec are required")
	}
	if !instanceAlive.CompareAndSwap(false, true) {
		return nil, ErrAlreadyCreated
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	session := opts.Session
	if session == nil {
		session = xmpp.NewClient()
	}

	a := &App{
		bus:       NewEventBus(),
		storage:   opts.Storage,
		log:       log,
		connState: client.StateDisconnected,
		connError: client.ErrNone,
	}

	a.creds = account.NewManager(opts.Settings, opts.Codec)
	a.creds.SetFieldChangedHandler(func(field account.Field) {
		a.bus.Publish(EventMsg{Type: EventCredentialChanged, Data: CredentialChangedData{Field: field}})
	})
	a.creds.SetCredentialsNeededHandler(func() {
		a.bus.Publish(EventMsg{Type: EventCredentialsNeeded})
	})

	a.worker = client.NewWorker(session, a.creds, &workerNotifier{app: a}, log)
	go a.worker.Run()

	return a, nil
}

// Close stops the worker and releases the single-instance guard.
func (a *App) Close() {
	a.worker.Close()
	instanceAlive.Store(false)
}

// Account returns the credential store.
func (a *App) Account() *account.Manager {
	return a.creds
}

// Subscribe registers a handler for an event type. Handlers run on the
// session goroutine and must not block.
func (a *App) Subscribe(eventType EventType, handler EventHandler) {
	a.bus.Subscribe(eventType, handler)
}

// ConnectionState returns the last published connection state.
func (a *App) ConnectionState() client.ConnectionState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connState
}

// ConnectionError returns the last published connection error.
func (a *App) ConnectionError() client.ConnectionError {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connError
}

// CredentialsNeeded reports whether a login cannot be attempted because the
// stored credentials are insufficient.
func (a *App) CredentialsNeeded() bool {
	return !a.creds.HasEnoughCredentialsForLogin()
}

// LogIn connects and authenticates with the stored credentials.
func (a *App) LogIn() {
	a.worker.LogIn()
}

// RequestRegistrationForm connects to the server and requests a data form
// for in-band account registration.
func (a *App) RequestRegistrationForm() {
	a.worker.ConnectToRegister()
}

// Register stores the chosen credentials and submits the filled
// registration form over the open registration session.
func (a *App) Register(jid, password string, fields map[string]string) {
	a.creds.SetJID(jid)
	a.creds.SetPassword(password)
	a.worker.SubmitRegistration(fields)
}

// ConnectToServer connects with an explicit configuration.
func (a *App) ConnectToServer(cfg xmpp.Config) {
	a.worker.ConnectToServer(cfg)
}

// LogOut disconnects from the server. isAppClosing suppresses any pending
// reconfiguration reconnect.
func (a *App) LogOut(isAppClosing bool) {
	a.worker.LogOut(isAppClosing)
}

// StartTask submits a unit of work that needs an authenticated session.
func (a *App) StartTask(task func()) {
	a.worker.StartTask(task)
}

// FinishTask acknowledges a completed task.
func (a *App) FinishTask() {
	a.worker.FinishTask()
}

// ChangePassword changes the account password on the server.
func (a *App) ChangePassword(newPassword string) {
	a.worker.ChangePassword(newPassword)
}

// DeleteAccountFromClient removes the account from this client only.
func (a *App) DeleteAccountFromClient() {
	a.worker.DeleteAccountFromClient()
}

// DeleteAccountFromClientAndServer removes the account from the server and
// this client.
func (a *App) DeleteAccountFromClientAndServer() {
	a.worker.DeleteAccountFromClientAndServer()
}

// LogInByURI parses a login URI and, when it carries full credentials,
// stores them and attempts a login.
func (a *App) LogInByURI(uri string) LoginURIResult {
	result, address, password := ParseLoginURI(uri)

	switch result {
	case LoginURIConnecting:
		a.creds.SetJID(address)
		a.creds.SetPassword(password)
		a.worker.LogIn()
	case LoginURIPasswordNeeded:
		a.creds.SetJID(address)
	}

	return result
}

// workerNotifier adapts the worker's notifications onto the event bus.
type workerNotifier struct {
	app *App
}

func (n *workerNotifier) ConnectionStateChanged(state client.ConnectionState) {
	a := n.app
	a.mu.Lock()
	a.connState = state
	a.mu.Unlock()
	a.bus.Publish(EventMsg{Type: EventConnectionState, Data: state})
}

func (n *workerNotifier) ConnectionErrorChanged(err client.ConnectionError) {
	a := n.app
	a.mu.Lock()
	a.connError = err
	a.mu.Unlock()
	a.bus.Publish(EventMsg{Type: EventConnectionError, Data: ConnectionErrorData{Error: err}})
}

func (n *workerNotifier) LoggedInWithNewCredentials() {
	n.app.bus.Publish(EventMsg{Type: EventLoggedInWithNewCredentials})
}

func (n *workerNotifier) RegistrationFormReceived(form *xmpp.RegistrationForm) {
	n.app.bus.Publish(EventMsg{Type: EventRegistrationFormReceived, Data: RegistrationFormData{Form: form}})
}

func (n *workerNotifier) RegistrationFailed(err client.ConnectionError, message string) {
	n.app.bus.Publish(EventMsg{Type: EventRegistrationFailed, Data: RegistrationFailedData{Error: err, Message: message}})
}

func (n *workerNotifier) PasswordChangeFailed(message string) {
	n.app.bus.Publish(EventMsg{Type: EventPasswordChangeFailed, Data: ErrorMessageData{Message: message}})
}

func (n *workerNotifier) AccountDeletedFromServer() {
	n.app.bus.Publish(EventMsg{Type: EventAccountDeletedFromServer})
}

func (n *workerNotifier) AccountDeletedFromClient(jid string) {
	a := n.app
	if a.storage != nil && jid != "" {
		if err := a.storage.DeleteAccountData(jid); err != nil {
			a.log.Error("failed to purge account data: %v", err)
		}
	}
	a.bus.Publish(EventMsg{Type: EventAccountDeletedFromClient, Data: AccountDeletedData{JID: jid}})
}

func (n *workerNotifier) AccountDeletionFailed(message string) {
	n.app.bus.Publish(EventMsg{Type: EventAccountDeletionFailed, Data: ErrorMessageData{Message: message}})
}
