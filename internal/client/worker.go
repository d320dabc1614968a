// Package client owns the lifecycle of the single server connection: it
// drives the protocol session, serializes credential-dependent operations
// against that lifecycle and translates low-level failures into a small
// public state and error model.
//
// The worker runs its own goroutine. Requests from other goroutines are
// marshalled onto it as fire-and-forget operations; no caller blocks waiting
// for a connection outcome. Outcomes arrive later through the Notifier.
package client

import (
	"context"
	"sync"

	"github.com/warble-im/warble/internal/account"
	"github.com/warble-im/warble/internal/logging"
	"github.com/warble-im/warble/internal/xmpp"
)

// Notifier receives the worker's outbound notifications. Calls are made from
// the worker goroutine; connection errors are always published strictly
// before the Disconnected state they caused.
type Notifier interface {
	ConnectionStateChanged(state ConnectionState)
	ConnectionErrorChanged(err ConnectionError)
	LoggedInWithNewCredentials()
	RegistrationFormReceived(form *xmpp.RegistrationForm)
	RegistrationFailed(err ConnectionError, message string)
	PasswordChangeFailed(message string)
	AccountDeletedFromServer()
	AccountDeletedFromClient(jid string)
	AccountDeletionFailed(message string)
}

// deletionStage is the progress of an account deletion sequence. Using a
// single stage value keeps illegal flag combinations unrepresentable.
type deletionStage int

const (
	deletionIdle deletionStage = iota
	// deletionClientRequested: local-only deletion, purge on next
	// disconnect (or immediately when already disconnected).
	deletionClientRequested
	// deletionServerRequested: client-and-server deletion, awaiting the
	// server's confirmation.
	deletionServerRequested
	// deletionServerConfirmed: server confirmed, purge on disconnect.
	deletionServerConfirmed
)

type deletionSequence struct {
	stage deletionStage
	// connectedBefore records whether the client was already connected
	// when the server deletion was requested; if not, a failed deletion
	// logs back out.
	connectedBefore bool
}

// Worker is the connection state machine plus the task queue.
type Worker struct {
	session xmpp.Session
	creds   *account.Manager
	notify  Notifier
	log     *logging.Logger

	ops       chan func()
	quit      chan struct{}
	closeOnce sync.Once

	ctx       context.Context
	cancelCtx context.CancelFunc

	stateMu   sync.RWMutex
	state     ConnectionState
	connError ConnectionError

	// All fields below are owned by the worker goroutine.
	pendingTasks []func()
	activeTasks  int

	firstLoginSinceStart bool
	// keepSessionAlive is true while the current session was entered as
	// the first login since start or with new credentials; draining the
	// task queue then never triggers an automatic logout.
	keepSessionAlive bool
	logoutRequested  bool
	disconnecting    bool
	closingApp       bool

	currentConfig xmpp.Config
	nextConfig    *xmpp.Config

	deletion deletionSequence
}

// NewWorker creates a worker driving the given session. Run must be called
// before any operation takes effect.
func NewWorker(session xmpp.Session, creds *account.Manager, notify Notifier, log *logging.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		session:              session,
		creds:                creds,
		notify:               notify,
		log:                  log,
		ops:                  make(chan func(), 64),
		quit:                 make(chan struct{}),
		ctx:                  ctx,
		cancelCtx:            cancel,
		state:                StateDisconnected,
		connError:            ErrNone,
		firstLoginSinceStart: true,
	}

	session.SetConnectedHandler(func() {
		w.do(w.handleConnected)
	})
	session.SetDisconnectedHandler(func(err error) {
		w.do(func() { w.handleDisconnected(err) })
	})

	return w
}

// Run processes operations until Close is called. It is meant to run on its
// own goroutine for the process lifetime.
func (w *Worker) Run() {
	for {
		select {
		case op := <-w.ops:
			op()
		case <-w.quit:
			return
		}
	}
}

// Close stops the worker. Pending operations are dropped.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.cancelCtx()
		close(w.quit)
	})
}

// do marshals an operation onto the worker goroutine.
func (w *Worker) do(op func()) {
	select {
	case w.ops <- op:
	case <-w.quit:
	}
}

// State returns the current connection state.
func (w *Worker) State() ConnectionState {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// LastError returns the last published connection error.
func (w *Worker) LastError() ConnectionError {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.connError
}

// LogIn connects to the server and authenticates with the stored
// credentials. Insufficient credentials are a no-op beyond the
// "credentials needed" signal emitted by the credential store.
func (w *Worker) LogIn() {
	w.do(w.logIn)
}

// ConnectToRegister connects without authenticating and requests an in-band
// registration form.
func (w *Worker) ConnectToRegister() {
	w.do(w.connectToRegister)
}

// SubmitRegistration submits filled registration fields over the open
// registration session, then reconnects with the freshly set credentials.
func (w *Worker) SubmitRegistration(fields map[string]string) {
	w.do(func() { w.submitRegistration(fields) })
}

// ConnectToServer connects with an explicit configuration. A differing
// configuration while connecting or connected is applied by forcing a
// disconnect-then-reconnect sequence; a live session is never mutated.
func (w *Worker) ConnectToServer(cfg xmpp.Config) {
	w.do(func() { w.connectToServer(cfg) })
}

// LogOut disconnects from the server. Already being disconnected or
// disconnecting is a no-op. isAppClosing suppresses any pending reconnect.
func (w *Worker) LogOut(isAppClosing bool) {
	w.do(func() { w.logOut(isAppClosing) })
}

// StartTask runs the task immediately when authenticated; otherwise it is
// queued and a login is triggered. Every started task must be balanced by a
// FinishTask call once complete.
func (w *Worker) StartTask(task func()) {
	w.do(func() { w.startTask(task) })
}

// FinishTask acknowledges a completed task. Draining the queue logs out
// again unless the session was entered as the first login since start or
// with new credentials.
func (w *Worker) FinishTask() {
	w.do(w.finishTask)
}

// ChangePassword changes the account password on the server through the
// task queue, so a logged-out client logs in just for the change.
func (w *Worker) ChangePassword(newPassword string) {
	w.StartTask(func() {
		if err := w.session.ChangePassword(w.ctx, newPassword); err != nil {
			w.log.Warn("password change failed: %v", err)
			w.notify.PasswordChangeFailed(err.Error())
		} else {
			w.creds.SetPassword(newPassword)
			w.creds.SetHasNewCredentials(false)
			if err := w.creds.StoreCredentials(); err != nil {
				w.log.Error("failed to store credentials: %v", err)
			}
		}
		w.finishTask()
	})
}

// DeleteAccountFromClient removes the account from this client only: log
// out first when connected, then purge local storage.
func (w *Worker) DeleteAccountFromClient() {
	w.do(w.deleteAccountFromClient)
}

// DeleteAccountFromClientAndServer removes the account from the server and
// then from this client. When disconnected, the worker logs in first; a
// server-side failure leaves the account and all local data intact.
func (w *Worker) DeleteAccountFromClientAndServer() {
	w.do(w.deleteAccountFromClientAndServer)
}

// ---- operations below run on the worker goroutine ----

func (w *Worker) logIn() {
	if w.State() != StateDisconnected {
		return
	}
	if !w.creds.LoadCredentials() {
		return
	}
	w.connect(w.loginConfig())
}

func (w *Worker) loginConfig() xmpp.Config {
	cfg := xmpp.Config{
		JID:      w.creds.JID(),
		Password: w.creds.Password(),
		Resource: w.creds.Resource(),
	}
	if host := w.creds.Host(); host != "" {
		cfg.Host = host
	}
	if w.creds.HasCustomPort() {
		cfg.Port = w.creds.Port()
	}
	return cfg
}

func (w *Worker) connect(cfg xmpp.Config) {
	w.disconnecting = false
	w.closingApp = false
	w.currentConfig = cfg
	w.setState(StateConnecting)

	if err := w.session.Connect(w.ctx, cfg); err != nil {
		w.log.Warn("connection failed: %v", err)
		// Error first, then the state it caused.
		w.setError(mapConnectionError(err))
		w.setState(StateDisconnected)

		if w.deletion.stage == deletionServerRequested {
			// The login only served the deletion attempt.
			w.deletion = deletionSequence{}
			w.notify.AccountDeletionFailed(err.Error())
		}
	}
	// On success the session fires the connected handler.
}

func (w *Worker) connectToServer(cfg xmpp.Config) {
	if w.State() != StateDisconnected {
		if cfg.Equal(w.currentConfig) {
			return
		}
		// Cache the configuration and apply it by reconnecting.
		w.nextConfig = &cfg
		w.logOut(false)
		return
	}
	w.connect(cfg)
}

func (w *Worker) connectToRegister() {
	if w.State() != StateDisconnected {
		return
	}

	cfg := w.loginConfig()
	cfg.Register = true
	cfg.Password = ""

	w.currentConfig = cfg
	w.disconnecting = false
	w.setState(StateConnecting)

	if err := w.session.Connect(w.ctx, cfg); err != nil {
		w.log.Warn("registration connection failed: %v", err)
		connErr := mapConnectionError(err)
		w.setError(connErr)
		w.setState(StateDisconnected)
		w.notify.RegistrationFailed(connErr, err.Error())
		return
	}

	form, err := w.session.FetchRegistrationForm(w.ctx)
	if err != nil {
		w.log.Warn("failed to fetch registration form: %v", err)
		connErr := mapConnectionError(err)
		w.setError(connErr)
		w.notify.RegistrationFailed(connErr, err.Error())
		w.disconnecting = true
		_ = w.session.Disconnect(w.ctx)
		return
	}

	w.notify.RegistrationFormReceived(form)
}

func (w *Worker) submitRegistration(fields map[string]string) {
	if err := w.session.SubmitRegistration(w.ctx, fields); err != nil {
		w.log.Warn("registration failed: %v", err)
		w.notify.RegistrationFailed(mapConnectionError(err), err.Error())
		return
	}

	// Registered: drop the registration session and log in with the
	// credentials the caller stored, via the reconnect path so the login
	// runs only once the disconnect has settled.
	cfg := w.loginConfig()
	w.nextConfig = &cfg
	w.disconnect(false)
}

func (w *Worker) logOut(isAppClosing bool) {
	switch w.State() {
	case StateDisconnected:
		// Coalesced.
	case StateConnecting:
		if w.currentConfig.Register {
			// A registration session never reaches Connected; drop
			// it directly.
			w.disconnect(isAppClosing)
			return
		}
		w.logoutRequested = true
		w.closingApp = isAppClosing
	case StateConnected:
		w.disconnect(isAppClosing)
	}
}

func (w *Worker) disconnect(isAppClosing bool) {
	if w.disconnecting {
		return
	}
	w.disconnecting = true
	w.closingApp = isAppClosing
	_ = w.session.Disconnect(w.ctx)
}

func (w *Worker) startTask(task func()) {
	if w.State() == StateConnected && w.session.Authenticated() {
		w.activeTasks++
		task()
		return
	}

	w.pendingTasks = append(w.pendingTasks, task)
	if w.State() == StateDisconnected {
		w.logIn()
	}
}

func (w *Worker) finishTask() {
	if w.activeTasks > 0 {
		w.activeTasks--
	}
	if w.activeTasks == 0 && len(w.pendingTasks) == 0 &&
		!w.keepSessionAlive && !w.disconnecting && w.State() == StateConnected {
		w.disconnect(false)
	}
}

// flushPendingTasks drains the queue in FIFO submission order.
func (w *Worker) flushPendingTasks() {
	for len(w.pendingTasks) > 0 {
		task := w.pendingTasks[0]
		w.pendingTasks = w.pendingTasks[1:]
		w.activeTasks++
		task()
	}
}

func (w *Worker) handleConnected() {
	// A successful connection clears the error.
	w.setError(ErrNone)

	newCredentials := w.firstLoginSinceStart || w.creds.HasNewCredentials()
	w.creds.SetHasNewCredentials(false)
	if err := w.creds.StoreCredentials(); err != nil {
		w.log.Error("failed to store credentials: %v", err)
	}
	w.keepSessionAlive = newCredentials
	w.firstLoginSinceStart = false

	if w.logoutRequested {
		// A logout arrived while connecting; honor it instead of
		// settling into the connected state.
		w.logoutRequested = false
		w.disconnect(w.closingApp)
		return
	}

	w.setState(StateConnected)

	if newCredentials {
		w.notify.LoggedInWithNewCredentials()
	}

	if w.deletion.stage == deletionServerRequested {
		w.requestServerDeletion()
		return
	}

	w.flushPendingTasks()
}

func (w *Worker) handleDisconnected(err error) {
	w.disconnecting = false
	w.logoutRequested = false

	switch w.deletion.stage {
	case deletionClientRequested, deletionServerConfirmed:
		w.purgeAccount()
	}

	if w.nextConfig != nil && !w.closingApp {
		cfg := *w.nextConfig
		w.nextConfig = nil
		w.connect(cfg)
		return
	}
	w.nextConfig = nil

	if err != nil {
		w.log.Warn("disconnected with error: %v", err)
		// Error first, then the state it caused.
		w.setError(mapConnectionError(err))
	}
	w.setState(StateDisconnected)
}

func (w *Worker) deleteAccountFromClient() {
	if w.State() == StateDisconnected {
		w.purgeAccount()
		return
	}

	w.deletion = deletionSequence{stage: deletionClientRequested}
	if w.State() == StateConnecting {
		w.logoutRequested = true
		return
	}
	w.disconnect(false)
}

func (w *Worker) deleteAccountFromClientAndServer() {
	if w.deletion.stage != deletionIdle {
		return
	}

	if w.State() == StateConnected && w.session.Authenticated() {
		w.deletion = deletionSequence{stage: deletionServerRequested, connectedBefore: true}
		w.requestServerDeletion()
		return
	}

	// Deleting the account from the server requires an authenticated
	// session; log in first and request the deletion once connected.
	w.deletion = deletionSequence{stage: deletionServerRequested, connectedBefore: false}
	w.logIn()
}

func (w *Worker) requestServerDeletion() {
	if err := w.session.DeleteAccount(w.ctx); err != nil {
		w.log.Warn("account deletion rejected by server: %v", err)
		connectedBefore := w.deletion.connectedBefore
		w.deletion = deletionSequence{}
		w.notify.AccountDeletionFailed(err.Error())
		if !connectedBefore {
			w.disconnect(false)
		}
		return
	}

	w.deletion.stage = deletionServerConfirmed
	w.notify.AccountDeletedFromServer()
	w.disconnect(false)
}

// purgeAccount removes every local trace of the account: persisted
// settings, credentials and the in-memory identity. Collaborators purge
// their own data when notified.
func (w *Worker) purgeAccount() {
	jid := w.creds.JID()
	if err := w.creds.DeleteSettings(); err != nil {
		w.log.Error("failed to delete account settings: %v", err)
	}
	if err := w.creds.DeleteCredentials(); err != nil {
		w.log.Error("failed to delete credentials: %v", err)
	}
	w.deletion = deletionSequence{}
	w.notify.AccountDeletedFromClient(jid)
}

func (w *Worker) setState(state ConnectionState) {
	w.stateMu.Lock()
	changed := w.state != state
	w.state = state
	w.stateMu.Unlock()

	if changed {
		w.notify.ConnectionStateChanged(state)
	}
}

func (w *Worker) setError(err ConnectionError) {
	w.stateMu.Lock()
	changed := w.connError != err
	w.connError = err
	w.stateMu.Unlock()

	if changed {
		w.notify.ConnectionErrorChanged(err)
	}
}
