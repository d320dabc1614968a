package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

const dialTimeout = 30 * time.Second

// Client implements Session on top of a Mellium XMPP session.
type Client struct {
	mu            sync.Mutex
	session       *xmpp.Session
	conn          net.Conn
	jid           jid.JID
	cfg           Config
	connected     bool
	authenticated bool
	closing       bool

	pendingMu sync.Mutex
	pending   map[string]chan iqResponse

	onConnected    func()
	onDisconnected func(err error)

	ctx    context.Context
	cancel context.CancelFunc
}

type iqResponse struct {
	query *registerQuery
	err   error
}

// NewClient creates a disconnected client.
func NewClient() *Client {
	return &Client{
		pending: make(map[string]chan iqResponse),
	}
}

// SetConnectedHandler sets the connected handler.
func (c *Client) SetConnectedHandler(handler func()) {
	c.onConnected = handler
}

// SetDisconnectedHandler sets the disconnected handler.
func (c *Client) SetDisconnectedHandler(handler func(err error)) {
	c.onDisconnected = handler
}

// Connect dials the server and negotiates a session according to cfg.
func (c *Client) Connect(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	j, err := jid.Parse(cfg.JID)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	if cfg.Resource != "" {
		j, err = j.WithResource(cfg.Resource)
		if err != nil {
			return fmt.Errorf("invalid resource: %w", err)
		}
	}

	host := cfg.Host
	if host == "" {
		host = j.Domain().String()
	}
	port := cfg.Port
	if port == 0 {
		port = 5222
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to dial server: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName: j.Domain().String(),
		MinVersion: tls.VersionTLS12,
	}

	features := []xmpp.StreamFeature{
		xmpp.StartTLS(tlsConfig),
	}
	if !cfg.Register {
		features = append(features,
			xmpp.SASL("", cfg.Password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
			xmpp.BindResource(),
		)
	}

	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{Features: features}
	})

	sessionCtx, cancel := context.WithCancel(context.Background())

	session, err := xmpp.NewSession(ctx, j.Domain(), j, conn, 0, negotiator)
	if err != nil {
		cancel()
		conn.Close()
		return classifyNegotiationError(err)
	}

	c.session = session
	c.conn = conn
	c.jid = j
	c.cfg = cfg
	c.connected = true
	c.authenticated = !cfg.Register
	c.closing = false
	c.ctx = sessionCtx
	c.cancel = cancel

	go c.serve(session)

	if c.authenticated && c.onConnected != nil {
		c.onConnected()
	}

	return nil
}

// Disconnect closes the session and fires the disconnected handler with a
// nil error. Disconnecting twice is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.connected = false
	c.authenticated = false
	session := c.session
	c.session = nil
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if !c.cfg.Register {
		// Best effort; the stream may already be torn down.
		_ = session.Encode(ctx, stanza.Presence{Type: stanza.UnavailablePresence})
	}
	err := session.Close()
	cancel()

	c.failPending(ErrNotConnected)

	if c.onDisconnected != nil {
		c.onDisconnected(nil)
	}
	return err
}

// Authenticated reports whether the session is connected and authenticated.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.authenticated
}

// serve reads incoming stanzas until the stream ends.
func (c *Client) serve(session *xmpp.Session) {
	d := xml.NewTokenDecoder(session.TokenReader())

	for {
		tok, err := d.Token()
		if err != nil {
			c.handleStreamEnd(err)
			return
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "iq":
			c.handleIQ(d, start)
		default:
			_ = d.Skip()
		}
	}
}

// handleIQ routes result/error IQs back to the pending round trip.
func (c *Client) handleIQ(d *xml.Decoder, start xml.StartElement) {
	var resp struct {
		ID    string        `xml:"id,attr"`
		Type  string        `xml:"type,attr"`
		Query registerQuery `xml:"query"`
		Error stanzaError   `xml:"error"`
	}
	if err := d.DecodeElement(&resp, &start); err != nil {
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	if resp.Type == "error" {
		ch <- iqResponse{err: resp.Error.toError()}
		return
	}
	ch <- iqResponse{query: &resp.Query}
}

func (c *Client) handleStreamEnd(err error) {
	c.mu.Lock()
	if c.closing || !c.connected {
		// Locally requested disconnect already reported.
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.authenticated = false
	c.session = nil
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.failPending(ErrNotConnected)

	if c.onDisconnected != nil {
		c.onDisconnected(classifyStreamError(err))
	}
}

// roundTripIQ sends an IQ and waits for the matching result or error.
func (c *Client) roundTripIQ(ctx context.Context, id string, v interface{}) (*registerQuery, error) {
	c.mu.Lock()
	session := c.session
	connected := c.connected
	c.mu.Unlock()
	if !connected || session == nil {
		return nil, ErrNotConnected
	}

	ch := make(chan iqResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := session.Encode(ctx, v); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.query, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		select {
		case ch <- iqResponse{err: err}:
		default:
		}
	}
	c.pendingMu.Unlock()
}

// classifyNegotiationError wraps stream negotiation failures into the
// sentinel errors callers can act on. Unrecognized failures pass through
// unchanged for transport-level inspection.
func classifyNegotiationError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid-mechanism") || strings.Contains(msg, "no supported mechanism"):
		return fmt.Errorf("%w: %v", ErrNoSupportedAuth, err)
	case strings.Contains(msg, "not-authorized") || strings.Contains(msg, "credentials") || strings.Contains(msg, "sasl"):
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	case strings.Contains(msg, "starttls"):
		return fmt.Errorf("%w: %v", ErrTLSUnavailable, err)
	default:
		return err
	}
}

// classifyStreamError maps a terminal stream read error.
func classifyStreamError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrKeepAliveTimeout, err)
	}
	return fmt.Errorf("connection closed: %w", err)
}

func newIQID() string {
	return uuid.NewString()
}
