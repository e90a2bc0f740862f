package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meszmate/inbox/internal/logging"
	"github.com/meszmate/inbox/internal/xmpp/disco"
	"github.com/meszmate/inbox/internal/xmpp/wire"
	"mellium.im/sasl"
	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// ErrNotConnected is returned when sending without a session.
var ErrNotConnected = errors.New("not connected")

// StanzaHandler receives every decoded message stanza, in stream order.
type StanzaHandler func(ctx context.Context, st *wire.Stanza)

// Client wraps the Mellium XMPP session stanzas are received on
type Client struct {
	session   *xmpp.Session
	jid       jid.JID
	password  string
	server    string
	port      int
	noTLS     bool
	connected bool
	mu        sync.RWMutex

	log  *logging.Logger
	info disco.Info

	// Handlers
	onStanza     StanzaHandler
	onConnect    func()
	onDisconnect func(err error)

	ctx    context.Context
	cancel context.CancelFunc
}

// ClientConfig contains configuration for the XMPP client
type ClientConfig struct {
	JID      string
	Password string
	Server   string
	Port     int
	Resource string
	NoTLS    bool
	Logger   *logging.Logger
}

// NewClient creates a new XMPP client
func NewClient(cfg ClientConfig) (*Client, error) {
	j, err := jid.Parse(cfg.JID)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	if cfg.Resource != "" {
		j, err = j.WithResource(cfg.Resource)
		if err != nil {
			return nil, fmt.Errorf("invalid resource: %w", err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = 5222
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		jid:      j,
		password: cfg.Password,
		server:   cfg.Server,
		port:     cfg.Port,
		noTLS:    cfg.NoTLS,
		log:      cfg.Logger,
		info:     disco.ClientInfo("inbox"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Connect establishes a connection to the XMPP server and announces
// availability so the server starts routing messages to us.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	server := c.server
	if server == "" {
		server = c.jid.Domain().String()
	}

	addr := net.JoinHostPort(server, fmt.Sprint(c.port))

	dialer := net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial server: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName: c.jid.Domain().String(),
		MinVersion: tls.VersionTLS12,
	}

	features := []xmpp.StreamFeature{}
	if !c.noTLS {
		features = append(features, xmpp.StartTLS(tlsConfig))
	}
	features = append(features,
		xmpp.SASL("", c.password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
		xmpp.BindResource(),
	)

	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{Features: features}
	})

	session, err := xmpp.NewSession(
		ctx,
		c.jid.Domain(),
		c.jid,
		conn,
		0,
		negotiator,
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to negotiate session: %w", err)
	}

	// Bound resource may differ from the requested one
	c.jid = session.LocalAddr()

	if err := session.Encode(ctx, stanza.Presence{}); err != nil {
		session.Close()
		return fmt.Errorf("failed to send initial presence: %w", err)
	}

	c.session = session
	c.connected = true
	c.log.Info("connected as %s", c.jid)

	if c.onConnect != nil {
		c.onConnect()
	}

	return nil
}

// Serve reads stanzas until the stream ends or Disconnect is called. Message
// stanzas are handed to the stanza handler one at a time.
func (c *Client) Serve() error {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil {
		return ErrNotConnected
	}

	err := session.Serve(xmpp.HandlerFunc(c.handleXMPP))
	if c.ctx.Err() != nil {
		// Disconnect was called
		return nil
	}
	c.handleDisconnect(err)
	return err
}

func (c *Client) handleXMPP(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	r := xmlstream.MultiReader(
		xmlstream.Token(*start),
		xmlstream.Inner(t),
		xmlstream.Token(start.End()),
	)

	switch start.Name.Local {
	case "message":
		return c.handleMessage(r)
	case "iq":
		return c.handleIQ(t, r)
	default:
		return nil
	}
}

// handleIQ answers disco#info so peers know we send receipts
func (c *Client) handleIQ(t xmlstream.TokenReadEncoder, r xml.TokenReader) error {
	req, ok, err := disco.ReadRequest(r)
	if err != nil {
		c.log.Warn("dropping undecodable iq: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	return t.Encode(c.info.Response(req))
}

func (c *Client) handleMessage(r xml.TokenReader) error {
	st, err := wire.Read(r)
	if err != nil {
		// One bad stanza must not end the stream
		c.log.Warn("dropping undecodable message: %v", err)
		return nil
	}

	if c.onStanza != nil {
		c.onStanza(c.ctx, st)
	}
	return nil
}

// handleDisconnect handles unexpected disconnection
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	c.session = nil
	c.mu.Unlock()

	if err != nil {
		c.log.Error("stream closed: %v", err)
	} else {
		c.log.Info("stream closed by server")
	}

	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// SendReply sends a receipt reply.
func (c *Client) SendReply(ctx context.Context, reply wire.Reply) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	session := c.session
	c.mu.RUnlock()

	return session.Encode(ctx, reply)
}

// Disconnect closes the XMPP connection
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	if c.session != nil {
		_ = c.session.Encode(c.ctx, stanza.Presence{Type: stanza.UnavailablePresence})
	}
	c.cancel()

	var err error
	if c.session != nil {
		err = c.session.Close()
	}

	c.connected = false
	c.session = nil

	if c.onDisconnect != nil {
		c.onDisconnect(nil)
	}

	return err
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// JID returns the client's JID
func (c *Client) JID() jid.JID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jid
}

// SetStanzaHandler sets the message stanza handler
func (c *Client) SetStanzaHandler(handler StanzaHandler) {
	c.onStanza = handler
}

// SetConnectHandler sets the connect handler
func (c *Client) SetConnectHandler(handler func()) {
	c.onConnect = handler
}

// SetDisconnectHandler sets the disconnect handler
func (c *Client) SetDisconnectHandler(handler func(err error)) {
	c.onDisconnect = handler
}
