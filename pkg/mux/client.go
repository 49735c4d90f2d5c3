package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/handshake"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol/codec"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport"
)

// ErrNotConnected is returned by Client.PushMessage before the rendezvous
// completes.
var ErrNotConnected = errors.New("mux: client not connected")

// ErrWaitTimeout is returned by the bounded waits.
var ErrWaitTimeout = errors.New("mux: wait timed out")

// ClientConfig tunes a Client. The zero value is usable.
type ClientConfig struct {
	// Dial backoff while the well-known endpoint has no listener (the server
	// unbinds it between handshake cycles).
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  time.Duration

	// HandshakeTimeout bounds reading the grant.
	HandshakeTimeout time.Duration
	MaxFrameSize     int
	Codec            codec.Codec
}

// Client performs the two-phase rendezvous from the client side: dial the
// well-known endpoint, read the granted private endpoint name, then
// reconnect on the private endpoint. Start keeps retrying until it connects
// or Stop is called; the bounded waits make it usable as the throwaway
// client that unblocks a server parked in accept during shutdown. A stopped
// client can be started again and performs a fresh rendezvous.
type Client struct {
	tr        transport.Transport
	wellKnown string
	cfg       ClientConfig

	events Events

	running atomic.Bool
	mu      sync.Mutex
	conn    *Conn
	cancel  context.CancelFunc
	evq     *eventQueue
	wg      sync.WaitGroup
	pumpWG  sync.WaitGroup

	connectedCh    chan struct{}
	disconnectedCh chan struct{}
	discOnce       *sync.Once
}

// NewClient builds a client for the well-known endpoint name on the given
// transport.
func NewClient(tr transport.Transport, wellKnown string, cfg ClientConfig) *Client {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 50 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON()
	}
	return &Client{
		tr:             tr,
		wellKnown:      wellKnown,
		cfg:            cfg,
		connectedCh:    make(chan struct{}),
		disconnectedCh: make(chan struct{}),
		discOnce:       &sync.Once{},
	}
}

// Events exposes observer registration. Subscribe before Start.
func (c *Client) Events() *Events { return &c.events }

// Conn returns the promoted connection, or nil before the rendezvous
// completes.
func (c *Client) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Start launches the rendezvous on a background goroutine and returns.
// Starting a previously stopped client resets its connection state.
func (c *Client) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("mux: client already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.conn = nil
	c.connectedCh = make(chan struct{})
	c.disconnectedCh = make(chan struct{})
	c.discOnce = &sync.Once{}
	c.evq = newEventQueue()
	c.mu.Unlock()
	c.wg.Add(1)
	go c.connectLoop(ctx)
	return nil
}

// Stop disconnects (or abandons the rendezvous) and joins the background
// goroutines. Idempotent, and safe to call from an event handler.
func (c *Client) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	evq := c.evq
	once := c.discOnce
	dch := c.disconnectedCh
	c.mu.Unlock()
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	// The rendezvous may have completed concurrently with Stop.
	if conn := c.Conn(); conn != nil {
		_ = conn.Close()
	}
	c.pumpWG.Wait()
	// A client that never connected still completes WaitForDisconnection.
	once.Do(func() { close(dch) })
	evq.close()
	return nil
}

// WaitForConnection blocks until the rendezvous completed, up to timeout.
func (c *Client) WaitForConnection(timeout time.Duration) error {
	c.mu.Lock()
	ch := c.connectedCh
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

// WaitForDisconnection blocks until the connection is down (or the client
// stopped without ever connecting), up to timeout.
func (c *Client) WaitForDisconnection(timeout time.Duration) error {
	c.mu.Lock()
	ch := c.disconnectedCh
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

// PushMessage sends one message on the private data pipe.
func (c *Client) PushMessage(m *protocol.Message) error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.PushMessage(m)
}

func (c *Client) connectLoop(ctx context.Context) {
	defer c.wg.Done()
	backoff := c.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := c.rendezvous(ctx)
		if err == nil {
			if ctx.Err() != nil {
				_ = conn.Close()
				return
			}
			c.mu.Lock()
			c.conn = conn
			ch := c.connectedCh
			c.mu.Unlock()
			// Announce before the pump starts so no message or disconnect
			// event can precede the connected event.
			close(ch)
			c.evq.push(func() { c.events.fireConnected(conn) })
			c.pumpWG.Add(1)
			conn.pumpExited = c.pumpWG.Done
			conn.Open()
			return
		}
		if ctx.Err() != nil {
			return
		}
		zap.L().Debug("rendezvous attempt failed", zap.String("endpoint", c.wellKnown), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(withJitter(backoff, c.cfg.BackoffJitter)):
		}
		if backoff < c.cfg.BackoffMax {
			backoff *= 2
			if backoff > c.cfg.BackoffMax {
				backoff = c.cfg.BackoffMax
			}
		}
	}
}

// rendezvous runs both handshake phases and returns an unopened connection.
func (c *Client) rendezvous(ctx context.Context) (*Conn, error) {
	hc, err := c.tr.Dial(ctx, c.wellKnown)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.wellKnown, err)
	}
	private, err := handshake.ReadGrant(hc, c.cfg.HandshakeTimeout)
	// Closing our end confirms the drain to the server.
	_ = hc.Close()
	if err != nil {
		return nil, err
	}
	seq, err := handshake.ParsePrivateName(c.wellKnown, private)
	if err != nil {
		return nil, err
	}
	pc, err := c.tr.Dial(ctx, private)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", private, err)
	}
	conn := newConn(seq, pc, c.cfg.Codec, c.cfg.MaxFrameSize)
	conn.onMessage = func(conn *Conn, m *protocol.Message) { c.evq.push(func() { c.events.fireMessage(conn, m) }) }
	conn.onError = func(conn *Conn, err error) { c.evq.push(func() { c.events.fireError(conn, err) }) }
	c.mu.Lock()
	once := c.discOnce
	dch := c.disconnectedCh
	c.mu.Unlock()
	conn.onDisconnect = func(conn *Conn) {
		once.Do(func() { close(dch) })
		c.evq.push(func() { c.events.fireDisconnected(conn) })
	}
	return conn, nil
}

func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	n := time.Now().UnixNano()
	return d + time.Duration(n%int64(jitter))
}
