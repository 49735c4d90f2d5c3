package mux

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol/codec"
)

// ErrConnClosed is returned by PushMessage after the connection closed.
var ErrConnClosed = errors.New("mux: connection closed")

// Conn is one promoted client connection over its private data pipe. The
// connection exclusively owns the pipe until closed; Open starts the read
// pump and Close is idempotent. The display name is assignable by the
// application and is not required to be unique.
type Conn struct {
	id          uint64
	c           net.Conn
	br          *bufio.Reader
	bw          *bufio.Writer
	cdc         codec.Codec
	maxFrame    int
	connectedAt time.Time

	mu   sync.Mutex // guards writes and the display name
	name string

	closeOnce  sync.Once
	closed     chan struct{}
	notifyOnce sync.Once

	onMessage    func(*Conn, *protocol.Message)
	onError      func(*Conn, error)
	onDisconnect func(*Conn)
	pumpExited   func()
}

func newConn(id uint64, nc net.Conn, cdc codec.Codec, maxFrame int) *Conn {
	return &Conn{
		id:          id,
		c:           nc,
		br:          bufio.NewReader(nc),
		bw:          bufio.NewWriter(nc),
		cdc:         cdc,
		maxFrame:    maxFrame,
		connectedAt: time.Now(),
		closed:      make(chan struct{}),
	}
}

// ID is the connection's stable identity, equal to the sequence number of
// the private endpoint it was promoted on.
func (c *Conn) ID() uint64 { return c.id }

// Name returns the application-assigned display name ("" until assigned).
func (c *Conn) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// SetName assigns the display name used for unicast matching.
func (c *Conn) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *Conn) RemoteAddr() net.Addr   { return c.c.RemoteAddr() }
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Open starts the read pump. Call at most once, before the connection is
// handed to the application.
func (c *Conn) Open() {
	go c.readLoop()
}

// PushMessage encodes and sends one message frame.
func (c *Conn) PushMessage(m *protocol.Message) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	b, err := c.cdc.Marshal(m)
	if err != nil {
		return fmt.Errorf("mux: encode message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := protocol.WriteFrame(c.bw, b); err != nil {
		return err
	}
	return c.bw.Flush()
}

// Close tears the connection down. Safe to call any number of times; the
// read pump observes the closed pipe and drives the disconnect notification.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.c.Close()
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// disconnected fires the disconnect notification exactly once, no matter
// whether the pump or a cleanup path gets there first.
func (c *Conn) disconnected() {
	c.notifyOnce.Do(func() {
		if c.onDisconnect != nil {
			c.onDisconnect(c)
		}
	})
}

func (c *Conn) readLoop() {
	defer func() {
		if c.pumpExited != nil {
			c.pumpExited()
		}
	}()
	for {
		b, err := protocol.ReadFrame(c.br, c.maxFrame)
		if err != nil {
			// EOF and errors after a deliberate Close are a normal
			// disconnect, not an error event.
			if !c.isClosed() && !errors.Is(err, io.EOF) && c.onError != nil {
				c.onError(c, err)
			}
			_ = c.Close()
			c.disconnected()
			return
		}
		var m protocol.Message
		if err := c.cdc.Unmarshal(b, &m); err != nil {
			if c.onError != nil {
				c.onError(c, fmt.Errorf("mux: decode message: %w", err))
			}
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c, &m)
		}
	}
}
