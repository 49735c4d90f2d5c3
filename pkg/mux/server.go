package mux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/handshake"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol/codec"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/registry"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport"
)

const (
	defaultRetryPause       = time.Second
	defaultHandshakeTimeout = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start while the server is running.
var ErrAlreadyRunning = errors.New("mux: server already running")

// Config tunes a Server. The zero value is usable; defaults are applied by
// NewServer.
type Config struct {
	// SecurityDescriptor is the opaque OS access-control descriptor applied
	// to every endpoint the server creates, passed through unexamined.
	SecurityDescriptor string
	InputBufferSize    int32
	OutputBufferSize   int32

	// RetryPause is the fixed pause after every handshake cycle, successful
	// or not.
	RetryPause time.Duration
	// HandshakeTimeout bounds writing the grant and waiting for its drain.
	HandshakeTimeout time.Duration
	// MaxFrameSize bounds one data frame; 0 applies protocol.DefaultMaxFrameSize.
	MaxFrameSize int
	// Codec encodes data messages; nil selects JSON.
	Codec codec.Codec
}

// ConnInfo is a point-in-time description of one registered connection.
type ConnInfo struct {
	ID          uint64
	Name        string
	RemoteAddr  string
	ConnectedAt time.Time
}

// Server accepts an unbounded number of clients on one well-known endpoint
// name by granting each a private endpoint. One Server instance per
// well-known name; construct with NewServer, then Start/Stop.
type Server struct {
	tr         transport.Transport
	wellKnown  string
	listenOpts transport.ListenOptions
	cdc        codec.Codec
	maxFrame   int
	retryPause time.Duration
	hsTimeout  time.Duration

	events Events
	reg    *registry.Store

	counter atomic.Uint64
	running atomic.Bool

	mu     sync.Mutex // serializes start/stop transitions
	cancel context.CancelFunc
	evq    *eventQueue
	loopWG sync.WaitGroup
	connWG sync.WaitGroup
}

// NewServer builds a server for the well-known endpoint name on the given
// transport.
func NewServer(tr transport.Transport, wellKnown string, cfg Config) *Server {
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = defaultRetryPause
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
	return &Server{
		tr:        tr,
		wellKnown: wellKnown,
		listenOpts: transport.ListenOptions{
			SecurityDescriptor: cfg.SecurityDescriptor,
			InputBufferSize:    cfg.InputBufferSize,
			OutputBufferSize:   cfg.OutputBufferSize,
		},
		cdc:        cfg.Codec,
		maxFrame:   cfg.MaxFrameSize,
		retryPause: cfg.RetryPause,
		hsTimeout:  cfg.HandshakeTimeout,
		reg:        registry.NewStore(),
	}
}

// Events exposes observer registration. Subscribe before Start.
func (s *Server) Events() *Events { return &s.events }

// Name returns the well-known endpoint name.
func (s *Server) Name() string { return s.wellKnown }

// Start launches the accept loop on a background goroutine and returns.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.evq = newEventQueue()
	s.loopWG.Add(1)
	go s.acceptLoop(ctx)
	zap.L().Info("pipe server started", zap.String("endpoint", s.wellKnown), zap.String("transport", s.tr.Kind().String()))
	return nil
}

// Stop clears the running flag, force-closes every registered connection,
// unblocks a parked accept, and joins the accept loop and all connection
// pumps before returning. Idempotent; the registry is empty on return.
// Safe to call from an event handler: handlers run on the dispatcher
// goroutine, which Stop never waits on.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.reg.Snapshot() {
		_ = c.Close()
	}
	// The accept loop may be parked in a blocking accept; cancelling the
	// loop context closes whichever listener it is waiting on.
	s.cancel()
	s.loopWG.Wait()
	// A client promoted between the sweep above and the loop exiting would
	// otherwise survive.
	for _, c := range s.reg.Snapshot() {
		_ = c.Close()
	}
	s.connWG.Wait()
	zap.L().Info("pipe server stopped", zap.String("endpoint", s.wellKnown))
	// All producers are joined, so stopped is the final delivery.
	s.evq.push(s.events.fireStopped)
	s.evq.close()
	return nil
}

// PushMessage broadcasts a message to every registered connection and
// reports the number of successful sends. A send with no clients connected
// is a no-op.
func (s *Server) PushMessage(m *protocol.Message) int {
	return s.reg.Broadcast(m)
}

// PushMessageTo sends a message to every connection whose display name
// equals name.
func (s *Server) PushMessageTo(m *protocol.Message, name string) int {
	return s.reg.Unicast(m, name)
}

// ConnCount reports the current registry size.
func (s *Server) ConnCount() int { return s.reg.Len() }

// Connections returns a snapshot of the registered connections.
func (s *Server) Connections() []ConnInfo {
	snap := s.reg.Snapshot()
	out := make([]ConnInfo, 0, len(snap))
	for _, rc := range snap {
		c := rc.(*Conn)
		out = append(out, ConnInfo{
			ID:          c.ID(),
			Name:        c.Name(),
			RemoteAddr:  c.RemoteAddr().String(),
			ConnectedAt: c.ConnectedAt(),
		})
	}
	return out
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.loopWG.Done()
	for s.running.Load() {
		if err := s.acceptOne(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Warn("handshake cycle failed", zap.String("endpoint", s.wellKnown), zap.Error(err))
			s.evq.push(func() { s.events.fireError(nil, err) })
		}
		// Fixed pause before the next cycle, success or failure.
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryPause):
		}
	}
}

// acceptOne runs one handshake-and-promote cycle. Any failure closes every
// handle opened so far and is reported by the caller; no failure is fatal to
// the accept loop.
func (s *Server) acceptOne(ctx context.Context) error {
	seq := s.counter.Add(1)
	private := handshake.PrivateName(s.wellKnown, seq)

	hl, err := s.tr.Listen(ctx, s.wellKnown, s.listenOpts)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.wellKnown, err)
	}
	hc, err := hl.Accept(ctx)
	if err != nil {
		_ = hl.Close()
		return fmt.Errorf("accept handshake: %w", err)
	}

	// Bind the private endpoint before granting it so the client's reconnect
	// cannot outrun the listener.
	pl, err := s.tr.Listen(ctx, private, s.listenOpts)
	if err != nil {
		_ = hc.Close()
		_ = hl.Close()
		return fmt.Errorf("listen %s: %w", private, err)
	}

	err = handshake.WriteGrant(hc, private, s.hsTimeout)
	_ = hc.Close()
	_ = hl.Close()
	if err != nil {
		_ = pl.Close()
		return err
	}

	pc, err := pl.Accept(ctx)
	_ = pl.Close()
	if err != nil {
		return fmt.Errorf("accept %s: %w", private, err)
	}

	s.promote(seq, pc, private)
	return nil
}

// promote wraps a connected private data pipe, registers it, and notifies
// the application.
func (s *Server) promote(seq uint64, pc net.Conn, private string) {
	c := newConn(seq, pc, s.cdc, s.maxFrame)
	c.onMessage = func(c *Conn, m *protocol.Message) { s.evq.push(func() { s.events.fireMessage(c, m) }) }
	c.onError = func(c *Conn, err error) { s.evq.push(func() { s.events.fireError(c, err) }) }
	c.onDisconnect = s.dropConn
	s.connWG.Add(1)
	c.pumpExited = s.connWG.Done
	// Register and enqueue the announcement before the pump starts so no
	// message or disconnect event can precede the connected event.
	s.reg.Add(c)
	zap.L().Info("client connected", zap.Uint64("conn", c.ID()), zap.String("endpoint", private))
	s.evq.push(func() { s.events.fireConnected(c) })
	c.Open()
}

// dropConn is the remove-on-disconnect path: a guarded no-op when the
// connection was never registered, otherwise removal under the registry lock
// followed by the disconnected notification.
func (s *Server) dropConn(c *Conn) {
	if !s.reg.Remove(c) {
		return
	}
	zap.L().Info("client disconnected", zap.Uint64("conn", c.ID()), zap.String("name", c.Name()))
	s.evq.push(func() { s.events.fireDisconnected(c) })
}
