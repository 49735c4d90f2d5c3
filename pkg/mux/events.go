package mux

import (
	"sync"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
)

// Handler signatures for the event kinds the server republishes. The Conn
// argument is nil for errors raised before a connection object existed
// (handshake failures).
type (
	ConnectedHandler    func(*Conn)
	DisconnectedHandler func(*Conn)
	MessageHandler      func(*Conn, *protocol.Message)
	ErrorHandler        func(*Conn, error)
	StoppedHandler      func()
)

// Events fans out lifecycle notifications to any number of independent
// subscribers per kind. Registration is append-only; handlers are invoked
// outside the subscription lock and may call back into the server.
//
// Server and Client deliver all notifications from a single dispatcher
// goroutine in the order the events occurred, so a handler may call any
// public operation, including Stop, without deadlocking.
type Events struct {
	mu           sync.Mutex
	connected    []ConnectedHandler
	disconnected []DisconnectedHandler
	message      []MessageHandler
	errs         []ErrorHandler
	stopped      []StoppedHandler
}

func (e *Events) OnConnected(h ConnectedHandler) {
	e.mu.Lock()
	e.connected = append(e.connected, h)
	e.mu.Unlock()
}

func (e *Events) OnDisconnected(h DisconnectedHandler) {
	e.mu.Lock()
	e.disconnected = append(e.disconnected, h)
	e.mu.Unlock()
}

func (e *Events) OnMessage(h MessageHandler) {
	e.mu.Lock()
	e.message = append(e.message, h)
	e.mu.Unlock()
}

func (e *Events) OnError(h ErrorHandler) {
	e.mu.Lock()
	e.errs = append(e.errs, h)
	e.mu.Unlock()
}

func (e *Events) OnStopped(h StoppedHandler) {
	e.mu.Lock()
	e.stopped = append(e.stopped, h)
	e.mu.Unlock()
}

func (e *Events) fireConnected(c *Conn) {
	e.mu.Lock()
	hs := append([]ConnectedHandler(nil), e.connected...)
	e.mu.Unlock()
	for _, h := range hs {
		h(c)
	}
}

func (e *Events) fireDisconnected(c *Conn) {
	e.mu.Lock()
	hs := append([]DisconnectedHandler(nil), e.disconnected...)
	e.mu.Unlock()
	for _, h := range hs {
		h(c)
	}
}

func (e *Events) fireMessage(c *Conn, m *protocol.Message) {
	e.mu.Lock()
	hs := append([]MessageHandler(nil), e.message...)
	e.mu.Unlock()
	for _, h := range hs {
		h(c, m)
	}
}

func (e *Events) fireError(c *Conn, err error) {
	e.mu.Lock()
	hs := append([]ErrorHandler(nil), e.errs...)
	e.mu.Unlock()
	for _, h := range hs {
		h(c, err)
	}
}

func (e *Events) fireStopped() {
	e.mu.Lock()
	hs := append([]StoppedHandler(nil), e.stopped...)
	e.mu.Unlock()
	for _, h := range hs {
		h()
	}
}

// eventQueue runs handlers on one dedicated goroutine in submission order.
// Producers never block on a slow handler, and the shutdown path can join
// the producer goroutines while a handler is still running, which is what
// lets a handler call Stop.
type eventQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// push enqueues one handler invocation. Pushes after close are dropped.
func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	if !q.closed {
		q.pending = append(q.pending, fn)
	}
	q.mu.Unlock()
	q.cond.Signal()
}

// close lets the dispatcher exit once the pending events have been
// delivered. It does not wait for them.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}
