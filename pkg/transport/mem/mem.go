package mem

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport"
)

// Transport is an in-process transport using net.Pipe. Useful for tests and
// as a local stand-in for the OS named pipe transport. Like the OS primitive,
// a name carries at most one listener at a time.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string, _ transport.ListenOptions) (transport.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists")
	}
	l := &listener{owner: t, name: name, newCh: make(chan net.Conn), closeCh: make(chan struct{})}
	t.listeners[name] = l
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = l.Close()
			case <-l.closeCh:
			}
		}()
	}
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string) (net.Conn, error) {
	t.mu.Lock()
	l := t.listeners[name]
	t.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener")
	}
	c1, c2 := net.Pipe()
	select {
	case <-ctx.Done():
		_ = c1.Close()
		_ = c2.Close()
		return nil, ctx.Err()
	case <-l.closeCh:
		_ = c1.Close()
		_ = c2.Close()
		return nil, errors.New("mem: listener closed")
	case l.newCh <- c1:
		return c2, nil
	}
}

func (t *Transport) remove(name string, l *listener) {
	t.mu.Lock()
	if t.listeners[name] == l {
		delete(t.listeners, name)
	}
	t.mu.Unlock()
}

type listener struct {
	owner   *Transport
	name    string
	newCh   chan net.Conn
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("mem: listener closed")
	case c := <-l.newCh:
		return c, nil
	}
}

// Close unbinds the name so it can be listened on again.
func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.closeCh)
		l.owner.remove(l.name, l)
	})
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }
