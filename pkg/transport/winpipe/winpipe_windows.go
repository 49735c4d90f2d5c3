//go:build windows

package winpipe

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/Microsoft/go-winio"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport"
)

// Transport listens/dials Windows named pipes via go-winio.
// Pipe names use the `\\.\pipe\<name>` form.
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

func (t *Transport) Listen(ctx context.Context, pipeName string, opts transport.ListenOptions) (transport.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: opts.SecurityDescriptor,
		InputBufferSize:    opts.InputBufferSize,
		OutputBufferSize:   opts.OutputBufferSize,
	}
	l, err := winio.ListenPipe(pipeName, cfg)
	if err != nil {
		return nil, err
	}
	wl := &listener{l: l, newCh: make(chan net.Conn), errCh: make(chan error, 1), closeCh: make(chan struct{})}
	go wl.acceptLoop()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = wl.Close()
			case <-wl.closeCh:
			}
		}()
	}
	return wl, nil
}

func (t *Transport) Dial(ctx context.Context, pipeName string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, pipeName)
}

type listener struct {
	l       net.Listener
	newCh   chan net.Conn
	errCh   chan error
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("winpipe: listener closed")
	case err := <-l.errCh:
		return nil, err
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *listener) Close() error {
	l.once.Do(func() { close(l.closeCh) })
	return l.l.Close()
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			select {
			case l.errCh <- err:
			default:
			}
			return
		}
		select {
		case l.newCh <- c:
		case <-l.closeCh:
			_ = c.Close()
			return
		}
	}
}
