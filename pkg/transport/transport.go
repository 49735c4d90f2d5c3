package transport

import (
	"context"
	"net"
)

// Kind identifies the backing implementation of a named endpoint.
type Kind int

const (
	KindUnknown Kind = iota
	KindWinPipe
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindWinPipe:
		return "winpipe"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// ListenOptions carries endpoint creation options.
//
// SecurityDescriptor is an opaque OS access-control descriptor; it is passed
// through to endpoint creation unexamined and may be empty for OS defaults.
// Transports without an access-control concept ignore it.
type ListenOptions struct {
	SecurityDescriptor string
	InputBufferSize    int32
	OutputBufferSize   int32
}

// Listener accepts inbound connections on one named endpoint.
type Listener interface {
	// Accept blocks until an inbound connection is available, the listener
	// is closed, or ctx is done.
	Accept(ctx context.Context) (net.Conn, error)
	// Addr returns the local endpoint address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Transport provides dialing/listening for named duplex byte pipes.
// Endpoint names are transport-specific (e.g. `\\.\pipe\name` for winpipe).
type Transport interface {
	Kind() Kind
	// Listen binds a listener to the endpoint name. At most one listener may
	// be bound to a name at a time.
	Listen(ctx context.Context, name string, opts ListenOptions) (Listener, error)
	// Dial connects to the endpoint name.
	Dial(ctx context.Context, name string) (net.Conn, error)
}
