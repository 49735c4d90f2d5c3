// Package transports constructs transport implementations by configured kind.
package transports

import (
	"fmt"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport/mem"
)

// New returns the transport for a config kind string ("winpipe" or "mem").
func New(kind string) (transport.Transport, error) {
	switch kind {
	case "winpipe":
		return newWinPipeTransport()
	case "mem":
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %q", kind)
	}
}
