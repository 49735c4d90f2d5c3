//go:build windows

package transports

import (
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport/winpipe"
)

func newWinPipeTransport() (transport.Transport, error) { return winpipe.New(), nil }
