// Package handshake implements the rendezvous grant: the single value
// exchanged on the well-known endpoint, naming the private endpoint the
// client must reconnect to.
package handshake

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
)

// A grant is small; no sane name approaches this.
const maxGrantSize = 4096

// ErrEmptyGrant reports a grant frame with no endpoint name in it.
var ErrEmptyGrant = errors.New("handshake: empty grant")

// PrivateName derives the private endpoint name issued to the n-th accepted
// client. The `{wellknown}_{n}` form is part of the wire contract.
func PrivateName(wellKnown string, n uint64) string {
	return fmt.Sprintf("%s_%d", wellKnown, n)
}

// ParsePrivateName validates a private endpoint name against the well-known
// name and returns its sequence number.
func ParsePrivateName(wellKnown, name string) (uint64, error) {
	suffix, ok := strings.CutPrefix(name, wellKnown+"_")
	if !ok {
		return 0, fmt.Errorf("handshake: %q does not extend %q", name, wellKnown)
	}
	n, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("handshake: bad sequence in %q", name)
	}
	return n, nil
}

// WriteGrant sends the private endpoint name as one text frame, then blocks
// until the peer has drained it, observed as the peer closing its end.
// The whole exchange is bounded by deadline.
func WriteGrant(c net.Conn, name string, deadline time.Duration) error {
	if deadline > 0 {
		if err := c.SetDeadline(time.Now().Add(deadline)); err != nil {
			return err
		}
		defer c.SetDeadline(time.Time{})
	}
	if err := protocol.WriteFrame(c, []byte(name)); err != nil {
		return fmt.Errorf("handshake: write grant: %w", err)
	}
	// The client reads the grant and closes the handshake pipe; EOF here is
	// the drain confirmation.
	var one [1]byte
	if _, err := c.Read(one[:]); err == nil || !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("handshake: unexpected data after grant")
		}
		return fmt.Errorf("handshake: wait for drain: %w", err)
	}
	return nil
}

// ReadGrant receives the private endpoint name from the well-known endpoint.
// The caller closes the connection afterwards to confirm the drain.
func ReadGrant(c net.Conn, deadline time.Duration) (string, error) {
	if deadline > 0 {
		if err := c.SetDeadline(time.Now().Add(deadline)); err != nil {
			return "", err
		}
		defer c.SetDeadline(time.Time{})
	}
	b, err := protocol.ReadFrame(c, maxGrantSize)
	if err != nil {
		return "", fmt.Errorf("handshake: read grant: %w", err)
	}
	name := string(b)
	if name == "" {
		return "", ErrEmptyGrant
	}
	return name, nil
}
