// Package registry keeps the server's authoritative set of live client
// connections.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
)

// Conn is the surface the registry needs from a live connection. Entries are
// compared by identity, so the same value passed to Add must later be passed
// to Remove.
type Conn interface {
	ID() uint64
	Name() string
	PushMessage(*protocol.Message) error
	Close() error
}

// Store is the connection registry. One mutex guards both membership and
// iteration-for-send: a send observes a consistent snapshot of registered
// connections and cannot race an in-flight add/remove. Send throughput is
// not a goal here; membership correctness is.
type Store struct {
	mu    sync.Mutex
	conns []Conn
}

func NewStore() *Store { return &Store{} }

// Add inserts a connection. Returns false without modifying the registry if
// the connection is nil or already present; no entry ever appears twice.
func (s *Store) Add(c Conn) bool {
	if c == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.conns {
		if have == c {
			return false
		}
	}
	s.conns = append(s.conns, c)
	return true
}

// Remove takes a connection out of the registry. A guarded no-op when the
// connection is nil or absent; returns whether an entry was removed.
func (s *Store) Remove(c Conn) bool {
	if c == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.conns {
		if have == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return true
		}
	}
	return false
}

// Broadcast forwards a message to every registered connection. A single
// connection's send failure is logged and does not abort delivery to the
// rest. Returns the number of successful sends.
func (s *Store) Broadcast(m *protocol.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for _, c := range s.conns {
		if err := c.PushMessage(m); err != nil {
			zap.L().Warn("broadcast send failed", zap.Uint64("conn", c.ID()), zap.String("name", c.Name()), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Unicast forwards a message to every connection whose display name equals
// name. Display names are not unique; all matches receive the message.
func (s *Store) Unicast(m *protocol.Message, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for _, c := range s.conns {
		if c.Name() != name {
			continue
		}
		if err := c.PushMessage(m); err != nil {
			zap.L().Warn("unicast send failed", zap.Uint64("conn", c.ID()), zap.String("name", c.Name()), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Snapshot returns a copy of the current membership.
func (s *Store) Snapshot() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conn, len(s.conns))
	copy(out, s.conns)
	return out
}

// Len reports the number of registered connections.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
