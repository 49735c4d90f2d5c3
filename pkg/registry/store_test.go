package registry

import (
	"errors"
	"testing"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
)

type fakeConn struct {
	id     uint64
	name   string
	failed bool
	got    []*protocol.Message
}

func (f *fakeConn) ID() uint64   { return f.id }
func (f *fakeConn) Name() string { return f.name }
func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) PushMessage(m *protocol.Message) error {
	if f.failed {
		return errors.New("send failed")
	}
	f.got = append(f.got, m)
	return nil
}

func TestAddRejectsDuplicatesAndNil(t *testing.T) {
	s := NewStore()
	c := &fakeConn{id: 1}
	if !s.Add(c) {
		t.Fatalf("first Add should succeed")
	}
	if s.Add(c) {
		t.Fatalf("duplicate Add should be rejected")
	}
	if s.Add(nil) {
		t.Fatalf("nil Add should be rejected")
	}
	if s.Len() != 1 {
		t.Fatalf("Len=1 expected, got %d", s.Len())
	}
}

func TestRemoveGuardedNoop(t *testing.T) {
	s := NewStore()
	c := &fakeConn{id: 1}
	if s.Remove(c) {
		t.Fatalf("Remove of absent conn should be a no-op")
	}
	if s.Remove(nil) {
		t.Fatalf("Remove of nil should be a no-op")
	}
	s.Add(c)
	if !s.Remove(c) {
		t.Fatalf("Remove of present conn should succeed")
	}
	if s.Remove(c) {
		t.Fatalf("second Remove should be a no-op")
	}
	if s.Len() != 0 {
		t.Fatalf("registry should be empty")
	}
}

func TestBroadcastSurvivesSendFailure(t *testing.T) {
	s := NewStore()
	a := &fakeConn{id: 1}
	b := &fakeConn{id: 2, failed: true}
	c := &fakeConn{id: 3}
	s.Add(a)
	s.Add(b)
	s.Add(c)

	m := &protocol.Message{Type: "t", Body: []byte("x")}
	if sent := s.Broadcast(m); sent != 2 {
		t.Fatalf("Broadcast sent=%d, want 2", sent)
	}
	if len(a.got) != 1 || len(c.got) != 1 {
		t.Fatalf("delivery mismatch: a=%d c=%d", len(a.got), len(c.got))
	}
	if s.Len() != 3 {
		t.Fatalf("send failure must not change membership")
	}
}

func TestUnicastMatchesAllByName(t *testing.T) {
	s := NewStore()
	a := &fakeConn{id: 1, name: "worker"}
	b := &fakeConn{id: 2, name: "worker"}
	c := &fakeConn{id: 3, name: "other"}
	s.Add(a)
	s.Add(b)
	s.Add(c)

	m := &protocol.Message{Type: "t"}
	if sent := s.Unicast(m, "worker"); sent != 2 {
		t.Fatalf("Unicast sent=%d, want 2", sent)
	}
	if len(a.got) != 1 || len(b.got) != 1 || len(c.got) != 0 {
		t.Fatalf("unicast delivery mismatch: %d/%d/%d", len(a.got), len(b.got), len(c.got))
	}
	if sent := s.Unicast(m, "nobody"); sent != 0 {
		t.Fatalf("Unicast to unknown name sent=%d, want 0", sent)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	a := &fakeConn{id: 1}
	s.Add(a)
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0] != Conn(a) {
		t.Fatalf("snapshot mismatch")
	}
	s.Remove(a)
	if len(snap) != 1 {
		t.Fatalf("snapshot must not track later removals")
	}
}
