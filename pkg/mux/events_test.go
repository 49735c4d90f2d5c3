package mux

import (
	"errors"
	"testing"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
)

func TestEventsFanOutToAllSubscribers(t *testing.T) {
	var e Events
	got := make([]string, 0, 8)
	e.OnConnected(func(*Conn) { got = append(got, "c1") })
	e.OnConnected(func(*Conn) { got = append(got, "c2") })
	e.OnStopped(func() { got = append(got, "s1") })

	e.fireConnected(nil)
	e.fireStopped()
	if len(got) != 3 || got[0] != "c1" || got[1] != "c2" || got[2] != "s1" {
		t.Fatalf("fan-out mismatch: %v", got)
	}
}

func TestEventsWithNoSubscribers(t *testing.T) {
	var e Events
	// Firing with nobody listening must not panic.
	e.fireConnected(nil)
	e.fireDisconnected(nil)
	e.fireMessage(nil, &protocol.Message{})
	e.fireError(nil, errors.New("x"))
	e.fireStopped()
}

func TestSubscribeDuringDispatchDoesNotDeadlock(t *testing.T) {
	var e Events
	fired := false
	e.OnConnected(func(*Conn) {
		// Handlers run outside the subscription lock.
		e.OnError(func(*Conn, error) { fired = true })
	})
	e.fireConnected(nil)
	e.fireError(nil, errors.New("x"))
	if !fired {
		t.Fatalf("late subscriber did not receive event")
	}
}
