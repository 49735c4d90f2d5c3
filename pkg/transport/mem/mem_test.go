package mem

import (
	"context"
	"testing"
	"time"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transport"
)

func TestOneListenerPerName(t *testing.T) {
	tr := New()
	ctx := context.Background()
	l, err := tr.Listen(ctx, "ep", transport.ListenOptions{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := tr.Listen(ctx, "ep", transport.ListenOptions{}); err == nil {
		t.Fatalf("second Listen on same name should fail")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close unbinds the name.
	l2, err := tr.Listen(ctx, "ep", transport.ListenOptions{})
	if err != nil {
		t.Fatalf("Listen after Close: %v", err)
	}
	_ = l2.Close()
}

func TestDialAcceptPair(t *testing.T) {
	tr := New()
	ctx := context.Background()
	l, err := tr.Listen(ctx, "ep", transport.ListenOptions{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		buf := make([]byte, 2)
		if _, err := c.Read(buf); err != nil {
			done <- err
			return
		}
		_, err = c.Write(buf)
		done <- err
	}()

	c, err := tr.Dial(ctx, "ep")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte("ok")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 2)
	if _, err := c.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "ok" {
		t.Fatalf("echo mismatch: %q", buf)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestDialWithoutListener(t *testing.T) {
	tr := New()
	if _, err := tr.Dial(context.Background(), "nowhere"); err == nil {
		t.Fatalf("expected error dialing unbound name")
	}
}

func TestAcceptUnblocksOnCancel(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithCancel(context.Background())
	l, err := tr.Listen(ctx, "ep", transport.ListenOptions{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept(ctx)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Accept should fail after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("Accept did not unblock on cancel")
	}
}

func TestDialUnblocksOnListenerClose(t *testing.T) {
	tr := New()
	ctx := context.Background()
	l, err := tr.Listen(ctx, "ep", transport.ListenOptions{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		// Nobody accepts; the dial must not hang past listener close.
		_, err := tr.Dial(ctx, "ep")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = l.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Dial should fail when listener closes")
		}
	case <-time.After(time.Second):
		t.Fatalf("Dial did not unblock on listener close")
	}
}
