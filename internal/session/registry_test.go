package session

import (
	"net"
	"testing"

	"github.com/rs/zerolog"
)

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client
}

func TestRegistryAddRejectsOverCapacity(t *testing.T) {
	r := NewRegistry(2, zerolog.Nop())

	c1, err := r.Add(pipeConn(t))
	if err != nil {
		t.Fatalf("Add 1: %v", err)
	}
	if _, err := r.Add(pipeConn(t)); err != nil {
		t.Fatalf("Add 2: %v", err)
	}
	if _, err := r.Add(pipeConn(t)); err != ErrFull {
		t.Fatalf("Add 3: want ErrFull, got %v", err)
	}
	if got, ok := r.Find(c1.ID); !ok || got != c1 {
		t.Fatalf("Find did not return the client added first")
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(5, zerolog.Nop())
	c, _ := r.Add(pipeConn(t))
	r.Remove(c.ID)
	if _, ok := r.Find(c.ID); ok {
		t.Fatalf("client still present after Remove")
	}
}

func TestClientJoinLeaveIsMember(t *testing.T) {
	c := New(1, pipeConn(t), zerolog.Nop())
	if c.IsMember(7) {
		t.Fatalf("fresh client should not be a member of anything")
	}
	c.Join(7)
	if !c.IsMember(7) {
		t.Fatalf("client should be a member after Join")
	}
	c.Leave(7)
	if c.IsMember(7) {
		t.Fatalf("client should not be a member after Leave")
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	c := New(1, pipeConn(t), zerolog.Nop())
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestClientConnectedStateTransition(t *testing.T) {
	c := New(1, pipeConn(t), zerolog.Nop())
	if c.State() != Unconnected {
		t.Fatalf("new client should start Unconnected")
	}
	c.SetConnected("bunny@1")
	if c.State() != Connected {
		t.Fatalf("client should be Connected after SetConnected")
	}
	if c.DisplayName() != "bunny@1" {
		t.Fatalf("got display name %q, want bunny@1", c.DisplayName())
	}
}
