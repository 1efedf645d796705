package dns

import (
	"context"
	"net"
	"testing"
)

func TestLookup_LiteralIP(t *testing.T) {
	r := NewResolver()
	for _, host := range []string{"127.0.0.1", "::1"} {
		got, err := r.Lookup(context.Background(), host)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", host, err)
		}
		if got != host {
			t.Fatalf("Lookup(%q)=%q", host, got)
		}
	}
}

func TestDialContext_Loopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	conn, err := NewResolver().DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	conn.Close()
}

func TestRace_NoServers(t *testing.T) {
	r := &Resolver{}
	if _, err := r.race(context.Background(), "example.invalid"); err == nil {
		t.Fatal("expected error with empty server list")
	}
}
