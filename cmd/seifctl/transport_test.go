package main

import "testing"

func TestResolveTransportKnownNames(t *testing.T) {
	for _, name := range []string{"tcp", "ws", "websocket", "quic"} {
		if _, err := resolveTransport(name); err != nil {
			t.Errorf("resolveTransport(%q) error = %v", name, err)
		}
	}
}

func TestResolveTransportUnknownName(t *testing.T) {
	if _, err := resolveTransport("carrier-pigeon"); err == nil {
		t.Error("resolveTransport(unknown) should have failed")
	}
}
