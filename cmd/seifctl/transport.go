package main

import (
	"fmt"

	"github.com/seif-protocol/seif-go/internal/transport"
)

func resolveTransport(name string) (transport.Transport, error) {
	switch name {
	case "tcp":
		return transport.NewTCPTransport(), nil
	case "ws", "websocket":
		return transport.NewWebSocketTransport(), nil
	case "quic":
		return transport.NewQUICTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want tcp, ws, or quic)", name)
	}
}
