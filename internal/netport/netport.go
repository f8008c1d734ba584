// Package netport allocates free local TCP ports for agent servers.
package netport

import (
	"fmt"
	"net"
)

// FindFreePort asks the kernel for an unused TCP port on the loopback
// interface. The listener is closed before returning, so the port is free
// for the agent server to bind; the window between close and bind is
// accepted, given the supervisor is the only allocator on the data root.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("no ports available: %w", err)
	}
	defer func() { _ = l.Close() }()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %v", l.Addr())
	}
	return addr.Port, nil
}
