package netport

import (
	"fmt"
	"net"
	"testing"
)

func TestFindFreePortIsBindable(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("port out of range: %d", port)
	}
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("port %d not bindable: %v", port, err)
	}
	_ = l.Close()
}

func TestFindFreePortVaries(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		p, err := FindFreePort()
		if err != nil {
			t.Fatalf("FindFreePort: %v", err)
		}
		seen[p] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected some variety in allocated ports, got %v", seen)
	}
}
