// Package ports allocates backend TCP ports for preview sessions from a
// configured range.
//
// Allocation is inherently racy: the allocator proves a port was free by
// binding and releasing it, but the dev server child process binds it again
// some time later. A reservation table narrows the window against our own
// sessions; another process on the host can still win the race. Callers
// treat a child's bind failure as recoverable and retry with a new port.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrPortExhausted is returned when no port in the configured range can be
// bound.
var ErrPortExhausted = errors.New("no free port in configured range")

// Allocator hands out ports from [start, end], tracking reservations so
// that concurrent launches never receive the same port.
type Allocator struct {
	start int
	end   int

	mu       sync.Mutex
	reserved map[int]bool
}

// NewAllocator creates an allocator over the inclusive range [start, end].
func NewAllocator(start, end int) *Allocator {
	return &Allocator{
		start:    start,
		end:      end,
		reserved: make(map[int]bool),
	}
}

// Acquire finds an unused port: for each candidate not already reserved, it
// binds an ephemeral listener on 127.0.0.1, closes it immediately on
// success, marks the port reserved, and returns it. Returns ErrPortExhausted
// when every port in the range is reserved or bound by another process.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.start; port <= a.end; port++ {
		if a.reserved[port] {
			continue
		}
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		a.reserved[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("%w (%d-%d)", ErrPortExhausted, a.start, a.end)
}

// Release returns a port to the pool. Releasing an unreserved port is a
// no-op, so teardown paths can call it unconditionally.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Reserved reports whether a port is currently reserved.
func (a *Allocator) Reserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[port]
}

// ReservedCount returns the number of outstanding reservations.
func (a *Allocator) ReservedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}
