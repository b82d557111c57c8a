package ports

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
)

func TestAcquireReturnsDistinctPorts(t *testing.T) {
	a := NewAllocator(42100, 42110)

	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		port, err := a.Acquire()
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if seen[port] {
			t.Errorf("port %d handed out twice", port)
		}
		seen[port] = true
		if port < 42100 || port > 42110 {
			t.Errorf("port %d outside range", port)
		}
	}
}

func TestAcquireConcurrentDistinct(t *testing.T) {
	a := NewAllocator(42200, 42250)

	const n = 10
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.Acquire()
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Acquire: %v", errs[i])
		}
		if seen[results[i]] {
			t.Errorf("port %d handed out twice under concurrency", results[i])
		}
		seen[results[i]] = true
	}
}

func TestAcquireSkipsBoundPorts(t *testing.T) {
	// Occupy the first port of the range externally
	ln, err := net.Listen("tcp", "127.0.0.1:42300")
	if err != nil {
		t.Skipf("cannot bind test port: %v", err)
	}
	defer ln.Close()

	a := NewAllocator(42300, 42305)
	port, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if port == 42300 {
		t.Error("allocator returned a port bound by another listener")
	}
}

func TestAcquireExhausted(t *testing.T) {
	a := NewAllocator(42400, 42401)

	if _, err := a.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := a.Acquire(); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	_, err := a.Acquire()
	if !errors.Is(err, ErrPortExhausted) {
		t.Errorf("expected ErrPortExhausted, got %v", err)
	}
}

func TestReleaseMakesPortReusable(t *testing.T) {
	a := NewAllocator(42500, 42500)

	port, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !a.Reserved(port) {
		t.Error("acquired port should be reserved")
	}

	a.Release(port)
	if a.Reserved(port) {
		t.Error("released port should not be reserved")
	}

	again, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if again != port {
		t.Errorf("expected released port %d to be reusable, got %d", port, again)
	}
}

func TestReleaseUnreservedIsNoop(t *testing.T) {
	a := NewAllocator(42600, 42610)
	a.Release(42605) // must not panic or corrupt state
	if a.ReservedCount() != 0 {
		t.Error("ReservedCount should be 0")
	}
}

func TestErrorMentionsRange(t *testing.T) {
	a := NewAllocator(42700, 42700)
	if _, err := a.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_, err := a.Acquire()
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	want := fmt.Sprintf("(%d-%d)", 42700, 42700)
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("error %q should mention range %q", got, want)
	}
}
