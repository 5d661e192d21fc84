package util

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateMaximum(t *testing.T) {
	// create 10 goroutines trying to enter a gate that can only hold 5
	g := NewGate(5)
	var nenter int64
	for i := 0; i < 10; i++ {
		go func() {
			g.Enter()
			atomic.AddInt64(&nenter, 1)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	if n := atomic.LoadInt64(&nenter); n != 5 {
		t.Errorf("got %d entries, want 5", n)
	}

	g.Leave()
	g.Leave()
	time.Sleep(10 * time.Millisecond)
	if n := atomic.LoadInt64(&nenter); n != 7 {
		t.Errorf("got %d entries, want 7", n)
	}
}

func TestGateEnterContextCancel(t *testing.T) {
	g := NewGate(1)
	g.Enter() // fill the only slot

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.EnterContext(ctx)
	if err == nil {
		t.Fatal("expected context deadline error, got nil")
	}
}
