package util

import "context"

// A Gate limits concurrency. Every gate has a maximum number of goroutines
// to allow through at a time. Goroutines enter the gate by calling Enter()
// and signal that they are done by calling Leave().
type Gate chan struct{}

// NewGate returns a Gate which accepts at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter is called at the beginning of the section to be protected by
// the gate, and will block the calling goroutine until there are less than
// n goroutines inside.
// It is safe to call this from multiple goroutines.
func (g Gate) Enter() {
	g <- struct{}{}
}

// EnterContext is Enter but it gives up and returns ctx.Err() if ctx is
// cancelled before a slot becomes free. Used by the scheduler so a
// cancelled download does not wait forever for a gate slot.
func (g Gate) EnterContext(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave marks a goroutine outside the critical section. It is important to
// balance each call to Enter (or successful EnterContext) with a call to
// Leave. Enter and Leave do not need to be called from the same goroutine.
func (g Gate) Leave() {
	<-g
}

// Len returns the number of goroutines currently inside the gate.
func (g Gate) Len() int {
	return len(g)
}
