package h9

import "sync"

// IRQ models the interrupt-enable flag of the node. Transport events are
// delivered through Serve, the host equivalent of an interrupt vector, and
// cannot run while the polling context holds a Guard from Disable.
//
// The gate is not reentrant: event handlers must not call Disable, and code
// holding a Guard must not deliver events synchronously.
type IRQ struct {
	mu sync.Mutex
}

// Guard is an open critical section. Restore must be called exactly once.
type Guard struct {
	irq *IRQ
}

// Disable suspends event delivery until the returned guard is restored.
func (q *IRQ) Disable() Guard {
	q.mu.Lock()
	return Guard{irq: q}
}

// Restore re-enables event delivery.
func (g Guard) Restore() {
	g.irq.mu.Unlock()
}

// Serve runs an event handler with event delivery suspended.
func (q *IRQ) Serve(handler func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	handler()
}
