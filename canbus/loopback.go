package canbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultLoopbackQueue is the per-endpoint receive queue length.
const DefaultLoopbackQueue = 64

// LoopbackOption configures a LoopbackBus.
type LoopbackOption func(*LoopbackBus)

// WithEndpointQueue sets how many frames an endpoint buffers before new
// frames for it are dropped.
func WithEndpointQueue(n int) LoopbackOption {
	return func(b *LoopbackBus) {
		if n > 0 {
			b.queue = n
		}
	}
}

// LoopbackBus is an in-memory CAN bus for tests and simulations. Frames sent
// on one endpoint reach every other endpoint, never the sender. Like a
// SocketCAN receive buffer, an endpoint that is not read fast enough loses
// frames instead of stalling the sender.
type LoopbackBus struct {
	queue int

	mu        sync.RWMutex
	closed    bool
	endpoints map[*loopEndpoint]struct{}
}

// NewLoopbackBus creates a new loopback bus.
func NewLoopbackBus(opts ...LoopbackOption) *LoopbackBus {
	b := &LoopbackBus{queue: DefaultLoopbackQueue, endpoints: make(map[*loopEndpoint]struct{})}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Open attaches a new endpoint. Endpoints opened after Close are already
// closed.
func (b *LoopbackBus) Open() Bus {
	ep := &loopEndpoint{
		bus:  b,
		ch:   make(chan Frame, b.queue),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ep.detach()
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

// Close closes the bus and every endpoint on it.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.detach()
	}
	b.endpoints = nil
	return nil
}

// Overruns reports how many frames were dropped for ep because its queue was
// full. ep must come from a LoopbackBus.
func Overruns(ep Bus) uint64 {
	if e, ok := ep.(*loopEndpoint); ok {
		return e.overruns.Load()
	}
	return 0
}

type loopEndpoint struct {
	bus      *LoopbackBus
	ch       chan Frame
	once     sync.Once
	done     chan struct{}
	overruns atomic.Uint64
}

func (e *loopEndpoint) isClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Send delivers frame to all other endpoints. It does not wait for readers.
func (e *loopEndpoint) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.isClosed() {
		return ErrClosed
	}

	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()
	if e.bus.closed {
		return ErrClosed
	}
	for ep := range e.bus.endpoints {
		if ep == e {
			continue
		}
		select {
		case ep.ch <- frame:
		default:
			ep.overruns.Add(1)
		}
	}
	return nil
}

// Receive waits for the next frame. Frames still queued when the endpoint
// closes are discarded.
func (e *loopEndpoint) Receive(ctx context.Context) (Frame, error) {
	if e.isClosed() {
		return Frame{}, ErrClosed
	}
	select {
	case f := <-e.ch:
		return f, nil
	case <-e.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close detaches the endpoint from the bus.
func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	e.bus.mu.Unlock()
	e.detach()
	return nil
}

func (e *loopEndpoint) detach() { e.once.Do(func() { close(e.done) }) }
