package canbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// FrameFilter reports whether a frame is wanted.
type FrameFilter func(Frame) bool

// Mux reads one Bus and hands each frame to every subscriber whose filter
// accepts it. Clients use it to wait for a reply with a matching sequence
// number while other traffic, heartbeats for example, keeps flowing.
//
// The Mux owns Receive on the bus; Send still goes to the bus directly.
// A subscriber whose channel is full misses frames, which Dropped counts.
type Mux struct {
	bus     Bus
	ctx     context.Context
	stop    context.CancelFunc
	dropped atomic.Uint64

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	done   bool
}

type subscriber struct {
	accept FrameFilter
	ch     chan Frame
}

// NewMux starts reading bus.
func NewMux(bus Bus) *Mux {
	ctx, stop := context.WithCancel(context.Background())
	m := &Mux{bus: bus, ctx: ctx, stop: stop, subs: make(map[uint64]*subscriber)}
	go m.loop()
	return m
}

// Close stops reading and closes every subscription channel.
func (m *Mux) Close() error {
	m.stop()
	m.shutdown()
	return nil
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (m *Mux) Dropped() uint64 { return m.dropped.Load() }

// Subscribe returns a channel of frames accepted by filter (all frames when
// filter is nil) and a cancel func that closes it. Subscribing to a closed
// Mux yields a closed channel.
func (m *Mux) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	s := &subscriber{accept: filter, ch: make(chan Frame, max(buffer, 0))}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		close(s.ch)
		return s.ch, func() {}
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = s

	return s.ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(s.ch)
		}
	}
}

func (m *Mux) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = true
	for id, s := range m.subs {
		delete(m.subs, id)
		close(s.ch)
	}
}

func (m *Mux) loop() {
	defer m.shutdown()
	for {
		f, err := m.bus.Receive(m.ctx)
		if err != nil {
			return
		}
		m.deliver(f)
	}
}

func (m *Mux) deliver(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.accept != nil && !s.accept(f) {
			continue
		}
		select {
		case s.ch <- f:
		default:
			m.dropped.Add(1)
		}
	}
}
