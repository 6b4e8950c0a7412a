package h9

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/notnil/h9can/canbus"
)

// Transport is the bus controller as seen by the stack.
type Transport interface {
	// BeginTransmit starts sending one frame and reports false when the
	// transmit channel is busy. It must not call back into the Handler.
	BeginTransmit(id uint32, dlc uint8, data [8]byte) bool
}

// Handler receives transport events. Events are delivered through the
// node's IRQ gate and must not block.
type Handler interface {
	OnFrameReceived(id uint32, dlc uint8, data [8]byte)
	OnTransmitComplete()
}

// MaxWatches is the number of remote node watch slots.
const MaxWatches = 3

// BusTransport drives a canbus.Bus with one frame in flight at a time. The
// receive side accepts only frames the node is interested in: requests to
// its own address, broadcast requests and traffic of watched nodes.
type BusTransport struct {
	bus  canbus.Bus
	node *Node
	log  zerolog.Logger

	busy atomic.Bool
	out  chan canbus.Frame

	// Guarded by the node's IRQ gate.
	watches    [MaxWatches]Watch
	filter     canbus.FrameFilter
	filterAddr uint16
}

// NewBusTransport returns a transport for node over bus.
func NewBusTransport(bus canbus.Bus, node *Node, logger zerolog.Logger) *BusTransport {
	return &BusTransport{
		bus:  bus,
		node: node,
		log:  logger,
		out:  make(chan canbus.Frame, 1),
	}
}

// BeginTransmit hands the frame to the transmit loop unless a frame is
// already in flight.
func (t *BusTransport) BeginTransmit(id uint32, dlc uint8, data [8]byte) bool {
	if !t.busy.CompareAndSwap(false, true) {
		return false
	}
	if dlc > 8 {
		dlc = 8
	}
	t.out <- canbus.Frame{ID: id & IDMask, Extended: true, Len: dlc, Data: data}
	return true
}

// Watch sets a remote watch slot. With all unset only the response group of
// node is accepted; with all set every remote-group message from node is.
// A zero node clears the slot.
func (t *BusTransport) Watch(slot int, node uint16, all bool) error {
	if slot < 0 || slot >= MaxWatches {
		return fmt.Errorf("h9: watch slot %d out of range", slot)
	}
	if node != UnsetAddress && !ValidAddress(node) {
		return fmt.Errorf("%w: 0x%03X", ErrInvalidAddress, node)
	}
	g := t.node.irq.Disable()
	t.watches[slot] = Watch{Node: node, All: all}
	t.filter = nil
	g.Restore()
	return nil
}

// Watches returns the configured watch slots.
func (t *BusTransport) Watches() []Watch {
	g := t.node.irq.Disable()
	defer g.Restore()
	out := make([]Watch, 0, MaxWatches)
	for _, w := range t.watches {
		if w.Node != UnsetAddress {
			out = append(out, w)
		}
	}
	return out
}

// accepts runs in event context.
func (t *BusTransport) accepts(f canbus.Frame) bool {
	addr := t.node.Address()
	if t.filter == nil || t.filterAddr != addr {
		t.filter = AcceptFilter(addr, t.watches[:])
		t.filterAddr = addr
	}
	return t.filter(f)
}

// Run delivers bus traffic to h until ctx is done or the bus fails.
func (t *BusTransport) Run(ctx context.Context, h Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.rxLoop(gctx, h) })
	g.Go(func() error { return t.txLoop(gctx, h) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (t *BusTransport) rxLoop(ctx context.Context, h Handler) error {
	irq := t.node.IRQ()
	for {
		f, err := t.bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("h9: receive: %w", err)
		}
		irq.Serve(func() {
			if t.accepts(f) {
				h.OnFrameReceived(f.ID, f.Len, f.Data)
			}
		})
	}
}

func (t *BusTransport) txLoop(ctx context.Context, h Handler) error {
	irq := t.node.IRQ()
	for {
		var f canbus.Frame
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f = <-t.out:
		}
		if err := t.bus.Send(ctx, f); err != nil {
			if errors.Is(err, canbus.ErrClosed) || ctx.Err() != nil {
				t.busy.Store(false)
				return fmt.Errorf("h9: send: %w", err)
			}
			t.log.Error().Err(err).Str("frame", f.String()).Msg("transmit failed")
		}
		t.busy.Store(false)
		irq.Serve(h.OnTransmitComplete)
	}
}
