package canbus

import (
	"context"
	"errors"
)

// Bus is one attachment to a CAN bus: a SocketCAN socket or a LoopbackBus
// endpoint. H9 traffic is extended data frames only, but a Bus carries any
// classical frame and leaves filtering to the caller.
//
// Send and Receive may be called from different goroutines. Frames a slow
// reader cannot take are lost, as on a real controller; nothing applies
// backpressure to other nodes.
type Bus interface {
	// Send queues frame for transmission. It returns ErrClosed once the bus
	// is closed and ctx.Err() if ctx ends first.
	Send(ctx context.Context, frame Frame) error

	// Receive blocks for the next frame. It returns ErrClosed once the bus
	// is closed and ctx.Err() if ctx ends first.
	Receive(ctx context.Context) (Frame, error)

	// Close detaches from the bus and unblocks pending calls.
	Close() error
}

// ErrClosed is returned by a Bus after Close.
var ErrClosed = errors.New("canbus: closed")
