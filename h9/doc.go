// Package h9 implements the node side of the H9 protocol on a CAN bus.
//
// Every H9 message travels in one extended data frame. The 29-bit identifier
// carries, from the most significant bit:
//
//	priority(1) | type(5) | seqnum(5) | destination(9) | source(9)
//
// A Stack sits between two execution contexts. Transport events (frame
// received, transmit complete) run in event context through the node's IRQ
// gate and only touch the ring buffers. The application calls Poll or Serve
// from one goroutine; each received request is either answered by the core
// (standard registers, discovery, errors), ends the node (reset, upgrade),
// is delegated to a Device, or is passed through as observed traffic.
//
// BusTransport connects a Stack to a canbus.Bus, and Client issues requests
// to other nodes from a separate address. RunHeartbeat and
// SubscribeHeartbeats produce and consume NODE_HEARTBEAT broadcasts.
package h9
