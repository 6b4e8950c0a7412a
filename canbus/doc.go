// Package canbus provides the raw Controller Area Network (CAN) layer used by
// the H9 node stack.
//
// It includes:
//   - A core Frame type with validation and SocketCAN binary marshaling
//   - An in-memory loopback bus for tests and simulations
//   - A frame multiplexer and composable frame filters
//   - A Linux SocketCAN driver and interface helpers (linux-only)
package canbus
