package h9

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/notnil/h9can/canbus"
)

// NodeInfo is the identity carried by NODE_INFO and NODE_TURNED_ON.
type NodeInfo struct {
	Node             uint16
	NodeType         uint16
	VersionMajor     uint16
	VersionMinor     uint16
	HardwareRevision byte
	// ResetReason is only reported by NODE_TURNED_ON.
	ResetReason ResetReason
}

// ParseNodeInfo decodes a NODE_INFO or NODE_TURNED_ON message.
func ParseNodeInfo(m Msg) (NodeInfo, error) {
	if m.Type != TypeNodeInfo && m.Type != TypeNodeTurnedOn {
		return NodeInfo{}, fmt.Errorf("h9: %s does not carry node info", m.Type)
	}
	if m.DLC < 7 {
		return NodeInfo{}, fmt.Errorf("h9: node info needs 7 bytes, got %d", m.DLC)
	}
	info := NodeInfo{
		Node:             m.Source,
		NodeType:         binary.BigEndian.Uint16(m.Data[0:2]),
		VersionMajor:     binary.BigEndian.Uint16(m.Data[2:4]),
		VersionMinor:     binary.BigEndian.Uint16(m.Data[4:6]),
		HardwareRevision: m.Data[6],
	}
	if m.DLC >= 8 {
		info.ResetReason = ResetReason(m.Data[7])
	}
	return info, nil
}

func (i NodeInfo) String() string {
	return fmt.Sprintf("node %d: type %d, version %d.%d, hw rev %q", i.Node, i.NodeType, i.VersionMajor, i.VersionMinor, i.HardwareRevision)
}

// Client issues requests to other nodes from its own address and waits for
// the matching response.
//
// Responses are received through a Mux so other consumers of the bus keep
// seeing traffic. A zero timeout waits until the context ends.
type Client struct {
	bus     canbus.Bus
	mux     *canbus.Mux
	self    uint16
	timeout time.Duration
	seq     atomic.Uint32
}

// NewClient constructs a Client sending as address self.
func NewClient(bus canbus.Bus, mux *canbus.Mux, self uint16, timeout time.Duration) (*Client, error) {
	if !ValidAddress(self) {
		return nil, fmt.Errorf("%w: 0x%03X", ErrInvalidAddress, self)
	}
	return &Client{bus: bus, mux: mux, self: self, timeout: timeout}, nil
}

// Request builds a high priority request to node with the next sequence number.
func (c *Client) Request(t Type, node uint16, payload ...byte) Msg {
	m := Msg{
		Priority:    PriorityHigh,
		Type:        t,
		Seqnum:      uint8(c.seq.Add(1)-1) & seqnumMask,
		Destination: node & addressMask,
		Source:      c.self,
	}
	m.SetPayload(payload...)
	return m
}

// Send transmits m without waiting for a response.
func (c *Client) Send(ctx context.Context, m Msg) error {
	return c.bus.Send(ctx, m.Frame())
}

// GetRegister reads register reg of node.
func (c *Client) GetRegister(ctx context.Context, node uint16, reg uint8) ([]byte, error) {
	res, err := c.roundTrip(ctx, c.Request(TypeGetReg, node, reg))
	if err != nil {
		return nil, err
	}
	return registerValue(res, reg)
}

// SetRegister writes value to register reg of node and returns the value the
// node reports back.
func (c *Client) SetRegister(ctx context.Context, node uint16, reg uint8, value []byte) ([]byte, error) {
	if len(value) == 0 || len(value) > 7 {
		return nil, fmt.Errorf("h9: register value must be 1..7 bytes, got %d", len(value))
	}
	res, err := c.roundTrip(ctx, c.Request(TypeSetReg, node, append([]byte{reg}, value...)...))
	if err != nil {
		return nil, err
	}
	return registerValue(res, reg)
}

// Bit operations on a device register. The node echoes the resulting value.
func (c *Client) SetBit(ctx context.Context, node uint16, reg, bit uint8) ([]byte, error) {
	return c.bitOp(ctx, TypeSetBit, node, reg, bit)
}

func (c *Client) ClearBit(ctx context.Context, node uint16, reg, bit uint8) ([]byte, error) {
	return c.bitOp(ctx, TypeClearBit, node, reg, bit)
}

func (c *Client) ToggleBit(ctx context.Context, node uint16, reg, bit uint8) ([]byte, error) {
	return c.bitOp(ctx, TypeToggleBit, node, reg, bit)
}

func (c *Client) bitOp(ctx context.Context, t Type, node uint16, reg, bit uint8) ([]byte, error) {
	res, err := c.roundTrip(ctx, c.Request(t, node, reg, bit))
	if err != nil {
		return nil, err
	}
	return registerValue(res, reg)
}

// Reset asks node to restart. No response is expected.
func (c *Client) Reset(ctx context.Context, node uint16) error {
	return c.Send(ctx, c.Request(TypeNodeReset, node))
}

// Discover sends DISCOVER to node, usually BroadcastAddress, and collects
// NODE_INFO replies until the client timeout or ctx expires. A unicast
// discover returns after the first reply.
func (c *Client) Discover(ctx context.Context, node uint16) ([]NodeInfo, error) {
	req := c.Request(TypeDiscover, node)
	ch, cancel := c.mux.Subscribe(c.responseFilter(req), 16)
	defer cancel()

	ctx, stop := c.withTimeout(ctx)
	defer stop()
	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}

	var out []NodeInfo
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out, canbus.ErrClosed
			}
			m, err := MsgFromFrame(f)
			if err != nil || m.Type != TypeNodeInfo {
				continue
			}
			info, err := ParseNodeInfo(m)
			if err != nil {
				continue
			}
			out = append(out, info)
			if node != BroadcastAddress {
				return out, nil
			}
		case <-ctx.Done():
			if len(out) == 0 && node != BroadcastAddress {
				return nil, ErrTimeout
			}
			return out, nil
		}
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// responseFilter matches replies to req: response group, same sequence
// number, addressed to this client and, for unicast requests, sent by the
// requested node. A NODE_ID write is answered from the new address, so that
// address is accepted as well.
func (c *Client) responseFilter(req Msg) canbus.FrameFilter {
	from := req.Destination
	if req.Type == TypeSetReg && req.DLC == 3 && Register(req.Data[0]) == RegNodeID {
		from = binary.BigEndian.Uint16(req.Data[1:3]) & addressMask
	}
	return func(f canbus.Frame) bool {
		if !f.Extended || f.RTR {
			return false
		}
		_, t, seq, dst, src := DecodeID(f.ID)
		if !t.InResponseGroup() || seq != req.Seqnum || dst != c.self {
			return false
		}
		return req.Destination == BroadcastAddress || src == req.Destination || src == from
	}
}

func (c *Client) roundTrip(ctx context.Context, req Msg) (Msg, error) {
	ch, cancel := c.mux.Subscribe(c.responseFilter(req), 1)
	defer cancel()

	ctx, stop := c.withTimeout(ctx)
	defer stop()
	if err := c.Send(ctx, req); err != nil {
		return Msg{}, err
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return Msg{}, canbus.ErrClosed
		}
		m, err := MsgFromFrame(f)
		if err != nil {
			return Msg{}, err
		}
		if m.Type == TypeError {
			code := ErrorCode(0)
			if m.DLC > 0 {
				code = ErrorCode(m.Data[0])
			}
			return m, &RemoteError{Node: m.Source, Code: code}
		}
		return m, nil
	case <-ctx.Done():
		return Msg{}, fmt.Errorf("%w: %s to %d", ErrTimeout, req.Type, req.Destination)
	}
}

func registerValue(m Msg, reg uint8) ([]byte, error) {
	p := m.Payload()
	if len(p) == 0 || p[0] != reg {
		return nil, fmt.Errorf("h9: unexpected reply %s", m)
	}
	return append([]byte(nil), p[1:]...), nil
}
