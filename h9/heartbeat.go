package h9

import (
	"context"
	"fmt"
	"time"

	"github.com/notnil/h9can/canbus"
)

// Heartbeat is a NODE_HEARTBEAT broadcast. The single payload byte is a
// counter that wraps at 256, so receivers can spot missed beats.
type Heartbeat struct {
	Node    uint16
	Counter uint8
}

// ParseHeartbeat decodes a NODE_HEARTBEAT message.
func ParseHeartbeat(m Msg) (Heartbeat, error) {
	if m.Type != TypeNodeHeartbeat {
		return Heartbeat{}, fmt.Errorf("h9: %s is not a heartbeat", m.Type)
	}
	if m.DLC < 1 {
		return Heartbeat{}, fmt.Errorf("h9: heartbeat too short: %d", m.DLC)
	}
	return Heartbeat{Node: m.Source, Counter: m.Data[0]}, nil
}

// RunHeartbeat broadcasts NODE_HEARTBEAT every interval until ctx ends.
// Beats are skipped while the node has no address.
func (s *Stack) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	var counter uint8
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if s.node.Address() == UnsetAddress {
			continue
		}
		m := s.NewMsg(TypeNodeHeartbeat, BroadcastAddress)
		m.SetPayload(counter)
		if s.Submit(m) != Rejected {
			counter++
		}
	}
}

// SubscribeHeartbeats delivers heartbeats seen through mux. When node is
// not zero only heartbeats from that node are delivered. The channel is
// closed after cancel is called or the mux closes.
func SubscribeHeartbeats(mux *canbus.Mux, node uint16, buffer int) (<-chan Heartbeat, func()) {
	frames, cancel := mux.Subscribe(func(f canbus.Frame) bool {
		if !f.Extended || f.RTR || f.Len < 1 {
			return false
		}
		_, t, _, _, src := DecodeID(f.ID)
		return t == TypeNodeHeartbeat && (node == UnsetAddress || src == node)
	}, buffer)

	out := make(chan Heartbeat, buffer)
	go func() {
		defer close(out)
		for f := range frames {
			m, err := MsgFromFrame(f)
			if err != nil {
				continue
			}
			hb, err := ParseHeartbeat(m)
			if err != nil {
				continue
			}
			out <- hb
		}
	}()
	return out, cancel
}
