package h9

import (
	"testing"

	"github.com/notnil/h9can/canbus"
)

func frameOf(t Type, dst, src uint16) canbus.Frame {
	m := Msg{Priority: PriorityLow, Type: t, Seqnum: 1, Destination: dst, Source: src}
	return m.Frame()
}

func TestAcceptFilter(t *testing.T) {
	const self uint16 = 0x020
	watches := []Watch{{Node: 0x030}, {Node: 0x031, All: true}, {}}
	accept := AcceptFilter(self, watches)

	cases := []struct {
		name string
		f    canbus.Frame
		want bool
	}{
		{"get reg to self", frameOf(TypeGetReg, self, 0x001), true},
		{"get reg to other", frameOf(TypeGetReg, 0x021, 0x001), false},
		{"discover broadcast", frameOf(TypeDiscover, BroadcastAddress, 0x001), true},
		{"reset broadcast", frameOf(TypeNodeReset, BroadcastAddress, 0x001), true},
		{"discover to self", frameOf(TypeDiscover, self, 0x001), true},
		{"set reg broadcast", frameOf(TypeSetReg, BroadcastAddress, 0x001), false},
		{"response from watched", frameOf(TypeRegValue, 0x001, 0x030), true},
		{"bulk from watched responses only", frameOf(TypeBulk0, 0x001, 0x030), false},
		{"bulk from watched all", frameOf(TypeBulk0+2, 0x001, 0x031), true},
		{"response from unwatched", frameOf(TypeRegValue, 0x001, 0x040), false},
		{"response to self", frameOf(TypeError, self, 0x040), false},
		{"bootloader to self", frameOf(TypePageFill, self, 0x001), false},
		{"standard frame", canbus.MustFrame(0x020, nil), false},
	}
	for _, c := range cases {
		if got := accept(c.f); got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}

	rtr := frameOf(TypeGetReg, self, 0x001)
	rtr.RTR = true
	if accept(rtr) {
		t.Fatalf("rtr frame accepted")
	}
}

func TestAcceptFilter_NoWatches(t *testing.T) {
	accept := AcceptFilter(0x100, nil)
	if accept(frameOf(TypeNodeHeartbeat, BroadcastAddress, 0x001)) {
		t.Fatalf("remote traffic accepted without watches")
	}
	if !accept(frameOf(TypeSetBit, 0x100, 0x001)) {
		t.Fatalf("request to self rejected")
	}
}
