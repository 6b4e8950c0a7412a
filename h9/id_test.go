package h9

import (
	"errors"
	"testing"

	"github.com/notnil/h9can/canbus"
)

func TestEncodeDecodeID_RoundTrip(t *testing.T) {
	cases := []struct {
		prio Priority
		typ  Type
		seq  uint8
		dst  uint16
		src  uint16
	}{
		{PriorityHigh, TypeNOP, 0, 0, 0},
		{PriorityLow, TypeBulk0 + 7, 31, 0x1FF, 0x1FF},
		{PriorityHigh, TypeGetReg, 5, 0x020, 0x001},
		{PriorityLow, TypeNodeInfo, 17, 0x001, 0x1FE},
		{PriorityHigh, TypeDiscover, 30, BroadcastAddress, 0x100},
	}
	for _, c := range cases {
		id := EncodeID(c.prio, c.typ, c.seq, c.dst, c.src)
		if id > IDMask {
			t.Fatalf("id %08X exceeds 29 bits", id)
		}
		p, ty, s, d, sr := DecodeID(id)
		if p != c.prio || ty != c.typ || s != c.seq || d != c.dst || sr != c.src {
			t.Fatalf("round trip mismatch for %+v: got %d %d %d %d %d", c, p, ty, s, d, sr)
		}
	}
}

func TestEncodeID_Layout(t *testing.T) {
	// priority=1, type=9, seq=5, dst=0x020, src=0x001
	id := EncodeID(PriorityLow, TypeGetReg, 5, 0x020, 0x001)
	want := uint32(1)<<28 | 9<<23 | 5<<18 | 0x020<<9 | 0x001
	if id != want {
		t.Fatalf("id: got %08X want %08X", id, want)
	}
	if got := EncodeID(PriorityHigh, 0, 0, 0, 0x1FF); got != 0x1FF {
		t.Fatalf("source bits: got %08X", got)
	}
	if got := EncodeID(PriorityLow, 0, 0, 0, 0); got != 0x10000000 {
		t.Fatalf("priority bit: got %08X", got)
	}
}

func TestEncodeID_TruncatesFields(t *testing.T) {
	id := EncodeID(Priority(3), Type(0x3F), 0xFF, 0xFFFF, 0xFFFF)
	if id != IDMask {
		t.Fatalf("got %08X want %08X", id, uint32(IDMask))
	}
	// Overflowing source must not leak into destination.
	if _, _, _, d, s := DecodeID(EncodeID(0, 0, 0, 0, 0x3FF)); d != 0 || s != 0x1FF {
		t.Fatalf("source overflow leaked: dst=%X src=%X", d, s)
	}
}

func TestDecodeID_IgnoresUpperBits(t *testing.T) {
	id := EncodeID(PriorityLow, TypeError, 3, 7, 9)
	p, ty, s, d, sr := DecodeID(id | 0xE0000000)
	if p != PriorityLow || ty != TypeError || s != 3 || d != 7 || sr != 9 {
		t.Fatalf("upper bits changed decode: %d %d %d %d %d", p, ty, s, d, sr)
	}
}

func TestPackID(t *testing.T) {
	id := EncodeID(PriorityLow, TypeNodeTurnedOn, 1, BroadcastAddress, 0x020)
	b := PackID(id)
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if v != id<<3 {
		t.Fatalf("register image: got %08X want %08X", v, id<<3)
	}
	if UnpackID(b) != id {
		t.Fatalf("unpack: got %08X want %08X", UnpackID(b), id)
	}
}

func TestMsgFrameConversion(t *testing.T) {
	m := Msg{Priority: PriorityHigh, Type: TypeSetReg, Seqnum: 4, Destination: 0x30, Source: 0x12}
	m.SetPayload(9, 0x01, 0xFE)
	f := m.Frame()
	if !f.Extended || f.RTR || f.Len != 3 {
		t.Fatalf("frame: %+v", f)
	}
	back, err := MsgFromFrame(f)
	if err != nil {
		t.Fatalf("from frame: %v", err)
	}
	if back != m {
		t.Fatalf("got %v want %v", back, m)
	}

	if _, err := MsgFromFrame(canbus.MustFrame(0x123, nil)); !errors.Is(err, ErrNotH9Frame) {
		t.Fatalf("standard frame: got %v", err)
	}
	rtr := f
	rtr.RTR = true
	if _, err := MsgFromFrame(rtr); !errors.Is(err, ErrNotH9Frame) {
		t.Fatalf("rtr frame: got %v", err)
	}
}

func TestTypeGroups(t *testing.T) {
	for ty := Type(0); ty < 32; ty++ {
		if got, want := ty.InStandardGroup(), ty >= 8 && ty <= 15; got != want {
			t.Fatalf("%s standard: got %v", ty, got)
		}
		if got, want := ty.InBroadcastSubgroup(), ty == 14 || ty == 15; got != want {
			t.Fatalf("%s broadcast: got %v", ty, got)
		}
		if got, want := ty.InResponseGroup(), ty >= 16 && ty <= 23; got != want {
			t.Fatalf("%s response: got %v", ty, got)
		}
		if got, want := ty.InAllRemoteGroup(), ty >= 16; got != want {
			t.Fatalf("%s remote: got %v", ty, got)
		}
		if p, ok := ParseType(ty.String()); !ok || p != ty {
			t.Fatalf("parse %q: got %v %v", ty.String(), p, ok)
		}
	}
}

func TestMsgString(t *testing.T) {
	m := Msg{Priority: PriorityLow, Type: TypeRegValue, Seqnum: 2, Destination: 0x1, Source: 0x20}
	m.SetPayload(9, 0x00, 0x20)
	if got, want := m.String(), "REG_VALUE prio=1 seq=2 020->001 [3] 09 00 20"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
