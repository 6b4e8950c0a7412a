package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/notnil/h9can/h9"
)

type recorder struct{ sent []h9.Msg }

func (r *recorder) BeginTransmit(id uint32, dlc uint8, data [8]byte) bool {
	f := h9.Msg{DLC: dlc, Data: data}
	f.Priority, f.Type, f.Seqnum, f.Destination, f.Source = h9.DecodeID(id)
	r.sent = append(r.sent, f)
	return true
}

func (r *recorder) last(t *testing.T) h9.Msg {
	t.Helper()
	if len(r.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return r.sent[len(r.sent)-1]
}

const self uint16 = 0x020

func newBank(t *testing.T) (*Bank, *h9.Stack, *recorder) {
	t.Helper()
	b, err := NewBank([]Def{
		{Index: 10, Size: 2, Value: []byte{0x01}, Writable: true},
		{Index: 11, Size: 1, Value: []byte{0x7F}},
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	node, err := h9.NewNode(h9.Identity{NodeType: 1}, h9.NewMemoryStore(self))
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	return b, h9.NewStack(node, rec), rec
}

func req(t h9.Type, payload ...byte) h9.Msg {
	m := h9.Msg{Type: t, Seqnum: 3, Destination: self, Source: 0x001}
	m.SetPayload(payload...)
	return m
}

func TestNewBank_Validation(t *testing.T) {
	cases := [][]Def{
		{{Index: 9, Size: 1}},
		{{Index: 10, Size: 0}},
		{{Index: 10, Size: 8}},
		{{Index: 10, Size: 1, Value: []byte{1, 2}}},
		{{Index: 10, Size: 1}, {Index: 10, Size: 1}},
	}
	for i, defs := range cases {
		if _, err := NewBank(defs, zerolog.Nop()); err == nil {
			t.Fatalf("case %d accepted", i)
		}
	}
}

func TestBank_GetAndSet(t *testing.T) {
	b, s, rec := newBank(t)

	b.Serve(s, req(h9.TypeGetReg, 10))
	if m := rec.last(t); m.Type != h9.TypeRegValue || !bytes.Equal(m.Payload(), []byte{10, 0x00, 0x01}) || m.Seqnum != 3 {
		t.Fatalf("get: %v", m)
	}

	b.Serve(s, req(h9.TypeSetReg, 10, 0xAB, 0xCD))
	if m := rec.last(t); m.Type != h9.TypeRegExternallyChanged || !bytes.Equal(m.Payload(), []byte{10, 0xAB, 0xCD}) {
		t.Fatalf("set: %v", m)
	}
	if v, _ := b.Read(10); !bytes.Equal(v, []byte{0xAB, 0xCD}) {
		t.Fatalf("value: % X", v)
	}
}

func TestBank_Errors(t *testing.T) {
	cases := []struct {
		name string
		req  h9.Msg
		code h9.ErrorCode
	}{
		{"unknown register", req(h9.TypeGetReg, 12), h9.ErrorInvalidRegister},
		{"read only", req(h9.TypeSetReg, 11, 1), h9.ErrorReadOnlyRegister},
		{"read only bit", req(h9.TypeSetBit, 11, 0), h9.ErrorReadOnlyRegister},
		{"size", req(h9.TypeSetReg, 10, 1), h9.ErrorRegisterSizeMismatch},
		{"bit range", req(h9.TypeToggleBit, 10, 16), h9.ErrorInvalidMsg},
		{"unsupported type", req(h9.TypeNodeUpgrade, 10), h9.ErrorInvalidMsg},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, s, rec := newBank(t)
			b.Serve(s, c.req)
			m := rec.last(t)
			if m.Type != h9.TypeError || h9.ErrorCode(m.Data[0]) != c.code || m.Destination != 0x001 {
				t.Fatalf("got %v want %s", m, c.code)
			}
		})
	}
}

func TestBank_BitOps(t *testing.T) {
	b, s, rec := newBank(t)
	steps := []struct {
		typ  h9.Type
		bit  byte
		want []byte
	}{
		{h9.TypeSetBit, 15, []byte{0x80, 0x01}},
		{h9.TypeClearBit, 0, []byte{0x80, 0x00}},
		{h9.TypeToggleBit, 9, []byte{0x82, 0x00}},
		{h9.TypeToggleBit, 9, []byte{0x80, 0x00}},
	}
	for _, st := range steps {
		b.Serve(s, req(st.typ, 10, st.bit))
		m := rec.last(t)
		if m.Type != h9.TypeRegExternallyChanged || !bytes.Equal(m.Payload()[1:], st.want) {
			t.Fatalf("%s bit %d: got %v want % X", st.typ, st.bit, m, st.want)
		}
	}
}

func TestBank_UpdateBroadcasts(t *testing.T) {
	b, s, rec := newBank(t)
	if err := b.Update(s, 11, []byte{0x05}); err != nil {
		t.Fatal(err)
	}
	m := rec.last(t)
	if m.Type != h9.TypeRegInternallyChanged || m.Destination != h9.BroadcastAddress || !bytes.Equal(m.Payload(), []byte{11, 0x05}) {
		t.Fatalf("broadcast: %v", m)
	}
	if err := b.Update(nil, 11, []byte{1, 2}); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("size: %v", err)
	}
	if err := b.Update(nil, 40, []byte{1}); !errors.Is(err, ErrUnknownRegister) {
		t.Fatalf("unknown: %v", err)
	}
	snap := b.Snapshot()
	if len(snap) != 2 || snap[0].Index != 10 || snap[1].Index != 11 || snap[1].Value[0] != 0x05 {
		t.Fatalf("snapshot: %+v", snap)
	}
}
