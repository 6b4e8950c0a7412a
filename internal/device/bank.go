// Package device serves the device-specific registers of an h9node.
package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/notnil/h9can/h9"
)

// Def declares one register of the bank.
type Def struct {
	Index    uint8
	Size     int
	Value    []byte
	Writable bool
}

// State is a snapshot of one register.
type State struct {
	Index    uint8  `json:"index"`
	Value    []byte `json:"value"`
	Writable bool   `json:"writable"`
}

var (
	ErrUnknownRegister = errors.New("device: unknown register")
	ErrSizeMismatch    = errors.New("device: value size mismatch")
)

type register struct {
	value    []byte
	writable bool
}

// Bank is an in-memory register bank. Values are big-endian byte strings
// of a fixed size; bit 0 is the least significant bit of the last byte.
type Bank struct {
	mu   sync.Mutex
	regs map[uint8]*register
	log  zerolog.Logger
}

// NewBank builds a bank from defs. Initial values shorter than the register
// are left-padded with zeros.
func NewBank(defs []Def, logger zerolog.Logger) (*Bank, error) {
	b := &Bank{regs: make(map[uint8]*register, len(defs)), log: logger}
	for _, d := range defs {
		if h9.Register(d.Index).Standard() {
			return nil, fmt.Errorf("device: register %d is reserved for the protocol", d.Index)
		}
		if d.Size < 1 || d.Size > 7 {
			return nil, fmt.Errorf("device: register %d size %d not in 1..7", d.Index, d.Size)
		}
		if len(d.Value) > d.Size {
			return nil, fmt.Errorf("device: register %d: %w", d.Index, ErrSizeMismatch)
		}
		if _, dup := b.regs[d.Index]; dup {
			return nil, fmt.Errorf("device: register %d defined twice", d.Index)
		}
		v := make([]byte, d.Size)
		copy(v[d.Size-len(d.Value):], d.Value)
		b.regs[d.Index] = &register{value: v, writable: d.Writable}
	}
	return b, nil
}

// Read returns a copy of the register value.
func (b *Bank) Read(index uint8) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.regs[index]
	if !ok {
		return nil, ErrUnknownRegister
	}
	return append([]byte(nil), r.value...), nil
}

// Update changes a register from the device side, regardless of the
// writable flag, and reports it with REG_INTERNALLY_CHANGED when s is not nil.
func (b *Bank) Update(s *h9.Stack, index uint8, value []byte) error {
	b.mu.Lock()
	r, ok := b.regs[index]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownRegister
	}
	if len(value) != len(r.value) {
		b.mu.Unlock()
		return ErrSizeMismatch
	}
	copy(r.value, value)
	b.mu.Unlock()

	if s != nil {
		m := s.NewMsg(h9.TypeRegInternallyChanged, h9.BroadcastAddress)
		m.SetPayload(append([]byte{index}, value...)...)
		s.Submit(m)
	}
	return nil
}

// Snapshot returns all registers ordered by index.
func (b *Bank) Snapshot() []State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]State, 0, len(b.regs))
	for idx, r := range b.regs {
		out = append(out, State{Index: idx, Value: append([]byte(nil), r.value...), Writable: r.writable})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Serve answers a delegated request.
func (b *Bank) Serve(s *h9.Stack, req h9.Msg) {
	value, code := b.apply(req)
	if code != 0 {
		b.log.Debug().Stringer("req", req).Stringer("code", code).Msg("device request refused")
		s.SendError(req, code)
		return
	}
	res := s.Respond(req)
	res.SetPayload(append([]byte{req.Data[0]}, value...)...)
	s.Submit(res)
}

func (b *Bank) apply(req h9.Msg) ([]byte, h9.ErrorCode) {
	p := req.Payload()
	if len(p) == 0 {
		return nil, h9.ErrorInvalidMsg
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.regs[p[0]]
	if !ok {
		return nil, h9.ErrorInvalidRegister
	}
	switch req.Type {
	case h9.TypeGetReg:
		return append([]byte(nil), r.value...), 0
	case h9.TypeSetReg:
		if !r.writable {
			return nil, h9.ErrorReadOnlyRegister
		}
		if len(p)-1 != len(r.value) {
			return nil, h9.ErrorRegisterSizeMismatch
		}
		copy(r.value, p[1:])
	case h9.TypeSetBit, h9.TypeClearBit, h9.TypeToggleBit:
		if !r.writable {
			return nil, h9.ErrorReadOnlyRegister
		}
		if len(p) != 2 || int(p[1]) >= len(r.value)*8 {
			return nil, h9.ErrorInvalidMsg
		}
		i := len(r.value) - 1 - int(p[1])/8
		mask := byte(1) << (p[1] % 8)
		switch req.Type {
		case h9.TypeSetBit:
			r.value[i] |= mask
		case h9.TypeClearBit:
			r.value[i] &^= mask
		default:
			r.value[i] ^= mask
		}
	default:
		return nil, h9.ErrorInvalidMsg
	}
	b.log.Info().Uint8("register", p[0]).Hex("value", r.value).Uint16("from", req.Source).Msg("device register written")
	return append([]byte(nil), r.value...), 0
}
