package h9

import (
	"encoding/binary"
	"errors"

	"github.com/notnil/h9can/canbus"
)

// Bit offsets inside the 29-bit identifier.
//
//	28 | 27..23 | 22..18 | 17..9       | 8..0
//	pp | type   | seqnum | destination | source
const (
	offsetSource      = 0
	offsetDestination = offsetSource + AddressBits
	offsetSeqnum      = offsetDestination + AddressBits
	offsetType        = offsetSeqnum + SeqnumBits
	offsetPriority    = offsetType + TypeBits

	IDMask = 1<<(offsetPriority+PriorityBits) - 1
)

const (
	priorityMask = 1<<PriorityBits - 1
	typeMask     = 1<<TypeBits - 1
	seqnumMask   = 1<<SeqnumBits - 1
)

// ErrNotH9Frame is returned for frames that cannot carry an H9 message.
var ErrNotH9Frame = errors.New("h9: not an extended data frame")

// EncodeID packs the five protocol fields into a 29-bit identifier. Each field
// is truncated to its width.
func EncodeID(priority Priority, typ Type, seqnum uint8, destination, source uint16) uint32 {
	return uint32(priority&priorityMask)<<offsetPriority |
		uint32(typ&typeMask)<<offsetType |
		uint32(seqnum&seqnumMask)<<offsetSeqnum |
		uint32(destination&addressMask)<<offsetDestination |
		uint32(source&addressMask)<<offsetSource
}

// DecodeID unpacks a 29-bit identifier. Bits above bit 28 are ignored.
func DecodeID(id uint32) (priority Priority, typ Type, seqnum uint8, destination, source uint16) {
	priority = Priority(id>>offsetPriority) & priorityMask
	typ = Type(id>>offsetType) & typeMask
	seqnum = uint8(id>>offsetSeqnum) & seqnumMask
	destination = uint16(id>>offsetDestination) & addressMask
	source = uint16(id>>offsetSource) & addressMask
	return
}

// PackID returns the controller's identifier register image (IDT1..IDT4): the
// identifier left-aligned in 32 bits, big-endian.
func PackID(id uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], (id&IDMask)<<3)
	return b
}

// UnpackID is the inverse of PackID.
func UnpackID(b [4]byte) uint32 {
	return binary.BigEndian.Uint32(b[:]) >> 3
}

// ID returns the wire identifier of m.
func (m Msg) ID() uint32 {
	return EncodeID(m.Priority, m.Type, m.Seqnum, m.Destination, m.Source)
}

// setID overwrites the identifier fields of m.
func (m *Msg) setID(id uint32) {
	m.Priority, m.Type, m.Seqnum, m.Destination, m.Source = DecodeID(id)
}

// Frame converts m into an extended CAN data frame.
func (m Msg) Frame() canbus.Frame {
	f := canbus.Frame{ID: m.ID(), Extended: true, Len: m.DLC, Data: m.Data}
	if f.Len > 8 {
		f.Len = 8
	}
	return f
}

// MsgFromFrame decodes a CAN frame into a message.
func MsgFromFrame(f canbus.Frame) (Msg, error) {
	if !f.Extended || f.RTR {
		return Msg{}, ErrNotH9Frame
	}
	if err := f.Validate(); err != nil {
		return Msg{}, err
	}
	var m Msg
	m.setID(f.ID)
	m.DLC = f.Len
	m.Data = f.Data
	return m, nil
}
