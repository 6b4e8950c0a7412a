package h9

import (
	"fmt"
	"strings"
)

// Field widths of the 29-bit identifier.
const (
	PriorityBits = 1
	TypeBits     = 5
	SeqnumBits   = 5
	AddressBits  = 9
)

// Address values.
const (
	BroadcastAddress uint16 = 0x1FF
	UnsetAddress     uint16 = 0
	MaxNodeAddress   uint16 = BroadcastAddress - 1
	addressMask      uint16 = 1<<AddressBits - 1
)

// Priority is the single arbitration bit carried first on the wire.
type Priority uint8

const (
	PriorityHigh Priority = 0
	PriorityLow  Priority = 1
)

// Type is the 5-bit message type.
type Type uint8

// Bootloader group.
const (
	TypeNOP Type = iota
	TypePageStart
	TypeQuitBootloader
	TypePageFill
	TypeBootloaderTurnedOn
	TypePageFillNext
	TypePageWrited
	TypePageFillBreak
)

// Standard node group.
const (
	TypeSetReg Type = iota + 8
	TypeGetReg
	TypeSetBit
	TypeClearBit
	TypeToggleBit
	TypeNodeUpgrade
	TypeNodeReset
	TypeDiscover
)

// Response group.
const (
	TypeRegExternallyChanged Type = iota + 16
	TypeRegInternallyChanged
	TypeRegValueBroadcast
	TypeRegValue
	TypeError
	TypeNodeHeartbeat
	TypeNodeInfo
	TypeNodeTurnedOn
)

// Node specific bulk group: TypeBulk0 .. TypeBulk0+7.
const TypeBulk0 Type = 24

// Group values and masks over Type.
const (
	standardGroup, standardGroupMask    Type = 8, 24
	broadcastSubgroup, broadcastSubMask Type = 14, 30
	responseGroup, responseGroupMask    Type = 16, 24
	allRemoteGroup, allRemoteGroupMask  Type = 16, 16
)

var typeNames = [...]string{
	"NOP", "PAGE_START", "QUIT_BOOTLOADER", "PAGE_FILL",
	"BOOTLOADER_TURNED_ON", "PAGE_FILL_NEXT", "PAGE_WRITED", "PAGE_FILL_BREAK",
	"SET_REG", "GET_REG", "SET_BIT", "CLEAR_BIT",
	"TOGGLE_BIT", "NODE_UPGRADE", "NODE_RESET", "DISCOVER",
	"REG_EXTERNALLY_CHANGED", "REG_INTERNALLY_CHANGED", "REG_VALUE_BROADCAST", "REG_VALUE",
	"ERROR", "NODE_HEARTBEAT", "NODE_INFO", "NODE_TURNED_ON",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	if t <= 31 {
		return fmt.Sprintf("NODE_SPECIFIC_BULK%d", t-TypeBulk0)
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType resolves a type name (case-insensitive) as printed by String.
func ParseType(s string) (Type, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i := Type(0); i <= 31; i++ {
		if i.String() == s {
			return i, true
		}
	}
	return 0, false
}

func (t Type) in(group, mask Type) bool { return t&mask == group }

// InStandardGroup reports whether t is one of the node request types (8..15).
func (t Type) InStandardGroup() bool { return t.in(standardGroup, standardGroupMask) }

// InBroadcastSubgroup reports whether t may be addressed to the broadcast address (14, 15).
func (t Type) InBroadcastSubgroup() bool { return t.in(broadcastSubgroup, broadcastSubMask) }

// InResponseGroup reports whether t is a node response type (16..23).
func (t Type) InResponseGroup() bool { return t.in(responseGroup, responseGroupMask) }

// InAllRemoteGroup reports whether t belongs to the observable traffic classes (16..31).
func (t Type) InAllRemoteGroup() bool { return t.in(allRemoteGroup, allRemoteGroupMask) }

// Msg is one H9 protocol message, carried in a single extended CAN data frame.
type Msg struct {
	Priority    Priority
	Type        Type
	Seqnum      uint8
	Destination uint16
	Source      uint16
	DLC         uint8
	Data        [8]byte
}

// Payload returns the valid data bytes.
func (m Msg) Payload() []byte {
	n := m.DLC
	if n > 8 {
		n = 8
	}
	return m.Data[:n]
}

// SetPayload copies p into the message and sets DLC; bytes beyond 8 are dropped.
func (m *Msg) SetPayload(p ...byte) {
	m.Data = [8]byte{}
	m.DLC = uint8(copy(m.Data[:], p))
}

func (m Msg) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s prio=%d seq=%d %03X->%03X [%d]", m.Type, m.Priority, m.Seqnum, m.Source, m.Destination, m.DLC)
	for _, c := range m.Payload() {
		fmt.Fprintf(&b, " %02X", c)
	}
	return b.String()
}
