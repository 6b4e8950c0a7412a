package h9

import (
	"encoding/binary"
	"errors"
)

// Register is a register index carried in the first payload byte of
// SET_REG/GET_REG.
type Register uint8

// Standard registers. Indices at or above StandardRegisterCount belong to
// the device.
const (
	RegNodeType Register = iota
	RegHardwareRevision
	RegVersion
	RegBuildInfo
	RegMCUType
	RegSerialNumber
	RegResetReason
	regReserved7
	regReserved8
	RegNodeID

	StandardRegisterCount
)

// buildInfoRegisterLen is what fits in one REG_VALUE frame after the index byte.
const buildInfoRegisterLen = 6

type standardRegister struct {
	name  string
	read  func(n *Node) []byte
	write func(n *Node, value []byte) ErrorCode
}

var standardRegisters = [StandardRegisterCount]standardRegister{
	RegNodeType: {name: "NODE_TYPE", read: func(n *Node) []byte {
		return binary.BigEndian.AppendUint16(nil, n.id.NodeType)
	}},
	RegHardwareRevision: {name: "HARDWARE_REVISION", read: func(n *Node) []byte {
		return []byte{n.id.HardwareRevision}
	}},
	RegVersion: {name: "VERSION", read: func(n *Node) []byte {
		b := binary.BigEndian.AppendUint16(nil, n.id.VersionMajor)
		return binary.BigEndian.AppendUint16(b, n.id.VersionMinor)
	}},
	RegBuildInfo: {name: "BUILD_INFO", read: func(n *Node) []byte {
		// TODO: continuation frames (counter in byte 7) for descriptors longer than 6 bytes.
		b := make([]byte, buildInfoRegisterLen)
		copy(b, n.id.BuildInfo)
		return b
	}},
	RegMCUType: {name: "MCU_TYPE", read: func(n *Node) []byte {
		return []byte{n.id.MCUType}
	}},
	RegSerialNumber: {name: "SERIAL_NUMBER", read: func(n *Node) []byte {
		return make([]byte, 4)
	}},
	RegResetReason: {name: "RESET_REASON", read: func(n *Node) []byte {
		return []byte{byte(n.id.ResetReason)}
	}},
	regReserved7: {name: "RESERVED"},
	regReserved8: {name: "RESERVED"},
	RegNodeID: {name: "NODE_ID", read: func(n *Node) []byte {
		return binary.BigEndian.AppendUint16(nil, n.Address()&addressMask)
	}, write: writeNodeID},
}

func (r Register) String() string {
	if r < StandardRegisterCount {
		return standardRegisters[r].name
	}
	return "DEVICE"
}

// Standard reports whether r is served by the protocol core.
func (r Register) Standard() bool { return r < StandardRegisterCount }

// ReadRegister returns the current value of a standard register.
func (n *Node) ReadRegister(r Register) ([]byte, ErrorCode) {
	if !r.Standard() || standardRegisters[r].read == nil {
		return nil, ErrorInvalidRegister
	}
	return standardRegisters[r].read(n), errNone
}

// WriteRegister writes a standard register and returns its new value.
func (n *Node) WriteRegister(r Register, value []byte) ([]byte, ErrorCode) {
	if !r.Standard() || standardRegisters[r].read == nil {
		return nil, ErrorInvalidRegister
	}
	reg := standardRegisters[r]
	if reg.write == nil {
		return nil, ErrorReadOnlyRegister
	}
	if code := reg.write(n, value); code != errNone {
		return nil, code
	}
	return reg.read(n), errNone
}

func writeNodeID(n *Node, value []byte) ErrorCode {
	if len(value) != 2 {
		return ErrorRegisterSizeMismatch
	}
	addr := binary.BigEndian.Uint16(value) & addressMask
	if err := n.SetAddress(addr); err != nil {
		if errors.Is(err, ErrInvalidAddress) {
			return ErrorInvalidMsg
		}
		return ErrorNodeSpecific
	}
	return errNone
}
