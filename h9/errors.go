package h9

import (
	"errors"
	"fmt"
)

// ErrorCode is the one-byte payload of an ERROR message.
type ErrorCode uint8

const (
	errNone                    ErrorCode = 0
	ErrorInvalidMsg            ErrorCode = 1
	ErrorBootloaderUnsupported ErrorCode = 2
	ErrorInvalidRegister       ErrorCode = 3
	ErrorReadOnlyRegister      ErrorCode = 4
	ErrorWriteOnlyRegister     ErrorCode = 5
	ErrorRegisterSizeMismatch  ErrorCode = 6
	ErrorNodeSpecific          ErrorCode = 0xFF
)

var errorCodeText = map[ErrorCode]string{
	ErrorInvalidMsg:            "INVALID_MSG",
	ErrorBootloaderUnsupported: "BOOTLOADER_UNSUPPORTED",
	ErrorInvalidRegister:       "INVALID_REGISTER",
	ErrorReadOnlyRegister:      "READ_ONLY_REGISTER",
	ErrorWriteOnlyRegister:     "WRITE_ONLY_REGISTER",
	ErrorRegisterSizeMismatch:  "REGISTER_SIZE_MISMATCH",
	ErrorNodeSpecific:          "NODE_SPECIFIC_ERROR",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeText[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}

// RemoteError is an ERROR response received from another node.
type RemoteError struct {
	Node uint16
	Code ErrorCode
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("h9: node %d replied %s", e.Node, e.Code)
}

var (
	// ErrInvalidAddress is returned for node addresses outside 1..0x1FE.
	ErrInvalidAddress = errors.New("h9: invalid node address")
	// ErrReset reports that the node executed a NODE_RESET request.
	ErrReset = errors.New("h9: node reset requested")
	// ErrUpgrade reports that the node entered its upgrade mechanism.
	ErrUpgrade = errors.New("h9: node upgrade requested")
	// ErrTimeout is returned by Client when no response arrives in time.
	ErrTimeout = errors.New("h9: request timed out")
)
