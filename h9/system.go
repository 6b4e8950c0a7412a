package h9

import (
	"fmt"
	"strings"
)

// System is the node's reset and upgrade mechanism.
type System interface {
	// Reset restarts the node. On hardware it never returns; host
	// implementations return and the stack reports a terminal outcome.
	Reset()
	// Upgrade enters the upgrade (bootloader) mechanism. It reports false
	// when this build has no upgrade support.
	Upgrade() bool
}

// NopSystem ignores resets and does not support upgrades.
type NopSystem struct{}

func (NopSystem) Reset()        {}
func (NopSystem) Upgrade() bool { return false }

// ResetReason is the cause of the last node restart.
type ResetReason uint8

const (
	ResetUnknown ResetReason = iota
	ResetPowerOn
	ResetWatchdog
	ResetBrownOut
	ResetExternal
)

var resetReasonNames = map[ResetReason]string{
	ResetUnknown:  "unknown",
	ResetPowerOn:  "power-on",
	ResetWatchdog: "watchdog",
	ResetBrownOut: "brown-out",
	ResetExternal: "external",
}

func (r ResetReason) String() string {
	if s, ok := resetReasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("ResetReason(%d)", uint8(r))
}

// ParseResetReason parses the names printed by ResetReason.String.
func ParseResetReason(s string) (ResetReason, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ResetUnknown, nil
	}
	for r, name := range resetReasonNames {
		if name == s {
			return r, nil
		}
	}
	return ResetUnknown, fmt.Errorf("h9: unknown reset reason %q", s)
}

// MCU identifiers reported by the MCU_TYPE register.
const (
	MCUHost       uint8 = 0
	MCUATmega16M1 uint8 = 1
	MCUATmega32M1 uint8 = 2
	MCUATmega64M1 uint8 = 3
	MCUAT90CAN128 uint8 = 4
	MCUATmega32C1 uint8 = 5
)
