//go:build linux

package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notnil/h9can/canbus"
)

// openSocketCAN opens iface for H9 traffic, optionally configuring the
// bitrate first.
func openSocketCAN(iface string, bitrate uint32, bringUp bool, logger zerolog.Logger) (canbus.Bus, error) {
	if bringUp {
		if err := canbus.SetInterfaceDown(iface); err != nil {
			return nil, err
		}
		if err := canbus.ConfigureLinuxCANInterface(iface, canbus.LinuxCANInterfaceOptions{Bitrate: bitrate}); err != nil {
			return nil, err
		}
		if err := canbus.SetInterfaceUp(iface); err != nil {
			return nil, err
		}
		logger.Info().Str("interface", iface).Uint32("bitrate", bitrate).Msg("interface configured")
	}
	up, err := canbus.IsInterfaceUp(iface)
	if err != nil {
		return nil, err
	}
	if !up {
		return nil, fmt.Errorf("interface %s is down", iface)
	}
	return canbus.DialSocketCAN(iface, canbus.ExtendedDataFilter)
}
