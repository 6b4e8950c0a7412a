//go:build !linux

package main

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/notnil/h9can/canbus"
)

func openSocketCAN(iface string, _ uint32, _ bool, _ zerolog.Logger) (canbus.Bus, error) {
	return nil, fmt.Errorf("SocketCAN interface %s is not available on %s", iface, runtime.GOOS)
}
