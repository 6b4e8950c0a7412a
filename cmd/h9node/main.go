// Command h9node runs an H9 node on a CAN bus and talks to other nodes.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notnil/h9can/h9"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes seen by the supervisor.
const (
	exitError   = 1
	exitReset   = 3
	exitUpgrade = 4
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "h9node",
		Short: "H9 protocol node for CAN buses",
		Long: `h9node runs the node side of the H9 protocol on a SocketCAN interface
and provides client commands to inspect and configure other nodes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		idCmd(),
		getCmd(),
		setCmd(),
		bitCmd("set-bit", h9.TypeSetBit),
		bitCmd("clear-bit", h9.TypeClearBit),
		bitCmd("toggle-bit", h9.TypeToggleBit),
		discoverCmd(),
		resetCmd(),
		heartbeatsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, h9.ErrReset):
		return exitReset
	case errors.Is(err, h9.ErrUpgrade):
		return exitUpgrade
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return exitError
	}
}
