package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/notnil/h9can/canbus"
	"github.com/notnil/h9can/h9"
	"github.com/notnil/h9can/internal/config"
	"github.com/notnil/h9can/internal/logging"
)

// clientFlags are shared by the commands that talk to other nodes.
type clientFlags struct {
	iface   string
	self    string
	timeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.iface, "interface", "i", "can0", "CAN interface")
	cmd.Flags().StringVar(&f.self, "self", "0x1FE", "Address this client sends from")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", time.Second, "Response timeout")
}

// withMux opens the bus, runs fn with a mux over it and closes everything.
func (f *clientFlags) withMux(cmd *cobra.Command, fn func(ctx context.Context, bus canbus.Bus, mux *canbus.Mux) error) error {
	lc := logging.DefaultConfig()
	lc.Level = zerolog.WarnLevel
	logger := logging.New("h9node", lc)

	bus, err := openBus(config.Config{Interface: f.iface}, logger)
	if err != nil {
		return err
	}
	defer bus.Close()
	mux := canbus.NewMux(bus)
	defer mux.Close()
	return fn(cmd.Context(), bus, mux)
}

// withClient runs fn with a client sending from the --self address.
func (f *clientFlags) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *h9.Client) error) error {
	self, err := parseAddress(f.self)
	if err != nil {
		return err
	}
	return f.withMux(cmd, func(ctx context.Context, bus canbus.Bus, mux *canbus.Mux) error {
		c, err := h9.NewClient(bus, mux, self, f.timeout)
		if err != nil {
			return err
		}
		return fn(ctx, c)
	})
}

func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil || v > uint64(h9.BroadcastAddress) {
		return 0, fmt.Errorf("invalid node address %q", s)
	}
	return uint16(v), nil
}

func parseByte(what, s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return uint8(v), nil
}

func printValue(cmd *cobra.Command, node uint16, reg uint8, v []byte) {
	name := h9.Register(reg).String()
	fmt.Fprintf(cmd.OutOrStdout(), "node %d register %d (%s): %s\n", node, reg, name, strings.ToUpper(hex.EncodeToString(v)))
}

func getCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "get NODE REGISTER",
		Short: "Read a register of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			reg, err := parseByte("register", args[1])
			if err != nil {
				return err
			}
			return f.withClient(cmd, func(ctx context.Context, c *h9.Client) error {
				v, err := c.GetRegister(ctx, node, reg)
				if err != nil {
					return err
				}
				printValue(cmd, node, reg, v)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func setCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "set NODE REGISTER HEXVALUE",
		Short: "Write a register of a node",
		Long: `Write a register of a node. The value is given in hex, most significant
byte first, e.g. "h9node set 32 9 0040" moves node 32 to address 64.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			reg, err := parseByte("register", args[1])
			if err != nil {
				return err
			}
			value, err := hex.DecodeString(strings.TrimPrefix(args[2], "0x"))
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[2], err)
			}
			return f.withClient(cmd, func(ctx context.Context, c *h9.Client) error {
				v, err := c.SetRegister(ctx, node, reg, value)
				if err != nil {
					return err
				}
				printValue(cmd, node, reg, v)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func bitCmd(use string, t h9.Type) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   use + " NODE REGISTER BIT",
		Short: "Send " + t.String() + " to a device register",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			reg, err := parseByte("register", args[1])
			if err != nil {
				return err
			}
			bit, err := parseByte("bit", args[2])
			if err != nil {
				return err
			}
			return f.withClient(cmd, func(ctx context.Context, c *h9.Client) error {
				var v []byte
				switch t {
				case h9.TypeSetBit:
					v, err = c.SetBit(ctx, node, reg, bit)
				case h9.TypeClearBit:
					v, err = c.ClearBit(ctx, node, reg, bit)
				default:
					v, err = c.ToggleBit(ctx, node, reg, bit)
				}
				if err != nil {
					return err
				}
				printValue(cmd, node, reg, v)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func discoverCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "discover [NODE]",
		Short: "List nodes answering DISCOVER",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node := h9.BroadcastAddress
			if len(args) == 1 {
				var err error
				if node, err = parseAddress(args[0]); err != nil {
					return err
				}
			}
			return f.withClient(cmd, func(ctx context.Context, c *h9.Client) error {
				infos, err := c.Discover(ctx, node)
				if err != nil {
					return err
				}
				for _, i := range infos {
					fmt.Fprintln(cmd.OutOrStdout(), i)
				}
				if len(infos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no nodes answered")
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func resetCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "reset NODE",
		Short: "Send NODE_RESET to a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return f.withClient(cmd, func(ctx context.Context, c *h9.Client) error {
				return c.Reset(ctx, node)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func heartbeatsCmd() *cobra.Command {
	var (
		f     clientFlags
		count int
	)
	cmd := &cobra.Command{
		Use:   "heartbeats [NODE]",
		Short: "Print NODE_HEARTBEAT broadcasts",
		Long: `Print NODE_HEARTBEAT broadcasts until interrupted, or until --count
heartbeats were seen. With NODE only that node's heartbeats are shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var node uint16
			if len(args) == 1 {
				var err error
				if node, err = parseAddress(args[0]); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return f.withMux(cmd, func(_ context.Context, _ canbus.Bus, mux *canbus.Mux) error {
				beats, cancel := h9.SubscribeHeartbeats(mux, node, 16)
				defer cancel()
				for seen := 0; count == 0 || seen < count; seen++ {
					select {
					case <-ctx.Done():
						return nil
					case hb, ok := <-beats:
						if !ok {
							return nil
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s node %d counter %d\n", time.Now().Format(time.TimeOnly), hb.Node, hb.Counter)
					}
				}
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many heartbeats; 0 runs until interrupted")
	return cmd
}
