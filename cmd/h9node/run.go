package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/notnil/h9can/canbus"
	"github.com/notnil/h9can/h9"
	"github.com/notnil/h9can/internal/config"
	"github.com/notnil/h9can/internal/device"
	"github.com/notnil/h9can/internal/logging"
	"github.com/notnil/h9can/internal/observability"
	"github.com/notnil/h9can/internal/server"
	"github.com/notnil/h9can/internal/store"
)

func runCmd() *cobra.Command {
	var (
		configPath  string
		iface       string
		httpAddr    string
		resetReason string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node",
		Long: `Run the H9 node: answer discovery and register requests, serve the
device registers from the configuration and expose status, metrics and a
traffic tap over HTTP.

A NODE_RESET request exits with status 3 and an accepted NODE_UPGRADE with
status 4 so a supervisor can restart or upgrade the node.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interface") {
				cfg.Interface = iface
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("reset-reason") {
				if cfg.ResetReason, err = h9.ParseResetReason(resetReason); err != nil {
					return err
				}
			}
			if cfg.BuildInfo == "" && commit != "none" {
				cfg.BuildInfo = commit
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the node configuration (TOML)")
	cmd.Flags().StringVarP(&iface, "interface", "i", "", "CAN interface, or \"loopback\"")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address; empty disables it")
	cmd.Flags().StringVar(&resetReason, "reset-reason", "", "Reported reset reason (power-on, watchdog, brown-out, external, unknown)")

	return cmd
}

func loggerFor(cfg config.Config) zerolog.Logger {
	lc := logging.DefaultConfig()
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		lc.Level = lvl
	}
	lc.JSON = cfg.LogJSON
	return logging.New("h9node", lc)
}

// hostSystem maps reset and upgrade requests to a process exit.
type hostSystem struct {
	upgrade bool
	log     zerolog.Logger
}

func (s hostSystem) Reset() {
	s.log.Warn().Msg("reset requested, shutting down")
}

func (s hostSystem) Upgrade() bool {
	if s.upgrade {
		s.log.Warn().Msg("upgrade requested, shutting down")
	}
	return s.upgrade
}

// loopback is the in-process bus behind the "loopback" interface. Nodes and
// clients in one process share it.
var loopback = canbus.NewLoopbackBus()

func openBus(cfg config.Config, logger zerolog.Logger) (canbus.Bus, error) {
	var (
		bus canbus.Bus
		err error
	)
	if cfg.Interface == config.LoopbackInterface {
		bus = loopback.Open()
	} else {
		bus, err = openSocketCAN(cfg.Interface, cfg.Bitrate, cfg.BringUp, logger)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Interface, err)
		}
	}
	return canbus.NewLoggedBus(bus, logger.With().Str("component", "canbus").Logger(), zerolog.TraceLevel, canbus.LogAll, nil), nil
}

func openStore(cfg config.Config) h9.AddressStore {
	if cfg.StateFile == "" {
		return h9.NewMemoryStore(h9.UnsetAddress)
	}
	return store.NewFile(cfg.StateFile)
}

func bankDefs(regs []config.Register) []device.Def {
	defs := make([]device.Def, 0, len(regs))
	for _, r := range regs {
		defs = append(defs, device.Def{Index: r.Index, Size: r.Size, Value: r.Value, Writable: r.Writable})
	}
	return defs
}

func runNode(ctx context.Context, cfg config.Config) error {
	logger := loggerFor(cfg)

	node, err := h9.NewNode(cfg.Identity(), openStore(cfg))
	if err != nil {
		return err
	}
	if node.Address() == h9.UnsetAddress && cfg.DefaultAddress != h9.UnsetAddress {
		if err := node.SetAddress(cfg.DefaultAddress); err != nil {
			return err
		}
	}
	logger = logger.With().Uint16("node_type", cfg.NodeType).Logger()

	bank, err := device.NewBank(bankDefs(cfg.Registers), logger.With().Str("component", "device").Logger())
	if err != nil {
		return err
	}

	bus, err := openBus(cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return err
	}

	tap := server.NewTap(logger)
	defer tap.Close()

	tr := h9.NewBusTransport(bus, node, logger.With().Str("component", "transport").Logger())
	for i, w := range cfg.Watches {
		if err := tr.Watch(i, w.Node, w.All); err != nil {
			return err
		}
	}

	stack := h9.NewStack(node, tr,
		h9.WithLogger(logger.With().Str("component", "stack").Logger()),
		h9.WithSystem(hostSystem{upgrade: cfg.Upgrade, log: logger}),
		h9.WithMetrics(metrics),
		h9.WithMonitor(tap.Monitor),
	)
	if err := observability.TrackStack(reg, stack); err != nil {
		return err
	}

	var ln net.Listener
	if cfg.HTTPAddr != "" {
		if ln, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
		}
		logger.Info().Str("addr", ln.Addr().String()).Msg("http listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tr.Run(gctx, stack) })
	g.Go(func() error {
		return stack.Serve(gctx, bank, func(m h9.Msg) {
			logger.Debug().Stringer("msg", m).Msg("observed")
		})
	})
	if cfg.Heartbeat > 0 {
		g.Go(func() error { return stack.RunHeartbeat(gctx, cfg.Heartbeat) })
	}

	if ln != nil {
		srv := &http.Server{
			Handler: server.NewHandler(server.Options{
				Stack:    stack,
				Bank:     bank,
				Watches:  tr,
				Gatherer: reg,
				Tap:      tap,
				Logger:   logger.With().Str("component", "http").Logger(),
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			tap.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if node.Address() == h9.UnsetAddress {
		logger.Warn().Msg("node address not configured; set register NODE_ID to assign one")
	}
	if r := stack.AnnounceTurnedOn(); r == h9.Rejected {
		logger.Warn().Msg("turned-on announcement rejected")
	}
	logger.Info().
		Str("interface", cfg.Interface).
		Uint16("address", node.Address()).
		Stringer("reset_reason", cfg.ResetReason).
		Msg("node started")

	err = g.Wait()
	switch {
	case errors.Is(err, h9.ErrReset), errors.Is(err, h9.ErrUpgrade):
		logger.Warn().Err(err).Msg("node stopping")
		return err
	case err != nil:
		return err
	}
	logger.Info().Msg("node stopped")
	return nil
}
