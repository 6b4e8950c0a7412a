// Package config loads the h9node configuration file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/notnil/h9can/h9"
)

// LoopbackInterface selects the in-process bus instead of SocketCAN.
const LoopbackInterface = "loopback"

// Watch is one remote node watch slot.
type Watch struct {
	Node uint16
	All  bool
}

// Register describes one device register served on delegation.
type Register struct {
	Index    uint8
	Size     int
	Value    []byte
	Writable bool
}

// Config is the resolved node configuration.
type Config struct {
	Interface string
	StateFile string

	NodeType         uint16
	HardwareRevision byte
	VersionMajor     uint16
	VersionMinor     uint16
	BuildInfo        string
	MCUType          uint8
	ResetReason      h9.ResetReason
	DefaultAddress   uint16
	Upgrade          bool
	Heartbeat        time.Duration

	Watches   []Watch
	Registers []Register

	Bitrate uint32
	BringUp bool

	HTTPAddr string
	LogLevel string
	LogJSON  bool
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Interface:        "can0",
		HardwareRevision: 'a',
		MCUType:          h9.MCUHost,
		ResetReason:      h9.ResetPowerOn,
		Bitrate:          125000,
		HTTPAddr:         ":9190",
		LogLevel:         "info",
	}
}

// Identity returns the node identity described by c.
func (c Config) Identity() h9.Identity {
	return h9.Identity{
		NodeType:         c.NodeType,
		HardwareRevision: c.HardwareRevision,
		VersionMajor:     c.VersionMajor,
		VersionMinor:     c.VersionMinor,
		BuildInfo:        c.BuildInfo,
		MCUType:          c.MCUType,
		ResetReason:      c.ResetReason,
	}
}

type fileWatch struct {
	Node uint16 `toml:"node"`
	All  bool   `toml:"all"`
}

type fileRegister struct {
	Index    uint8 `toml:"index"`
	Size     int   `toml:"size"`
	Value    []int `toml:"value"`
	Writable bool  `toml:"writable"`
}

type fileConfig struct {
	Interface        string         `toml:"interface"`
	StateFile        string         `toml:"state_file"`
	NodeType         uint16         `toml:"node_type"`
	HardwareRevision string         `toml:"hardware_revision"`
	VersionMajor     uint16         `toml:"version_major"`
	VersionMinor     uint16         `toml:"version_minor"`
	BuildInfo        string         `toml:"build_info"`
	MCUType          uint8          `toml:"mcu_type"`
	ResetReason      string         `toml:"reset_reason"`
	DefaultAddress   uint16         `toml:"default_address"`
	Upgrade          bool           `toml:"upgrade"`
	Heartbeat        string         `toml:"heartbeat"`
	Watch            []fileWatch    `toml:"watch"`
	Registers        []fileRegister `toml:"registers"`
	Bitrate          struct {
		Value   uint32 `toml:"value"`
		BringUp bool   `toml:"bring_up"`
	} `toml:"bitrate"`
	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`
	Log struct {
		Level string `toml:"level"`
		JSON  bool   `toml:"json"`
	} `toml:"log"`
}

// Load reads path and overlays it on Default. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load node config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load node config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("interface") {
		cfg.Interface = strings.TrimSpace(raw.Interface)
	}
	if meta.IsDefined("state_file") {
		cfg.StateFile = strings.TrimSpace(raw.StateFile)
	}
	if meta.IsDefined("node_type") {
		cfg.NodeType = raw.NodeType
	}
	if meta.IsDefined("hardware_revision") {
		if len(raw.HardwareRevision) != 1 {
			return Config{}, fmt.Errorf("hardware_revision must be one character, got %q", raw.HardwareRevision)
		}
		cfg.HardwareRevision = raw.HardwareRevision[0]
	}
	if meta.IsDefined("version_major") {
		cfg.VersionMajor = raw.VersionMajor
	}
	if meta.IsDefined("version_minor") {
		cfg.VersionMinor = raw.VersionMinor
	}
	if meta.IsDefined("build_info") {
		cfg.BuildInfo = raw.BuildInfo
	}
	if meta.IsDefined("mcu_type") {
		cfg.MCUType = raw.MCUType
	}
	if meta.IsDefined("reset_reason") {
		r, err := h9.ParseResetReason(raw.ResetReason)
		if err != nil {
			return Config{}, fmt.Errorf("parse reset_reason: %w", err)
		}
		cfg.ResetReason = r
	}
	if meta.IsDefined("default_address") {
		cfg.DefaultAddress = raw.DefaultAddress
	}
	if meta.IsDefined("upgrade") {
		cfg.Upgrade = raw.Upgrade
	}
	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return Config{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.Heartbeat = d
	}
	if meta.IsDefined("watch") {
		cfg.Watches = make([]Watch, 0, len(raw.Watch))
		for _, w := range raw.Watch {
			cfg.Watches = append(cfg.Watches, Watch{Node: w.Node, All: w.All})
		}
	}
	if meta.IsDefined("registers") {
		cfg.Registers, err = convertRegisters(raw.Registers)
		if err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("bitrate", "value") {
		cfg.Bitrate = raw.Bitrate.Value
	}
	if meta.IsDefined("bitrate", "bring_up") {
		cfg.BringUp = raw.Bitrate.BringUp
	}
	if meta.IsDefined("http", "addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "json") {
		cfg.LogJSON = raw.Log.JSON
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid node config %s: %w", path, err)
	}
	return cfg, nil
}

func convertRegisters(in []fileRegister) ([]Register, error) {
	out := make([]Register, 0, len(in))
	for _, r := range in {
		value := make([]byte, 0, len(r.Value))
		for _, v := range r.Value {
			if v < 0 || v > 0xFF {
				return nil, fmt.Errorf("register %d: value byte %d out of range", r.Index, v)
			}
			value = append(value, byte(v))
		}
		out = append(out, Register{Index: r.Index, Size: r.Size, Value: value, Writable: r.Writable})
	}
	return out, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Interface == "" {
		errs = append(errs, errors.New("interface must not be empty"))
	}
	if len(c.BuildInfo) > h9.MaxBuildInfoLen {
		errs = append(errs, fmt.Errorf("build_info longer than %d bytes", h9.MaxBuildInfoLen))
	}
	if c.DefaultAddress != h9.UnsetAddress && !h9.ValidAddress(c.DefaultAddress) {
		errs = append(errs, fmt.Errorf("default_address 0x%03X out of range", c.DefaultAddress))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat %s must not be negative", c.Heartbeat))
	}
	if len(c.Watches) > h9.MaxWatches {
		errs = append(errs, fmt.Errorf("at most %d watch entries", h9.MaxWatches))
	}
	for _, w := range c.Watches {
		if !h9.ValidAddress(w.Node) {
			errs = append(errs, fmt.Errorf("watch node 0x%03X out of range", w.Node))
		}
	}
	seen := make(map[uint8]bool, len(c.Registers))
	for _, r := range c.Registers {
		if h9.Register(r.Index).Standard() {
			errs = append(errs, fmt.Errorf("register %d is a standard register", r.Index))
		}
		if seen[r.Index] {
			errs = append(errs, fmt.Errorf("register %d defined twice", r.Index))
		}
		seen[r.Index] = true
		if r.Size < 1 || r.Size > 7 {
			errs = append(errs, fmt.Errorf("register %d: size %d not in 1..7", r.Index, r.Size))
		}
		if len(r.Value) > r.Size {
			errs = append(errs, fmt.Errorf("register %d: initial value longer than size", r.Index))
		}
	}
	if c.BringUp && c.Bitrate == 0 {
		errs = append(errs, errors.New("bitrate.value required when bring_up is set"))
	}
	return errors.Join(errs...)
}
