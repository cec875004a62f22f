// Package config handles mctpd configuration loading using viper.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/internal/logger"
	"avaneesh/mctp-go/pkg/packet"
	"avaneesh/mctp-go/pkg/reassembly"
	"avaneesh/mctp-go/pkg/router"
)

// Bus types
const (
	BusLoopback = "loopback"
	BusUDP      = "udp"
	BusTCP      = "tcp"
	BusSerial   = "serial"
	BusQUIC     = "quic"
)

// Config is the daemon configuration.
// Maps to the `mctpd:` root key in YAML; env vars use the MCTPD_ prefix
// (e.g. MCTPD_NODE_EID).
type Config struct {
	Node       NodeConfig       `mapstructure:"node" yaml:"node"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly" yaml:"reassembly"`
	Buses      []BusConfig      `mapstructure:"buses" yaml:"buses"`
	Routes     RoutesConfig     `mapstructure:"routes" yaml:"routes"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// ─── Node ───

// NodeConfig contains endpoint identity and router sizing.
type NodeConfig struct {
	// 0 = unassigned
	EID int `mapstructure:"eid" yaml:"eid"`
	// Additional local endpoints
	LocalEIDs []int `mapstructure:"local_eids" yaml:"local_eids"`

	MTU             int    `mapstructure:"mtu" yaml:"mtu"`
	Bridging        bool   `mapstructure:"bridging" yaml:"bridging"`
	RouteCapacity   int    `mapstructure:"route_capacity" yaml:"route_capacity"`
	LocalCapacity   int    `mapstructure:"local_capacity" yaml:"local_capacity"`
	Listeners       int    `mapstructure:"listeners" yaml:"listeners"`
	Requests        int    `mapstructure:"requests" yaml:"requests"`
	RxBufferSize    int    `mapstructure:"rx_buffer_size" yaml:"rx_buffer_size"`
	MaxPollPackets  int    `mapstructure:"max_poll_packets" yaml:"max_poll_packets"`
	TagTimeoutTicks uint32 `mapstructure:"tag_timeout_ticks" yaml:"tag_timeout_ticks"`

	// Age tick period
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	// Bus drain period
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ─── Reassembly ───

// ReassemblyConfig sizes the inbound reassembly table.
type ReassemblyConfig struct {
	Slots          int    `mapstructure:"slots" yaml:"slots"`
	MaxMessageSize int    `mapstructure:"max_message_size" yaml:"max_message_size"`
	TimeoutTicks   uint32 `mapstructure:"timeout_ticks" yaml:"timeout_ticks"`
}

// ─── Buses ───

// BusConfig describes one physical binding.
type BusConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// loopback | udp | tcp | serial | quic
	Type string `mapstructure:"type" yaml:"type"`
	// udp, tcp and quic endpoint
	Address string `mapstructure:"address" yaml:"address,omitempty"`
	// Listen instead of connect
	Server bool `mapstructure:"server" yaml:"server,omitempty"`
	// serial device path
	Device string `mapstructure:"device" yaml:"device,omitempty"`
	// loopback: the bus holding the other end
	Peer string `mapstructure:"peer" yaml:"peer,omitempty"`

	QueueDepth    int           `mapstructure:"queue_depth" yaml:"queue_depth"`
	MaxPacketSize int           `mapstructure:"max_packet_size" yaml:"max_packet_size"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	Disabled      bool          `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// ─── Routes ───

// RoutesConfig points at the route sources loaded at startup.
type RoutesConfig struct {
	// TOML route file
	StaticFile string `mapstructure:"static_file" yaml:"static_file,omitempty"`
	// BoltDB route store
	Store string `mapstructure:"store" yaml:"store,omitempty"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format string           `mapstructure:"format" yaml:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures rotated file log output.
type FileOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `mctpd: ...`.
type configRoot struct {
	Mctpd Config `mapstructure:"mctpd" yaml:"mctpd"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// "mctpd.node.eid" -> MCTPD_NODE_EID
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Mctpd

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration written by `mctpd gen-config`
func Default() *Config {
	rc := router.DefaultConfig()
	return &Config{
		Node: NodeConfig{
			EID:             8,
			MTU:             rc.MTU,
			Bridging:        rc.Bridging,
			RouteCapacity:   rc.RouteCapacity,
			LocalCapacity:   rc.LocalCapacity,
			Listeners:       rc.Listeners,
			Requests:        rc.Requests,
			RxBufferSize:    rc.RxBufferSize,
			MaxPollPackets:  rc.MaxPollPackets,
			TagTimeoutTicks: rc.TagTimeoutTicks,
			TickInterval:    100 * time.Millisecond,
			PollInterval:    5 * time.Millisecond,
		},
		Reassembly: ReassemblyConfig{
			Slots:          rc.Reassembly.Slots,
			MaxMessageSize: rc.Reassembly.MaxMessageSize,
			TimeoutTicks:   rc.Reassembly.TimeoutTicks,
		},
		Buses: []BusConfig{
			{Name: "udp0", Type: BusUDP, Address: "127.0.0.1:7500", Server: true, QueueDepth: 16, MaxPacketSize: 1024, WriteTimeout: 2 * time.Millisecond},
		},
		Routes: RoutesConfig{
			StaticFile: "/etc/mctpd/routes.toml",
			Store:      "/var/lib/mctpd/routes.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9095",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File: FileOutputConfig{
				Enabled:    false,
				Path:       "/var/log/mctpd/mctpd.log",
				MaxSizeMB:  100,
				MaxAgeDays: 30,
				MaxBackups: 5,
				Compress:   true,
			},
		},
	}
}

// setDefaults sets default values for configuration.
// All keys use the "mctpd." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	d := Default()

	// Node defaults
	v.SetDefault("mctpd.node.eid", d.Node.EID)
	v.SetDefault("mctpd.node.mtu", d.Node.MTU)
	v.SetDefault("mctpd.node.bridging", d.Node.Bridging)
	v.SetDefault("mctpd.node.route_capacity", d.Node.RouteCapacity)
	v.SetDefault("mctpd.node.local_capacity", d.Node.LocalCapacity)
	v.SetDefault("mctpd.node.listeners", d.Node.Listeners)
	v.SetDefault("mctpd.node.requests", d.Node.Requests)
	v.SetDefault("mctpd.node.rx_buffer_size", d.Node.RxBufferSize)
	v.SetDefault("mctpd.node.max_poll_packets", d.Node.MaxPollPackets)
	v.SetDefault("mctpd.node.tag_timeout_ticks", d.Node.TagTimeoutTicks)
	v.SetDefault("mctpd.node.tick_interval", d.Node.TickInterval.String())
	v.SetDefault("mctpd.node.poll_interval", d.Node.PollInterval.String())

	// Reassembly defaults
	v.SetDefault("mctpd.reassembly.slots", d.Reassembly.Slots)
	v.SetDefault("mctpd.reassembly.max_message_size", d.Reassembly.MaxMessageSize)
	v.SetDefault("mctpd.reassembly.timeout_ticks", d.Reassembly.TimeoutTicks)

	// Route source defaults
	v.SetDefault("mctpd.routes.static_file", "")
	v.SetDefault("mctpd.routes.store", "")

	// Metrics defaults
	v.SetDefault("mctpd.metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("mctpd.metrics.listen", d.Metrics.Listen)
	v.SetDefault("mctpd.metrics.path", d.Metrics.Path)

	// Log defaults
	v.SetDefault("mctpd.log.level", d.Log.Level)
	v.SetDefault("mctpd.log.format", d.Log.Format)
	v.SetDefault("mctpd.log.file.enabled", d.Log.File.Enabled)
	v.SetDefault("mctpd.log.file.path", d.Log.File.Path)
	v.SetDefault("mctpd.log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("mctpd.log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("mctpd.log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("mctpd.log.file.compress", d.Log.File.Compress)
}

// ValidateAndApplyDefaults validates configuration and fills per-bus defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}

	// ── Node validation ──
	if cfg.Node.EID < 0 || cfg.Node.EID >= int(packet.EIDBroadcast) {
		return fmt.Errorf("invalid node.eid: %d (must be 0-254)", cfg.Node.EID)
	}
	for _, eid := range cfg.Node.LocalEIDs {
		if eid <= 0 || eid >= int(packet.EIDBroadcast) {
			return fmt.Errorf("invalid node.local_eids entry: %d (must be 1-254)", eid)
		}
	}
	if len(cfg.Node.LocalEIDs) > cfg.Node.LocalCapacity {
		return fmt.Errorf("node.local_eids has %d entries, local_capacity is %d",
			len(cfg.Node.LocalEIDs), cfg.Node.LocalCapacity)
	}
	if cfg.Node.TickInterval <= 0 || cfg.Node.PollInterval <= 0 {
		return fmt.Errorf("node.tick_interval and node.poll_interval must be positive")
	}
	if err := cfg.RouterConfig().Validate(); err != nil {
		return err
	}

	// ── Bus validation ──
	if err := cfg.validateBuses(); err != nil {
		return err
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("invalid metrics.path: %q", cfg.Metrics.Path)
		}
	}

	return nil
}

func (cfg *Config) validateBuses() error {
	names := make(map[string]*BusConfig, len(cfg.Buses))
	for i := range cfg.Buses {
		b := &cfg.Buses[i]
		if b.Name == "" {
			return fmt.Errorf("buses[%d]: name is required", i)
		}
		if _, dup := names[b.Name]; dup {
			return fmt.Errorf("duplicate bus name: %s", b.Name)
		}
		names[b.Name] = b

		if b.QueueDepth <= 0 {
			b.QueueDepth = 16
		}
		if b.MaxPacketSize <= 0 {
			b.MaxPacketSize = cfg.Node.RxBufferSize
		}
		if b.WriteTimeout <= 0 {
			b.WriteTimeout = 2 * time.Millisecond
		}
		if b.Type == BusUDP && b.WriteTimeout > binding.UDPMaxWriteDeadline {
			return fmt.Errorf("bus %s: write_timeout %s exceeds %s", b.Name, b.WriteTimeout, binding.UDPMaxWriteDeadline)
		}

		switch b.Type {
		case BusUDP, BusTCP, BusQUIC:
			if b.Address == "" {
				return fmt.Errorf("bus %s: address is required for type %s", b.Name, b.Type)
			}
		case BusSerial:
			if b.Device == "" {
				return fmt.Errorf("bus %s: device is required for type serial", b.Name)
			}
		case BusLoopback:
			if b.Peer == "" || b.Peer == b.Name {
				return fmt.Errorf("bus %s: loopback needs a peer bus", b.Name)
			}
		default:
			return fmt.Errorf("bus %s: unsupported type %q", b.Name, b.Type)
		}
	}
	if len(cfg.Buses) > int(^uint8(0)) {
		return fmt.Errorf("too many buses: %d", len(cfg.Buses))
	}

	// Loopback ends must name each other
	for _, b := range cfg.Buses {
		if b.Type != BusLoopback {
			continue
		}
		peer, ok := names[b.Peer]
		if !ok || peer.Type != BusLoopback || peer.Peer != b.Name {
			return fmt.Errorf("bus %s: peer %s must be a loopback bus naming %s", b.Name, b.Peer, b.Name)
		}
	}
	return nil
}

// RouterConfig converts the node and reassembly sections to a router config
func (cfg *Config) RouterConfig() router.Config {
	return router.Config{
		LocalEID: packet.EID(cfg.Node.EID),
		MTU:      cfg.Node.MTU,
		Reassembly: reassembly.Config{
			Slots:          cfg.Reassembly.Slots,
			MaxMessageSize: cfg.Reassembly.MaxMessageSize,
			TimeoutTicks:   cfg.Reassembly.TimeoutTicks,
		},
		RouteCapacity:   cfg.Node.RouteCapacity,
		LocalCapacity:   cfg.Node.LocalCapacity,
		Listeners:       cfg.Node.Listeners,
		Requests:        cfg.Node.Requests,
		Bridging:        cfg.Node.Bridging,
		RxBufferSize:    cfg.Node.RxBufferSize,
		MaxPollPackets:  cfg.Node.MaxPollPackets,
		TagTimeoutTicks: cfg.Node.TagTimeoutTicks,
	}
}

// LoggerOptions converts the log section to logger options
func (cfg *Config) LoggerOptions() logger.Options {
	level, _ := logger.ParseLevel(cfg.Log.Level)
	opts := logger.Options{
		Level:  level,
		Format: cfg.Log.Format,
	}
	if cfg.Log.File.Enabled {
		opts.File = cfg.Log.File.Path
		opts.MaxSizeMB = cfg.Log.File.MaxSizeMB
		opts.MaxAgeDays = cfg.Log.File.MaxAgeDays
		opts.MaxBackups = cfg.Log.File.MaxBackups
		opts.Compress = cfg.Log.File.Compress
	}
	return opts
}

// WriteYAML writes cfg under the `mctpd:` root key
func (cfg *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(configRoot{Mctpd: *cfg}); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// SaveYAML writes cfg to path
func (cfg *Config) SaveYAML(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := cfg.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
