// Package config handles configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/rawshake/internal/core"
	"firestige.xyz/rawshake/internal/packet"
)

// Defaults of the handshake section.
const (
	DefaultPeer       = "127.0.0.1"
	DefaultPeerPort   = 12345
	DefaultSource     = "127.0.0.1"
	DefaultClientPort = 54321
	DefaultInitialSeq = 200
	DefaultAckSeq     = 600
	DefaultTimeout    = 5 * time.Second

	// SourceAuto selects the first non-loopback IPv4 address of the host.
	SourceAuto = "auto"
)

// Config represents the top-level configuration.
// Maps to the `rawshake:` root key in YAML.
type Config struct {
	Handshake HandshakeConfig `mapstructure:"handshake" yaml:"handshake"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// ─── Handshake ───

// HandshakeConfig holds the addresses, ports and constants of the exchange.
type HandshakeConfig struct {
	Peer       netip.Addr `mapstructure:"peer" yaml:"peer"`
	PeerPort   uint16     `mapstructure:"peer_port" yaml:"peer_port"`
	Source     string     `mapstructure:"source" yaml:"source"` // IPv4 literal or "auto"
	ClientPort uint16     `mapstructure:"client_port" yaml:"client_port"`

	InitialSeq uint32 `mapstructure:"initial_seq" yaml:"initial_seq"`
	AckSeq     uint32 `mapstructure:"ack_seq" yaml:"ack_seq"`

	Timeout     time.Duration `mapstructure:"timeout" yaml:"-"`
	Window      uint16        `mapstructure:"window" yaml:"window"`
	TTL         uint8         `mapstructure:"ttl" yaml:"ttl"`
	IPID        uint16        `mapstructure:"ip_id" yaml:"ip_id"`
	TCPChecksum string        `mapstructure:"tcp_checksum" yaml:"tcp_checksum"` // skip | compute

	// SocketFilter attaches a BPF program so only replies from the peer wake the reader.
	SocketFilter bool `mapstructure:"socket_filter" yaml:"socket_filter"`

	source netip.Addr
}

// MarshalYAML renders Timeout as a duration string.
func (h HandshakeConfig) MarshalYAML() (interface{}, error) {
	type plain HandshakeConfig
	return struct {
		plain   `yaml:",inline"`
		Timeout string `yaml:"timeout"`
	}{plain(h), h.Timeout.String()}, nil
}

// SourceAddr returns the resolved source address. Valid after ValidateAndApplyDefaults.
func (h *HandshakeConfig) SourceAddr() netip.Addr {
	return h.source
}

// Params converts the section into builder parameters.
func (h *HandshakeConfig) Params() packet.Params {
	return packet.Params{
		Source:      h.source,
		Peer:        h.Peer,
		ClientPort:  h.ClientPort,
		PeerPort:    h.PeerPort,
		InitialSeq:  h.InitialSeq,
		AckSeq:      h.AckSeq,
		Window:      h.Window,
		TTL:         h.TTL,
		ID:          h.IPID,
		TCPChecksum: packet.ChecksumMode(h.TCPChecksum),
	}
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format     string           `mapstructure:"format" yaml:"format"` // json / text / pattern
	Pattern    string           `mapstructure:"pattern" yaml:"pattern,omitempty"`
	TimeFormat string           `mapstructure:"time_format" yaml:"time_format,omitempty"`
	File       FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Capture & Metrics ───

// CaptureConfig enables writing every sent and received datagram to a pcap file.
type CaptureConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // Empty = disabled
}

// MetricsConfig controls the export of run metrics at exit.
type MetricsConfig struct {
	Textfile    string `mapstructure:"textfile" yaml:"textfile"`       // node_exporter textfile; empty = disabled
	Pushgateway string `mapstructure:"pushgateway" yaml:"pushgateway"` // Pushgateway URL; empty = disabled
	Job         string `mapstructure:"job" yaml:"job"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `rawshake: ...`.
type configRoot struct {
	Rawshake Config `mapstructure:"rawshake"`
}

// Load loads configuration from file. An empty path yields defaults plus
// environment overrides (e.g. RAWSHAKE_HANDSHAKE_PEER_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `rawshake.` key prefix maps to `RAWSHAKE_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&root, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Rawshake

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Handshake defaults
	v.SetDefault("rawshake.handshake.peer", DefaultPeer)
	v.SetDefault("rawshake.handshake.peer_port", DefaultPeerPort)
	v.SetDefault("rawshake.handshake.source", DefaultSource)
	v.SetDefault("rawshake.handshake.client_port", DefaultClientPort)
	v.SetDefault("rawshake.handshake.initial_seq", DefaultInitialSeq)
	v.SetDefault("rawshake.handshake.ack_seq", DefaultAckSeq)
	v.SetDefault("rawshake.handshake.timeout", DefaultTimeout.String())
	v.SetDefault("rawshake.handshake.window", packet.DefaultWindow)
	v.SetDefault("rawshake.handshake.ttl", packet.DefaultTTL)
	v.SetDefault("rawshake.handshake.ip_id", packet.DefaultID)
	v.SetDefault("rawshake.handshake.tcp_checksum", string(packet.ChecksumSkip))
	v.SetDefault("rawshake.handshake.socket_filter", true)

	// Log defaults
	v.SetDefault("rawshake.log.level", "info")
	v.SetDefault("rawshake.log.format", "text")
	v.SetDefault("rawshake.log.pattern", "")
	v.SetDefault("rawshake.log.time_format", "")
	v.SetDefault("rawshake.log.file.enabled", false)
	v.SetDefault("rawshake.log.file.path", "/var/log/rawshake/rawshake.log")
	v.SetDefault("rawshake.log.file.rotation.max_size_mb", 10)
	v.SetDefault("rawshake.log.file.rotation.max_age_days", 7)
	v.SetDefault("rawshake.log.file.rotation.max_backups", 3)
	v.SetDefault("rawshake.log.file.rotation.compress", false)

	v.SetDefault("rawshake.capture.path", "")
	v.SetDefault("rawshake.metrics.textfile", "")
	v.SetDefault("rawshake.metrics.pushgateway", "")
	v.SetDefault("rawshake.metrics.job", "rawshake")
}

// ValidateAndApplyDefaults validates configuration and resolves the source address.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return invalid("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return invalid("log.file.path is required when log.file.enabled=true")
	}

	// ── Handshake validation ──
	h := &cfg.Handshake
	if !h.Peer.Is4() {
		return invalid("handshake.peer must be an IPv4 address, got %q", h.Peer)
	}
	if h.PeerPort == 0 {
		return invalid("handshake.peer_port must not be 0")
	}
	if h.ClientPort == 0 {
		return invalid("handshake.client_port must not be 0")
	}
	if h.Timeout <= 0 {
		return invalid("handshake.timeout must be positive, got %s", h.Timeout)
	}
	if h.TTL == 0 {
		return invalid("handshake.ttl must be at least 1")
	}
	if !packet.ChecksumMode(h.TCPChecksum).Valid() {
		return invalid("invalid handshake.tcp_checksum: %s (must be skip/compute)", h.TCPChecksum)
	}

	if cfg.Metrics.Pushgateway != "" && cfg.Metrics.Job == "" {
		return invalid("metrics.job is required when metrics.pushgateway is set")
	}

	src, err := resolveSource(h.Source)
	if err != nil {
		return err
	}
	h.source = src

	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrConfigInvalid)
}

// resolveSource resolves the source address.
// Priority: explicit IPv4 literal → auto-detect → error.
func resolveSource(source string) (netip.Addr, error) {
	if source != SourceAuto {
		addr, err := netip.ParseAddr(source)
		if err != nil || !addr.Is4() {
			return netip.Addr{}, invalid("handshake.source must be an IPv4 address or %q, got %q", SourceAuto, source)
		}
		return addr, nil
	}

	// Auto-detect: first non-loopback, non-link-local IPv4
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("cannot resolve source address: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipNet.IP.To4())
			if !ok || ip.IsLinkLocalUnicast() {
				continue
			}
			return ip, nil
		}
	}

	return netip.Addr{}, errors.New("cannot resolve source address: set RAWSHAKE_HANDSHAKE_SOURCE or rawshake.handshake.source")
}

// Dump renders the effective configuration as YAML under the `rawshake:` root key.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(map[string]*Config{"rawshake": cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
