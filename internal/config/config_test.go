package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/rawshake/internal/core"
	"firestige.xyz/rawshake/internal/packet"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	h := cfg.Handshake
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), h.Peer)
	assert.Equal(t, uint16(12345), h.PeerPort)
	assert.Equal(t, uint16(54321), h.ClientPort)
	assert.Equal(t, uint32(200), h.InitialSeq)
	assert.Equal(t, uint32(600), h.AckSeq)
	assert.Equal(t, 5*time.Second, h.Timeout)
	assert.Equal(t, uint16(8192), h.Window)
	assert.Equal(t, uint8(64), h.TTL)
	assert.Equal(t, uint16(54321), h.IPID)
	assert.Equal(t, "skip", h.TCPChecksum)
	assert.True(t, h.SocketFilter)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), h.SourceAddr())

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Log.File.Enabled)
	assert.Empty(t, cfg.Capture.Path)
	assert.Empty(t, cfg.Metrics.Textfile)
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
rawshake:
  handshake:
    peer: "10.0.0.2"
    peer_port: 8080
    source: "10.0.0.1"
    client_port: 40000
    initial_seq: 1000
    ack_seq: 7
    timeout: "250ms"
    window: 1024
    ttl: 32
    ip_id: 1
    tcp_checksum: compute
    socket_filter: false
  log:
    level: debug
    format: json
    file:
      enabled: true
      path: /tmp/rawshake-test.log
  capture:
    path: /tmp/rawshake.pcap
  metrics:
    textfile: /tmp/rawshake.prom
    pushgateway: http://pushgateway:9091
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	p := cfg.Handshake.Params()
	assert.Equal(t, packet.Params{
		Source:      netip.MustParseAddr("10.0.0.1"),
		Peer:        netip.MustParseAddr("10.0.0.2"),
		ClientPort:  40000,
		PeerPort:    8080,
		InitialSeq:  1000,
		AckSeq:      7,
		Window:      1024,
		TTL:         32,
		ID:          1,
		TCPChecksum: packet.ChecksumCompute,
	}, p)
	assert.Equal(t, 250*time.Millisecond, cfg.Handshake.Timeout)
	assert.False(t, cfg.Handshake.SocketFilter)

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected log format json, got %s", cfg.Log.Format)
	}
	assert.True(t, cfg.Log.File.Enabled)
	assert.Equal(t, 10, cfg.Log.File.Rotation.MaxSizeMB)
	assert.Equal(t, "/tmp/rawshake.pcap", cfg.Capture.Path)
	assert.Equal(t, "/tmp/rawshake.prom", cfg.Metrics.Textfile)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.Pushgateway)
	assert.Equal(t, "rawshake", cfg.Metrics.Job)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RAWSHAKE_HANDSHAKE_PEER_PORT", "9000")
	t.Setenv("RAWSHAKE_HANDSHAKE_TIMEOUT", "2s")
	t.Setenv("RAWSHAKE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), cfg.Handshake.PeerPort)
	assert.Equal(t, 2*time.Second, cfg.Handshake.Timeout)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "rawshake:\n  log:\n    level: verbose\n"},
		{"log format", "rawshake:\n  log:\n    format: xml\n"},
		{"log file without path", "rawshake:\n  log:\n    file:\n      enabled: true\n      path: \"\"\n"},
		{"ipv6 peer", "rawshake:\n  handshake:\n    peer: \"::1\"\n"},
		{"ipv6 source", "rawshake:\n  handshake:\n    source: \"::1\"\n"},
		{"bad source", "rawshake:\n  handshake:\n    source: localhost\n"},
		{"zero peer port", "rawshake:\n  handshake:\n    peer_port: 0\n"},
		{"zero client port", "rawshake:\n  handshake:\n    client_port: 0\n"},
		{"zero timeout", "rawshake:\n  handshake:\n    timeout: 0s\n"},
		{"negative timeout", "rawshake:\n  handshake:\n    timeout: -1s\n"},
		{"zero ttl", "rawshake:\n  handshake:\n    ttl: 0\n"},
		{"checksum mode", "rawshake:\n  handshake:\n    tcp_checksum: partial\n"},
		{"pushgateway without job", "rawshake:\n  metrics:\n    pushgateway: http://pg:9091\n    job: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestLoadUndecodablePeer(t *testing.T) {
	_, err := Load(writeConfig(t, "rawshake:\n  handshake:\n    peer: not-an-ip\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestDump(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := Dump(cfg)
	require.NoError(t, err)

	var tree map[string]map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &tree))

	h := tree["rawshake"]["handshake"]
	assert.Equal(t, "127.0.0.1", h["peer"])
	assert.Equal(t, 12345, h["peer_port"])
	assert.Equal(t, "5s", h["timeout"])
	assert.Equal(t, "skip", h["tcp_checksum"])
	assert.Equal(t, "info", tree["rawshake"]["log"]["level"])

	// The rendered config loads back to the same values.
	back, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg.Handshake.Params(), back.Handshake.Params())
	assert.Equal(t, cfg.Handshake.Timeout, back.Handshake.Timeout)
}
