package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rawshake/internal/config"
	"firestige.xyz/rawshake/internal/core"
	"firestige.xyz/rawshake/internal/handshake"
)

// MockRunner 实现 HandshakeRunner
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context) (*handshake.Result, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*handshake.Result)
	return res, args.Error(1)
}

func TestRunHandshake_Success(t *testing.T) {
	mockRunner := new(MockRunner)
	mockRunner.On("Run", mock.Anything).Return(&handshake.Result{
		State:     handshake.StateEstablished,
		PeerSeq:   500,
		PeerAck:   201,
		Discarded: 2,
		Elapsed:   1500 * time.Microsecond,
	}, nil)

	var buf bytes.Buffer
	err := runHandshake(context.Background(), mockRunner, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Handshake complete: peer seq=500, 2 packet(s) discarded, 1.5ms")
	mockRunner.AssertExpectations(t)
}

func TestRunHandshake_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		state    handshake.State
		runErr   error
		sentinel error
	}{
		{
			name:     "timeout",
			state:    handshake.StateTimedOut,
			runErr:   fmt.Errorf("%w after 5s: make sure the server is running at 127.0.0.1:12345", core.ErrHandshakeTimeout),
			sentinel: core.ErrHandshakeTimeout,
		},
		{
			name:     "send failure",
			state:    handshake.StateFailed,
			runErr:   fmt.Errorf("%w: syn: operation not permitted", core.ErrSendFailed),
			sentinel: core.ErrSendFailed,
		},
		{
			name:     "canceled",
			state:    handshake.StateCanceled,
			runErr:   fmt.Errorf("%w: %w", core.ErrHandshakeCanceled, context.Canceled),
			sentinel: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRunner := new(MockRunner)
			mockRunner.On("Run", mock.Anything).Return(&handshake.Result{State: tt.state}, tt.runErr)

			var buf bytes.Buffer
			err := runHandshake(context.Background(), mockRunner, &buf)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "handshake failed")
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.Empty(t, buf.String())
			mockRunner.AssertExpectations(t)
		})
	}
}

func TestApplyHandshakeFlags(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cmd := &cobra.Command{Use: "handshake"}
	cmd.Flags().AddFlagSet(handshakeCmd.Flags())
	require.NoError(t, cmd.ParseFlags([]string{
		"--peer", "10.0.0.9",
		"--port", "8080",
		"--timeout", "1500ms",
		"--tcp-checksum", "compute",
		"--no-filter",
		"--pcap", "/tmp/out.pcap",
	}))

	require.NoError(t, applyHandshakeFlags(cmd.Flags(), cfg))
	assert.Equal(t, netip.MustParseAddr("10.0.0.9"), cfg.Handshake.Peer)
	assert.Equal(t, uint16(8080), cfg.Handshake.PeerPort)
	assert.Equal(t, 1500*time.Millisecond, cfg.Handshake.Timeout)
	assert.Equal(t, "compute", cfg.Handshake.TCPChecksum)
	assert.False(t, cfg.Handshake.SocketFilter)
	assert.Equal(t, "/tmp/out.pcap", cfg.Capture.Path)

	// Untouched flags keep the configured values.
	assert.Equal(t, uint16(54321), cfg.Handshake.ClientPort)
	assert.Equal(t, uint32(200), cfg.Handshake.InitialSeq)
	assert.Equal(t, uint32(600), cfg.Handshake.AckSeq)
}

func TestRunCraft(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runCraft(cfg, "syn", 0, false, &buf))
	assert.Contains(t, buf.String(), "127.0.0.1:54321 > 127.0.0.1:12345 [SYN] seq=200 ack=0 win=8192")
	assert.Contains(t, buf.String(), "00000000  45 00 00 28")

	buf.Reset()
	require.NoError(t, runCraft(cfg, "ack", 500, true, &buf))
	assert.Contains(t, buf.String(), "[ACK] seq=600 ack=501")
	assert.Contains(t, buf.String(), "--- Layer 2 ---")

	assert.Error(t, runCraft(cfg, "rst", 0, false, &buf))
}

func TestCraftCmd_Execute(t *testing.T) {
	rootCmd := &cobra.Command{Use: "rawshake"}
	rootCmd.AddCommand(craftCmd)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"craft", "syn"})

	err := rootCmd.Execute()

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "[SYN] seq=200")

	rootCmd.SetArgs([]string{"craft", "fin"})
	assert.Error(t, rootCmd.Execute())
}

func TestRunConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runConfig(cfg, &buf))
	assert.Contains(t, buf.String(), "rawshake:")
	assert.Contains(t, buf.String(), "peer_port: 12345")
	assert.Contains(t, buf.String(), "timeout: 5s")
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yml")
	require.NoError(t, os.WriteFile(valid, []byte("rawshake:\n  handshake:\n    peer_port: 8080\n"), 0644))
	invalid := filepath.Join(dir, "invalid.yml")
	require.NoError(t, os.WriteFile(invalid, []byte("rawshake:\n  handshake:\n    tcp_checksum: maybe\n"), 0644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(valid, &buf))
	assert.Contains(t, buf.String(), "VALID: peer 127.0.0.1:8080 from 127.0.0.1:54321, timeout 5s, tcp checksum skip")

	err := runValidate(invalid, &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}
