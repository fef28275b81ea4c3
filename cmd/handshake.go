package cmd

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/rawshake/internal/capture"
	"firestige.xyz/rawshake/internal/config"
	"firestige.xyz/rawshake/internal/handshake"
	"firestige.xyz/rawshake/internal/log"
	"firestige.xyz/rawshake/internal/metrics"
)

var handshakeCmd = &cobra.Command{
	Use:   "handshake",
	Short: "Send a SYN, wait for the SYN-ACK and answer with an ACK",
	Long: `Perform one TCP three-way handshake with the configured peer.

Flags override the config file. The command exits 0 only when the peer's
SYN-ACK was observed and the ACK was sent.

Examples:
  rawshake handshake                                   # 127.0.0.1:12345 from port 54321, 5s timeout
  rawshake handshake --peer 10.0.0.2 --port 8080       # another peer
  rawshake handshake -c rawshake.yml --pcap hs.pcap    # record the exchange`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := applyHandshakeFlags(cmd.Flags(), cfg); err != nil {
			return err
		}
		if err := log.Init(cfg.Log); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, closeCapture, err := newHandshakeClient(cfg)
		if err != nil {
			return err
		}
		err = runHandshake(ctx, client, cmd.OutOrStdout())
		closeCapture()
		exportMetrics(ctx, cfg.Metrics)
		return err
	},
}

var hsFlags struct {
	peer        string
	port        uint16
	source      string
	clientPort  uint16
	seq         uint32
	ackSeq      uint32
	timeout     time.Duration
	tcpChecksum string
	noFilter    bool
	pcap        string
	metricsFile string
}

func init() {
	f := handshakeCmd.Flags()
	f.StringVar(&hsFlags.peer, "peer", config.DefaultPeer, "peer IPv4 address")
	f.Uint16VarP(&hsFlags.port, "port", "p", config.DefaultPeerPort, "peer TCP port")
	f.StringVar(&hsFlags.source, "source", config.DefaultSource, `source IPv4 address written into the IP header, or "auto"`)
	f.Uint16Var(&hsFlags.clientPort, "client-port", config.DefaultClientPort, "client TCP port")
	f.Uint32Var(&hsFlags.seq, "seq", config.DefaultInitialSeq, "sequence number of the SYN")
	f.Uint32Var(&hsFlags.ackSeq, "ack-seq", config.DefaultAckSeq, "sequence number of the final ACK")
	f.DurationVarP(&hsFlags.timeout, "timeout", "t", config.DefaultTimeout, "how long to wait for the SYN-ACK")
	f.StringVar(&hsFlags.tcpChecksum, "tcp-checksum", "skip", "TCP checksum mode (skip/compute)")
	f.BoolVar(&hsFlags.noFilter, "no-filter", false, "do not attach the kernel socket filter")
	f.StringVar(&hsFlags.pcap, "pcap", "", "write sent and received datagrams to this pcap file")
	f.StringVar(&hsFlags.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile at exit")
}

// applyHandshakeFlags copies explicitly set flags over cfg and revalidates it.
func applyHandshakeFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	h := &cfg.Handshake
	if flags.Changed("peer") {
		addr, err := netip.ParseAddr(hsFlags.peer)
		if err != nil {
			return fmt.Errorf("invalid --peer: %w", err)
		}
		h.Peer = addr
	}
	if flags.Changed("port") {
		h.PeerPort = hsFlags.port
	}
	if flags.Changed("source") {
		h.Source = hsFlags.source
	}
	if flags.Changed("client-port") {
		h.ClientPort = hsFlags.clientPort
	}
	if flags.Changed("seq") {
		h.InitialSeq = hsFlags.seq
	}
	if flags.Changed("ack-seq") {
		h.AckSeq = hsFlags.ackSeq
	}
	if flags.Changed("timeout") {
		h.Timeout = hsFlags.timeout
	}
	if flags.Changed("tcp-checksum") {
		h.TCPChecksum = hsFlags.tcpChecksum
	}
	if flags.Changed("no-filter") {
		h.SocketFilter = !hsFlags.noFilter
	}
	if flags.Changed("pcap") {
		cfg.Capture.Path = hsFlags.pcap
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.Textfile = hsFlags.metricsFile
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg.ValidateAndApplyDefaults()
}

// newHandshakeClient wires the client to metrics and, if configured, a capture file.
// The returned func closes the capture file.
func newHandshakeClient(cfg *config.Config) (*handshake.Client, func(), error) {
	opts := []handshake.Option{handshake.WithRecorder(metrics.Recorder{})}
	closeCapture := func() {}

	if cfg.Capture.Path != "" {
		w, err := capture.Create(cfg.Capture.Path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, handshake.WithCapture(w))
		closeCapture = func() {
			if err := w.Close(); err != nil {
				log.GetLogger().WithError(err).Warn("failed to close capture file")
				return
			}
			log.GetLogger().Infof("wrote %d packet(s) to %s", w.Stats().PacketsWritten, cfg.Capture.Path)
		}
	}

	client, err := handshake.New(handshake.Config{
		Params:       cfg.Handshake.Params(),
		Timeout:      cfg.Handshake.Timeout,
		SocketFilter: cfg.Handshake.SocketFilter,
	}, opts...)
	if err != nil {
		closeCapture()
		return nil, nil, err
	}
	return client, closeCapture, nil
}

// runHandshake 提取的业务逻辑，方便测试
func runHandshake(ctx context.Context, client HandshakeRunner, out io.Writer) error {
	res, err := client.Run(ctx)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Handshake complete: peer seq=%d, %d packet(s) discarded, %s\n",
		res.PeerSeq, res.Discarded, res.Elapsed.Round(time.Microsecond))
	return nil
}

// exportMetrics writes the textfile and pushes to the Pushgateway when configured.
// Failures are logged; they never change the exit status.
func exportMetrics(ctx context.Context, mc config.MetricsConfig) {
	logger := log.GetLogger()
	if mc.Textfile != "" {
		if err := metrics.WriteTextfile(mc.Textfile); err != nil {
			logger.WithError(err).Warn("failed to export metrics")
		}
	}
	if mc.Pushgateway != "" {
		// The handshake context may already be canceled by a signal.
		if err := metrics.Push(context.WithoutCancel(ctx), mc.Pushgateway, mc.Job); err != nil {
			logger.WithError(err).Warn("failed to push metrics")
		}
	}
}
