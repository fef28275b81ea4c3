// Package handshake drives the one-shot exchange: send a SYN, wait for the
// matching SYN-ACK until a single deadline, answer with an ACK.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"firestige.xyz/rawshake/internal/core"
	"firestige.xyz/rawshake/internal/log"
	"firestige.xyz/rawshake/internal/packet"
	"firestige.xyz/rawshake/internal/rawsock"
)

// maxDatagram bounds a single read; an IPv4 datagram cannot be larger.
const maxDatagram = 65535

// Config describes one handshake.
type Config struct {
	Params  packet.Params
	Timeout time.Duration
	// SocketFilter attaches a kernel filter for the peer's replies.
	SocketFilter bool
}

// Opener creates the raw channel. Tests replace it with an in-memory channel.
type Opener func(opts rawsock.Options) (rawsock.Channel, error)

// Recorder receives counters for every step of a run.
type Recorder interface {
	PacketSent(kind string)
	PacketReceived(reason packet.Reason)
	ReceiveError()
	Finished(state string, elapsed time.Duration)
}

// PacketWriter stores a copy of every datagram sent or received.
type PacketWriter interface {
	WritePacket(ts time.Time, data []byte) error
}

// Result is the outcome of Run.
type Result struct {
	State State
	// PeerSeq and PeerAck are taken from the accepted SYN-ACK.
	PeerSeq uint32
	PeerAck uint32
	// Discarded counts received datagrams that did not match.
	Discarded int
	Elapsed   time.Duration
}

type Option func(*Client)

// WithOpener replaces the raw socket opener.
func WithOpener(open Opener) Option {
	return func(c *Client) { c.open = open }
}

func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithCapture records every datagram of the run to w.
func WithCapture(w PacketWriter) Option {
	return func(c *Client) { c.capture = w }
}

// WithDiscardLogLimit caps debug lines for discarded datagrams at limit per
// reason per second. A limit <= 0 logs every discard.
func WithDiscardLogLimit(limit int) Option {
	return func(c *Client) { c.discardLogLimit = limit }
}

// Client runs a handshake. It is not safe for concurrent use.
type Client struct {
	cfg     Config
	builder *packet.Builder
	matcher packet.SynAckMatcher

	open            Opener
	logger          log.Logger
	recorder        Recorder
	capture         PacketWriter
	discardLogLimit int
}

// New validates cfg and prepares the packet builder.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s: %w", cfg.Timeout, core.ErrConfigInvalid)
	}
	b, err := packet.NewBuilder(cfg.Params)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:             cfg,
		builder:         b,
		matcher:         packet.NewSynAckMatcher(b.Params()),
		open:            openRaw,
		logger:          log.GetLogger(),
		recorder:        nopRecorder{},
		discardLogLimit: defaultDiscardLogLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func openRaw(opts rawsock.Options) (rawsock.Channel, error) {
	ch, err := rawsock.Open(opts)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Run performs the exchange. The channel is opened once and closed exactly
// once before Run returns. A nil error means the ACK was sent.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{State: StateInit}
	defer func() {
		res.Elapsed = time.Since(start)
		c.recorder.Finished(res.State.String(), res.Elapsed)
	}()

	p := c.builder.Params()
	peer := netip.AddrPortFrom(p.Peer, p.PeerPort)
	logger := c.logger.WithFields(log.Fields{"peer": peer.String(), "client_port": p.ClientPort})

	if err := ctx.Err(); err != nil {
		res.State = StateCanceled
		return res, fmt.Errorf("%w: %w", core.ErrHandshakeCanceled, err)
	}

	opts := rawsock.Options{Peer: p.Peer}
	if c.cfg.SocketFilter {
		opts.Filter = &rawsock.FilterSpec{Peer: p.Peer, PeerPort: p.PeerPort, ClientPort: p.ClientPort}
	}
	ch, err := c.open(opts)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("failed to open raw channel: %w", err)
	}
	defer func() {
		st := ch.Stats()
		logger.Debugf("raw channel: sent=%d received=%d errors=%d", st.PacketsSent, st.PacketsReceived, st.Errors)
		if err := ch.Close(); err != nil {
			logger.WithError(err).Warn("failed to close raw channel")
		}
	}()

	// Step 1: SYN
	syn, err := c.builder.SYN()
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	logger.Infof("sending SYN (seq=%d)", p.InitialSeq)
	if err := c.send(ch, "syn", syn); err != nil {
		res.State = StateFailed
		return res, err
	}
	res.State = StateSynSent

	// Step 2: one absolute deadline for the whole wait. Discarded packets
	// do not extend it.
	deadline := start.Add(c.cfg.Timeout)
	if err := ch.SetReadDeadline(deadline); err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("failed to set read deadline: %w", err)
	}
	// Cancellation pulls the deadline in so a blocked read returns.
	stop := context.AfterFunc(ctx, func() {
		_ = ch.SetReadDeadline(time.Now())
	})
	defer stop()

	seg, err := c.awaitSynAck(ctx, ch, deadline, res, logger)
	if err != nil {
		return res, err
	}
	res.PeerSeq = seg.TCP.Seq
	res.PeerAck = seg.TCP.Ack
	logger.Infof("received SYN-ACK (seq=%d, ack=%d)", seg.TCP.Seq, seg.TCP.Ack)

	// Step 3: ACK
	ack, err := c.builder.ACK(seg.TCP.Seq)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	logger.Infof("sending ACK (seq=%d, ack=%d)", p.AckSeq, seg.TCP.Seq+1)
	if err := c.send(ch, "ack", ack); err != nil {
		res.State = StateFailed
		return res, err
	}

	res.State = StateEstablished
	logger.Info("handshake complete")
	return res, nil
}

func (c *Client) awaitSynAck(ctx context.Context, ch rawsock.Channel, deadline time.Time, res *Result, logger log.Logger) (packet.Segment, error) {
	p := c.builder.Params()
	buf := make([]byte, maxDatagram)
	limiter := newDiscardLogLimiter(c.discardLogLimit, defaultDiscardLogWindow)
	defer func() {
		if n := limiter.Suppressed(); n > 0 {
			logger.Debugf("suppressed %d discard log line(s)", n)
		}
	}()

	for {
		n, err := ch.ReadPacket(buf)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				res.State = StateCanceled
				logger.Warn("handshake canceled while waiting for SYN-ACK")
				return packet.Segment{}, fmt.Errorf("%w: %w", core.ErrHandshakeCanceled, ctx.Err())
			case errors.Is(err, os.ErrDeadlineExceeded) || !time.Now().Before(deadline):
				res.State = StateTimedOut
				logger.Errorf("timed out waiting for SYN-ACK after %s", c.cfg.Timeout)
				logger.Errorf("make sure the server is running at %s:%d", p.Peer, p.PeerPort)
				return packet.Segment{}, fmt.Errorf("%w after %s: make sure the server is running at %s:%d",
					core.ErrHandshakeTimeout, c.cfg.Timeout, p.Peer, p.PeerPort)
			case errors.Is(err, core.ErrChannelClosed):
				res.State = StateFailed
				return packet.Segment{}, err
			default:
				c.recorder.ReceiveError()
				logger.WithError(err).Warn("receive failed, still waiting")
				continue
			}
		}

		datagram := buf[:n]
		c.record(datagram, logger)

		seg, reason := c.matcher.Match(datagram)
		c.recorder.PacketReceived(reason)
		if reason != packet.ReasonAccepted {
			res.Discarded++
			if logger.IsDebugEnabled() && limiter.Allow(reason, time.Now()) {
				logger.WithField("reason", string(reason)).Debugf("discarded %s", packet.Describe(datagram))
			}
			continue
		}
		return seg, nil
	}
}

func (c *Client) send(ch rawsock.Channel, kind string, datagram []byte) error {
	if err := ch.WritePacket(datagram); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrSendFailed, kind, err)
	}
	c.recorder.PacketSent(kind)
	c.record(datagram, c.logger)
	return nil
}

func (c *Client) record(datagram []byte, logger log.Logger) {
	if c.capture == nil {
		return
	}
	if err := c.capture.WritePacket(time.Now(), datagram); err != nil {
		logger.WithError(err).Warn("failed to write capture record")
	}
}

type nopRecorder struct{}

func (nopRecorder) PacketSent(string)              {}
func (nopRecorder) PacketReceived(packet.Reason)   {}
func (nopRecorder) ReceiveError()                  {}
func (nopRecorder) Finished(string, time.Duration) {}
