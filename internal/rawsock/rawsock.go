// Package rawsock provides the raw IPv4 channel the handshake is sent and
// received on. Outgoing datagrams carry their own IP header (IP_HDRINCL);
// incoming datagrams are delivered with their IP header intact.
package rawsock

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"firestige.xyz/rawshake/internal/core"
)

// Channel is an exclusively owned raw IPv4 endpoint.
type Channel interface {
	// WritePacket sends a complete IPv4 datagram, header included.
	WritePacket(datagram []byte) error

	// ReadPacket blocks until a datagram arrives or the read deadline passes,
	// copies it, IP header included, into b and returns its length.
	ReadPacket(b []byte) (int, error)

	// SetReadDeadline bounds every subsequent ReadPacket call.
	SetReadDeadline(t time.Time) error

	// Stats returns the channel counters so far.
	Stats() Stats

	Close() error
}

// Options configure Open.
type Options struct {
	// Peer is the destination every datagram is sent to.
	Peer netip.Addr
	// Filter, when set, is attached to the socket as a classic BPF program so
	// the kernel only delivers the peer's replies to the client port.
	Filter *FilterSpec
}

// Stats counts channel activity.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	Errors          uint64
}

// IPChannel is a Channel over an AF_INET/SOCK_RAW/IPPROTO_TCP socket.
type IPChannel struct {
	pc   net.PacketConn
	raw  *ipv4.RawConn
	peer *net.IPAddr

	mu     sync.Mutex
	closed bool
	stats  Stats
}

// Open creates the raw socket. It requires CAP_NET_RAW.
func Open(opts Options) (*IPChannel, error) {
	if !opts.Peer.Is4() {
		return nil, fmt.Errorf("peer %s is not IPv4: %w", opts.Peer, core.ErrUnsupportedProto)
	}
	pc, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("failed to open raw socket: %w", err)
	}

	// NewRawConn enables IP_HDRINCL on the socket.
	raw, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to enable header inclusion: %w", err)
	}

	if opts.Filter != nil {
		prog, err := opts.Filter.Assemble()
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("failed to assemble socket filter: %w", err)
		}
		if err := raw.SetBPF(prog); err != nil {
			raw.Close()
			return nil, fmt.Errorf("failed to attach socket filter: %w", err)
		}
	}

	return &IPChannel{
		pc:   pc,
		raw:  raw,
		peer: &net.IPAddr{IP: opts.Peer.AsSlice()},
	}, nil
}

// WritePacket writes datagram verbatim; the kernel does not add a header.
func (c *IPChannel) WritePacket(datagram []byte) error {
	if c.isClosed() {
		return core.ErrChannelClosed
	}
	if _, err := c.pc.WriteTo(datagram, c.peer); err != nil {
		c.count(func(s *Stats) { s.Errors++ })
		return err
	}
	c.count(func(s *Stats) { s.PacketsSent++ })
	return nil
}

// ReadPacket reads one datagram including its IP header.
func (c *IPChannel) ReadPacket(b []byte) (int, error) {
	if c.isClosed() {
		return 0, core.ErrChannelClosed
	}
	h, p, _, err := c.raw.ReadFrom(b)
	if err != nil {
		c.count(func(s *Stats) { s.Errors++ })
		return 0, err
	}
	c.count(func(s *Stats) { s.PacketsReceived++ })
	// The payload is sliced from b right after the header.
	return h.Len + len(p), nil
}

// SetReadDeadline sets the absolute deadline for ReadPacket.
func (c *IPChannel) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// Close releases the socket. Closing twice returns ErrChannelClosed.
func (c *IPChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrChannelClosed
	}
	c.closed = true
	c.mu.Unlock()

	return c.raw.Close()
}

// Stats returns a snapshot of the channel counters.
func (c *IPChannel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *IPChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *IPChannel) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
