package packet

import (
	"fmt"
	"net/netip"

	"firestige.xyz/rawshake/internal/core"
)

// PacketLen is the size of every packet this side sends: IPv4 + TCP, no payload.
const PacketLen = IPv4HeaderLen + TCPHeaderLen

var errNotIPv4 = fmt.Errorf("not an IPv4 address: %w", core.ErrUnsupportedProto)

// ChecksumMode selects whether outgoing TCP checksums are computed.
type ChecksumMode string

const (
	// ChecksumSkip leaves the TCP checksum zero. The peer this client is
	// paired with does not validate it.
	ChecksumSkip ChecksumMode = "skip"
	// ChecksumCompute fills in the RFC 793 checksum over the pseudo-header.
	ChecksumCompute ChecksumMode = "compute"
)

// Valid reports whether m is a known mode.
func (m ChecksumMode) Valid() bool {
	return m == ChecksumSkip || m == ChecksumCompute
}

// Params are the fixed values every outgoing packet is built from.
type Params struct {
	Source     netip.Addr
	Peer       netip.Addr
	ClientPort uint16
	PeerPort   uint16

	// InitialSeq is the sequence number of the SYN.
	InitialSeq uint32
	// AckSeq is the sequence number of the final ACK. It is a constant the
	// peer expects, not InitialSeq+1.
	AckSeq uint32

	Window      uint16
	TTL         uint8
	ID          uint16
	TCPChecksum ChecksumMode
}

// Builder produces the SYN and ACK packets of the handshake.
type Builder struct {
	params Params
}

// NewBuilder returns a Builder for p. Both addresses must be IPv4.
func NewBuilder(p Params) (*Builder, error) {
	if !p.Source.Is4() || !p.Peer.Is4() {
		return nil, fmt.Errorf("source %s and peer %s must be IPv4: %w", p.Source, p.Peer, errNotIPv4)
	}
	if p.TCPChecksum == "" {
		p.TCPChecksum = ChecksumSkip
	}
	if !p.TCPChecksum.Valid() {
		return nil, fmt.Errorf("unknown tcp checksum mode %q", p.TCPChecksum)
	}
	return &Builder{params: p}, nil
}

// Params returns the values the builder was created with.
func (b *Builder) Params() Params {
	return b.params
}

// SYN returns the opening segment: SYN only, seq = InitialSeq, ack = 0.
func (b *Builder) SYN() ([]byte, error) {
	return b.build(TCPHeader{
		Seq:   b.params.InitialSeq,
		Ack:   0,
		Flags: FlagSYN,
	})
}

// ACK returns the closing segment acknowledging peerSeq: ACK only,
// seq = AckSeq, ack = peerSeq+1.
func (b *Builder) ACK(peerSeq uint32) ([]byte, error) {
	return b.build(TCPHeader{
		Seq:   b.params.AckSeq,
		Ack:   peerSeq + 1,
		Flags: FlagACK,
	})
}

func (b *Builder) build(tcp TCPHeader) ([]byte, error) {
	p := b.params
	buf := make([]byte, PacketLen)

	ip := IPv4Header{
		TotalLen: PacketLen,
		ID:       p.ID,
		TTL:      p.TTL,
		Protocol: ProtocolTCP,
		Src:      p.Source,
		Dst:      p.Peer,
	}
	if err := ip.MarshalTo(buf[:IPv4HeaderLen], true); err != nil {
		return nil, fmt.Errorf("encode ip header: %w", err)
	}

	tcp.SrcPort = p.ClientPort
	tcp.DstPort = p.PeerPort
	tcp.Window = p.Window
	segment := buf[IPv4HeaderLen:]
	if err := tcp.MarshalTo(segment); err != nil {
		return nil, fmt.Errorf("encode tcp header: %w", err)
	}
	if p.TCPChecksum == ChecksumCompute {
		tcp.SetChecksum(segment, p.Source, p.Peer)
	}

	return buf, nil
}
