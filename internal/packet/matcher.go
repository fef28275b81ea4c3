package packet

import (
	"errors"

	"firestige.xyz/rawshake/internal/core"
)

// Reason explains why a received datagram was discarded.
type Reason string

const (
	ReasonAccepted    Reason = ""
	ReasonMalformed   Reason = "malformed"
	ReasonNotTCP      Reason = "not_tcp"
	ReasonWrongSource Reason = "wrong_src_port"
	ReasonWrongDest   Reason = "wrong_dst_port"
	ReasonWrongFlags  Reason = "wrong_flags"
	ReasonWrongAck    Reason = "wrong_ack"
)

// Segment is a received datagram decoded down to its TCP header.
type Segment struct {
	IP  IPv4Header
	TCP TCPHeader
}

// SynAckMatcher recognises the peer's SYN-ACK for one outstanding SYN.
type SynAckMatcher struct {
	PeerPort   uint16
	ClientPort uint16
	// ExpectedAck is the SYN's sequence number plus one.
	ExpectedAck uint32
}

// NewSynAckMatcher returns the matcher for the SYN built from p.
func NewSynAckMatcher(p Params) SynAckMatcher {
	return SynAckMatcher{
		PeerPort:    p.PeerPort,
		ClientPort:  p.ClientPort,
		ExpectedAck: p.InitialSeq + 1,
	}
}

// Decode parses an IPv4 datagram and the TCP header that starts IHL*4 bytes in.
func Decode(datagram []byte) (Segment, error) {
	ip, rest, err := ParseIPv4(datagram)
	if err != nil {
		return Segment{}, err
	}
	if ip.Protocol != ProtocolTCP {
		return Segment{IP: ip}, core.ErrUnsupportedProto
	}
	tcp, err := ParseTCP(rest)
	if err != nil {
		return Segment{IP: ip}, err
	}
	return Segment{IP: ip, TCP: tcp}, nil
}

// Match decodes datagram and reports whether it is the expected SYN-ACK.
// The returned Reason is empty on acceptance.
func (m SynAckMatcher) Match(datagram []byte) (Segment, Reason) {
	seg, err := Decode(datagram)
	if err != nil {
		if errors.Is(err, core.ErrUnsupportedProto) && seg.IP.Version == 4 {
			return seg, ReasonNotTCP
		}
		return seg, ReasonMalformed
	}
	return seg, m.Check(seg.TCP)
}

// Check applies the acceptance predicate to an already decoded TCP header.
func (m SynAckMatcher) Check(tcp TCPHeader) Reason {
	switch {
	case tcp.SrcPort != m.PeerPort:
		return ReasonWrongSource
	case tcp.DstPort != m.ClientPort:
		return ReasonWrongDest
	case !tcp.Flags.Has(FlagSYN | FlagACK):
		return ReasonWrongFlags
	case tcp.Ack != m.ExpectedAck:
		return ReasonWrongAck
	}
	return ReasonAccepted
}
