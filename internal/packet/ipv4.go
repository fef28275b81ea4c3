// Package packet encodes and decodes the IPv4 and TCP headers of the handshake
// and decides which received segments complete it.
package packet

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/rawshake/internal/checksum"
	"firestige.xyz/rawshake/internal/core"
)

const (
	// IPv4HeaderLen is the length of an IPv4 header without options.
	IPv4HeaderLen = 20
	// ipv4MinIHL is the smallest legal Internet Header Length, in 32-bit words.
	ipv4MinIHL = 5

	// ProtocolTCP is the IPv4 protocol number of TCP.
	ProtocolTCP = 6

	// DefaultTTL and DefaultID are written when nothing else is configured.
	DefaultTTL = 64
	DefaultID  = 54321
)

// IPv4 field offsets (RFC 791 section 3.1).
const (
	ipv4OffVersionIHL = 0  // version (4 bits) | IHL (4 bits)
	ipv4OffTOS        = 1  // type of service
	ipv4OffTotalLen   = 2  // total length, 2 bytes
	ipv4OffID         = 4  // identification, 2 bytes
	ipv4OffFlagsFrag  = 6  // flags (3 bits) | fragment offset (13 bits), 2 bytes
	ipv4OffTTL        = 8  // time to live
	ipv4OffProtocol   = 9  // protocol
	ipv4OffChecksum   = 10 // header checksum, 2 bytes
	ipv4OffSrc        = 12 // source address, 4 bytes
	ipv4OffDst        = 16 // destination address, 4 bytes
)

// IPv4Header is the decoded form of an IPv4 header. Options are not modelled;
// IHL records how long the header on the wire actually is.
type IPv4Header struct {
	Version  uint8
	IHL      uint8 // header length in 32-bit words
	TOS      uint8
	TotalLen uint16
	ID       uint16
	Flags    uint8  // 3 bits
	FragOff  uint16 // 13 bits
	TTL      uint8
	Protocol uint8
	Checksum uint16
	Src      netip.Addr
	Dst      netip.Addr
}

// HeaderLen returns the header length in bytes declared by IHL.
func (h *IPv4Header) HeaderLen() int {
	return int(h.IHL) * 4
}

// MarshalTo writes the 20-byte option-less header into b.
// The checksum field is written as zero and then, if computeChecksum is set,
// replaced by the checksum of the header.
func (h *IPv4Header) MarshalTo(b []byte, computeChecksum bool) error {
	if len(b) < IPv4HeaderLen {
		return core.ErrPacketTooShort
	}
	if !h.Src.Is4() || !h.Dst.Is4() {
		return core.ErrUnsupportedProto
	}

	b[ipv4OffVersionIHL] = 4<<4 | ipv4MinIHL
	b[ipv4OffTOS] = h.TOS
	binary.BigEndian.PutUint16(b[ipv4OffTotalLen:], h.TotalLen)
	binary.BigEndian.PutUint16(b[ipv4OffID:], h.ID)
	binary.BigEndian.PutUint16(b[ipv4OffFlagsFrag:], uint16(h.Flags&0x7)<<13|h.FragOff&0x1fff)
	b[ipv4OffTTL] = h.TTL
	b[ipv4OffProtocol] = h.Protocol
	b[ipv4OffChecksum], b[ipv4OffChecksum+1] = 0, 0
	src, dst := h.Src.As4(), h.Dst.As4()
	copy(b[ipv4OffSrc:ipv4OffSrc+4], src[:])
	copy(b[ipv4OffDst:ipv4OffDst+4], dst[:])

	if computeChecksum {
		h.Checksum = checksum.Checksum(b[:IPv4HeaderLen])
		binary.BigEndian.PutUint16(b[ipv4OffChecksum:], h.Checksum)
	} else {
		h.Checksum = 0
	}
	h.Version, h.IHL = 4, ipv4MinIHL
	return nil
}

// ParseIPv4 decodes the IPv4 header at the start of data and returns it with
// the bytes that follow it. The header length is taken from IHL, so headers
// carrying options are skipped correctly.
func ParseIPv4(data []byte) (IPv4Header, []byte, error) {
	if len(data) < IPv4HeaderLen {
		return IPv4Header{}, nil, core.ErrPacketTooShort
	}

	// Version - upper 4 bits of first byte
	version := data[ipv4OffVersionIHL] >> 4
	if version != 4 {
		return IPv4Header{}, nil, core.ErrUnsupportedProto
	}

	// IHL - lower 4 bits of first byte, in 32-bit words
	ihl := data[ipv4OffVersionIHL] & 0x0f
	headerLen := int(ihl) * 4
	if ihl < ipv4MinIHL {
		return IPv4Header{}, nil, core.ErrBadHeaderLength
	}
	if len(data) < headerLen {
		return IPv4Header{}, nil, core.ErrPacketTooShort
	}

	flagsFrag := binary.BigEndian.Uint16(data[ipv4OffFlagsFrag:])
	h := IPv4Header{
		Version:  version,
		IHL:      ihl,
		TOS:      data[ipv4OffTOS],
		TotalLen: binary.BigEndian.Uint16(data[ipv4OffTotalLen:]),
		ID:       binary.BigEndian.Uint16(data[ipv4OffID:]),
		Flags:    uint8(flagsFrag >> 13),
		FragOff:  flagsFrag & 0x1fff,
		TTL:      data[ipv4OffTTL],
		Protocol: data[ipv4OffProtocol],
		Checksum: binary.BigEndian.Uint16(data[ipv4OffChecksum:]),
		Src:      netip.AddrFrom4([4]byte(data[ipv4OffSrc : ipv4OffSrc+4])),
		Dst:      netip.AddrFrom4([4]byte(data[ipv4OffDst : ipv4OffDst+4])),
	}

	return h, data[headerLen:], nil
}
