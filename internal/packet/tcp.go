package packet

import (
	"encoding/binary"
	"net/netip"
	"strings"

	"firestige.xyz/rawshake/internal/checksum"
	"firestige.xyz/rawshake/internal/core"
)

const (
	// TCPHeaderLen is the length of a TCP header without options.
	TCPHeaderLen     = 20
	tcpMinDataOffset = 5

	// DefaultWindow is the receive window advertised in every segment.
	DefaultWindow = 8192
)

// TCP field offsets (RFC 793 section 3.1).
const (
	tcpOffSrcPort    = 0  // source port, 2 bytes
	tcpOffDstPort    = 2  // destination port, 2 bytes
	tcpOffSeq        = 4  // sequence number, 4 bytes
	tcpOffAck        = 8  // acknowledgment number, 4 bytes
	tcpOffDataOffset = 12 // data offset (upper 4 bits) | reserved
	tcpOffFlags      = 13 // CWR ECE URG ACK PSH RST SYN FIN
	tcpOffWindow     = 14 // window, 2 bytes
	tcpOffChecksum   = 16 // checksum, 2 bytes
	tcpOffUrgent     = 18 // urgent pointer, 2 bytes
)

// TCPFlags is the control-bit octet of a TCP header.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

// Has reports whether every bit of want is set.
func (f TCPFlags) Has(want TCPFlags) bool {
	return f&want == want
}

func (f TCPFlags) String() string {
	names := []string{"FIN", "SYN", "RST", "PSH", "ACK", "URG", "ECE", "CWR"}
	var set []string
	for i, name := range names {
		if f&(1<<i) != 0 {
			set = append(set, name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}

// TCPHeader is the decoded form of a TCP header. Options are skipped on parse
// and never emitted.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // in 32-bit words
	Flags      TCPFlags
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

// MarshalTo writes the 20-byte option-less header into b with a zero checksum.
func (h *TCPHeader) MarshalTo(b []byte) error {
	if len(b) < TCPHeaderLen {
		return core.ErrPacketTooShort
	}

	binary.BigEndian.PutUint16(b[tcpOffSrcPort:], h.SrcPort)
	binary.BigEndian.PutUint16(b[tcpOffDstPort:], h.DstPort)
	binary.BigEndian.PutUint32(b[tcpOffSeq:], h.Seq)
	binary.BigEndian.PutUint32(b[tcpOffAck:], h.Ack)
	b[tcpOffDataOffset] = tcpMinDataOffset << 4
	b[tcpOffFlags] = uint8(h.Flags)
	binary.BigEndian.PutUint16(b[tcpOffWindow:], h.Window)
	b[tcpOffChecksum], b[tcpOffChecksum+1] = 0, 0
	binary.BigEndian.PutUint16(b[tcpOffUrgent:], h.Urgent)

	h.DataOffset = tcpMinDataOffset
	h.Checksum = 0
	return nil
}

// SetChecksum computes the TCP checksum of segment over the IPv4 pseudo-header
// and stores it in both the header bytes and h.
func (h *TCPHeader) SetChecksum(segment []byte, src, dst netip.Addr) {
	segment[tcpOffChecksum], segment[tcpOffChecksum+1] = 0, 0
	h.Checksum = TCPChecksum(segment, src, dst)
	binary.BigEndian.PutUint16(segment[tcpOffChecksum:], h.Checksum)
}

// TCPChecksum returns the checksum of segment (header plus payload, checksum
// field zeroed) prefixed by the IPv4 pseudo-header.
func TCPChecksum(segment []byte, src, dst netip.Addr) uint16 {
	var pseudo [12]byte
	s, d := src.As4(), dst.As4()
	copy(pseudo[0:4], s[:])
	copy(pseudo[4:8], d[:])
	pseudo[9] = ProtocolTCP
	binary.BigEndian.PutUint16(pseudo[10:], uint16(len(segment)))

	return ^checksum.Fold(checksum.Sum(checksum.Sum(0, pseudo[:]), segment))
}

// ParseTCP decodes the TCP header at the start of data.
func ParseTCP(data []byte) (TCPHeader, error) {
	if len(data) < TCPHeaderLen {
		return TCPHeader{}, core.ErrPacketTooShort
	}

	h := TCPHeader{
		SrcPort:    binary.BigEndian.Uint16(data[tcpOffSrcPort:]),
		DstPort:    binary.BigEndian.Uint16(data[tcpOffDstPort:]),
		Seq:        binary.BigEndian.Uint32(data[tcpOffSeq:]),
		Ack:        binary.BigEndian.Uint32(data[tcpOffAck:]),
		DataOffset: data[tcpOffDataOffset] >> 4,
		Flags:      TCPFlags(data[tcpOffFlags]),
		Window:     binary.BigEndian.Uint16(data[tcpOffWindow:]),
		Checksum:   binary.BigEndian.Uint16(data[tcpOffChecksum:]),
		Urgent:     binary.BigEndian.Uint16(data[tcpOffUrgent:]),
	}
	if h.DataOffset < tcpMinDataOffset {
		return h, core.ErrBadHeaderLength
	}
	return h, nil
}
