package rawsock

import (
	"net/netip"

	"golang.org/x/net/bpf"
)

// acceptSnapLen is returned for accepted packets; the kernel clamps it to the
// packet length.
const acceptSnapLen = 65535

// FilterSpec selects the TCP segments the kernel delivers to the channel.
// On a raw IP socket the program sees the IP header at offset 0; there is no
// link-layer header.
type FilterSpec struct {
	Peer       netip.Addr
	PeerPort   uint16
	ClientPort uint16
}

// Instructions returns the filter as classic BPF:
// accept IPv4 TCP from Peer:PeerPort to ClientPort, drop everything else.
// The TCP header offset is read from IHL, so IP options are handled.
func (f FilterSpec) Instructions() []bpf.Instruction {
	peer := f.Peer.As4()
	peerAddr := uint32(peer[0])<<24 | uint32(peer[1])<<16 | uint32(peer[2])<<8 | uint32(peer[3])

	return []bpf.Instruction{
		// Protocol (offset 9) must be TCP
		bpf.LoadAbsolute{Off: 9, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 6, SkipTrue: 8},
		// Source address (offset 12) must be the peer
		bpf.LoadAbsolute{Off: 12, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: peerAddr, SkipTrue: 6},
		// X = IHL*4
		bpf.LoadMemShift{Off: 0},
		// TCP source port
		bpf.LoadIndirect{Off: 0, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(f.PeerPort), SkipTrue: 3},
		// TCP destination port
		bpf.LoadIndirect{Off: 2, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(f.ClientPort), SkipTrue: 1},
		bpf.RetConstant{Val: acceptSnapLen},
		bpf.RetConstant{Val: 0},
	}
}

// Assemble compiles the filter for SetBPF.
func (f FilterSpec) Assemble() ([]bpf.RawInstruction, error) {
	return bpf.Assemble(f.Instructions())
}
