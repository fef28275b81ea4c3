package packet

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Describe renders a one-line summary of an IPv4 datagram for logs.
func Describe(datagram []byte) string {
	pkt := gopacket.NewPacket(datagram, layers.LayerTypeIPv4, gopacket.DecodeOptions{NoCopy: true})

	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		return fmt.Sprintf("undecodable %d bytes: %v", len(datagram), errLayer.Error())
	}
	ipLayer, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ipLayer == nil {
		return fmt.Sprintf("undecodable %d bytes", len(datagram))
	}

	tcpLayer, _ := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if tcpLayer == nil {
		return fmt.Sprintf("%s > %s proto=%s len=%d", ipLayer.SrcIP, ipLayer.DstIP, ipLayer.Protocol, ipLayer.Length)
	}

	return fmt.Sprintf("%s:%d > %s:%d [%s] seq=%d ack=%d win=%d",
		ipLayer.SrcIP, uint16(tcpLayer.SrcPort),
		ipLayer.DstIP, uint16(tcpLayer.DstPort),
		tcpFlagNames(tcpLayer), tcpLayer.Seq, tcpLayer.Ack, tcpLayer.Window)
}

// Dump returns gopacket's layer-by-layer dump of datagram, including hex.
func Dump(datagram []byte) string {
	return gopacket.NewPacket(datagram, layers.LayerTypeIPv4, gopacket.Default).Dump()
}

func tcpFlagNames(t *layers.TCP) string {
	var names []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{t.SYN, "SYN"}, {t.ACK, "ACK"}, {t.FIN, "FIN"}, {t.RST, "RST"},
		{t.PSH, "PSH"}, {t.URG, "URG"}, {t.ECE, "ECE"}, {t.CWR, "CWR"},
	} {
		if f.set {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
