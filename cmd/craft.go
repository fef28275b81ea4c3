package cmd

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/rawshake/internal/config"
	"firestige.xyz/rawshake/internal/packet"
)

var craftCmd = &cobra.Command{
	Use:   "craft syn|ack",
	Short: "Print the datagram the handshake would send",
	Long: `Build the SYN or the final ACK from the current configuration and print it
as a summary line and a hex dump. Nothing is sent, so no privileges are needed.

Examples:
  rawshake craft syn
  rawshake craft ack --peer-seq 500
  rawshake craft syn --layers`,
	ValidArgs: []string{"syn", "ack"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runCraft(cfg, args[0], craftPeerSeq, craftLayers, cmd.OutOrStdout())
	},
}

var (
	craftPeerSeq uint32
	craftLayers  bool
)

func init() {
	craftCmd.Flags().Uint32Var(&craftPeerSeq, "peer-seq", 0, "sequence number of the peer's SYN-ACK (ack only)")
	craftCmd.Flags().BoolVar(&craftLayers, "layers", false, "print the full layer dump instead of a hex dump")
}

func runCraft(cfg *config.Config, kind string, peerSeq uint32, layers bool, out io.Writer) error {
	b, err := packet.NewBuilder(cfg.Handshake.Params())
	if err != nil {
		return err
	}

	var datagram []byte
	switch kind {
	case "syn":
		datagram, err = b.SYN()
	case "ack":
		datagram, err = b.ACK(peerSeq)
	default:
		return fmt.Errorf("unknown packet kind %q (must be syn/ack)", kind)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, packet.Describe(datagram))
	if layers {
		fmt.Fprint(out, packet.Dump(datagram))
		return nil
	}
	fmt.Fprint(out, hex.Dump(datagram))
	return nil
}
