package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/rawshake/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without sending anything.

This is useful for pre-checking configuration before running a handshake.

Examples:
  rawshake validate -f rawshake.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := os.Stat(validateConfigFile); err != nil {
			exitWithError(fmt.Sprintf("failed to read file %s", validateConfigFile), err)
		}
		if err := runValidate(validateConfigFile, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "",
		"configuration file to validate (required)")
	validateCmd.MarkFlagRequired("file")
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	h := cfg.Handshake
	fmt.Fprintf(out, "VALID: peer %s:%d from %s:%d, timeout %s, tcp checksum %s\n",
		h.Peer, h.PeerPort, h.SourceAddr(), h.ClientPort, h.Timeout, h.TCPChecksum)
	return nil
}
