// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/rawshake/internal/config"
	"firestige.xyz/rawshake/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rawshake",
	Short: "rawshake - one-shot TCP three-way handshake over a raw socket",
	Long: `rawshake performs a single TCP three-way handshake at the packet level,
bypassing the kernel TCP stack. It crafts the IPv4 and TCP headers by hand,
sends a SYN, waits for the matching SYN-ACK from one peer and answers with an ACK.

Sending requires raw socket access (root or CAP_NET_RAW).`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and RAWSHAKE_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log level (debug/info/warn/error)")

	// Add subcommands
	rootCmd.AddCommand(handshakeCmd)
	rootCmd.AddCommand(craftCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return nil, err
		}
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
