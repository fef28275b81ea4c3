// Package main is the entry point for the rawshake raw-socket handshake client.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/rawshake/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
