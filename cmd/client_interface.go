package cmd

import (
	"context"

	"firestige.xyz/rawshake/internal/handshake"
)

// HandshakeRunner performs one handshake. *handshake.Client implements it.
type HandshakeRunner interface {
	Run(ctx context.Context) (*handshake.Result, error)
}
