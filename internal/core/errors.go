// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("rawshake: packet too short")
	ErrUnsupportedProto = errors.New("rawshake: unsupported protocol")
	ErrBadHeaderLength  = errors.New("rawshake: invalid header length")

	// Channel errors
	ErrChannelClosed = errors.New("rawshake: raw channel closed")
	ErrSendFailed    = errors.New("rawshake: raw send failed")

	// Handshake outcomes
	ErrHandshakeTimeout  = errors.New("rawshake: timed out waiting for SYN-ACK")
	ErrHandshakeCanceled = errors.New("rawshake: handshake canceled")

	// Configuration errors
	ErrConfigInvalid = errors.New("rawshake: invalid configuration")
)
