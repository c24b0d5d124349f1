package tracepad

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for user and session identifiers.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewCommandID generates a fresh random 128-bit hex string pairing one
// request line with one response file in the sandbox protocol.
func NewCommandID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
