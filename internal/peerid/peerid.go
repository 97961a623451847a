// Package peerid generates the 20-byte peer id sent in handshakes and
// tracker announces.
package peerid

import (
	"crypto/rand"
	"crypto/sha1"
	"fmt"
)

// prefix is the client identifier, fixed by the wire protocol this client
// speaks: "-BI0001-" followed by 12 random bytes.
const prefix = "-BI0001-"

// Generate returns a fresh random peer id with the fixed prefix.
func Generate() ([sha1.Size]byte, error) {
	var id [sha1.Size]byte
	copy(id[:], prefix)

	if _, err := rand.Read(id[len(prefix):]); err != nil {
		return [sha1.Size]byte{}, fmt.Errorf("peerid: generate: %w", err)
	}
	return id, nil
}
