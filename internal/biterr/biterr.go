// Package biterr defines the single error sum-type used across the client,
// tagging every error with the kind of failure it represents so callers can
// decide propagation policy (fatal vs. per-peer) without string matching.
package biterr

import (
	"errors"
	"fmt"
)

// Kind classifies a bitError.
type Kind int

const (
	// ConfigError covers a malformed or unreadable torrent file.
	ConfigError Kind = iota
	// TrackerError covers a non-200 response, missing fields, or no peers.
	TrackerError
	// PeerHandshakeError covers a protocol or InfoHash mismatch.
	PeerHandshakeError
	// PeerProtocolError covers a decode failure, out-of-range index, short
	// bitfield, or unimplemented message type from a peer.
	PeerProtocolError
	// IoError covers socket and file I/O failures.
	IoError
	// CryptoError covers a hash comparison failure (not normally raised as
	// an error; verification returns false instead).
	CryptoError
	// Internal covers an invariant violation in this client's own state.
	Internal
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case TrackerError:
		return "TrackerError"
	case PeerHandshakeError:
		return "PeerHandshakeError"
	case PeerProtocolError:
		return "PeerProtocolError"
	case IoError:
		return "IoError"
	case CryptoError:
		return "CryptoError"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// bitError wraps an underlying cause with the Kind of failure it represents.
type bitError struct {
	kind  Kind
	cause error
}

// New returns an error of the given kind wrapping cause.
func New(kind Kind, cause error) error {
	return &bitError{kind: kind, cause: cause}
}

// Newf is New with a formatted cause, in the manner of fmt.Errorf.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &bitError{kind: kind, cause: fmt.Errorf(format, args...)}
}

func (e *bitError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *bitError) Unwrap() error {
	return e.cause
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// bitError, and Internal otherwise.
func KindOf(err error) Kind {
	var be *bitError
	if errors.As(err, &be) {
		return be.kind
	}
	return Internal
}

// Is reports whether err is a bitError of the given kind.
func Is(err error, kind Kind) bool {
	var be *bitError
	if errors.As(err, &be) {
		return be.kind == kind
	}
	return false
}
