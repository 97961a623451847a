// Package verify implements the commit pipeline: once a piece's present
// range fills, re-read it from disk, hash it, and either mark it verified or
// clear it for re-download. A piece that fails verification is not reported
// as an error; it simply goes back into rotation.
package verify

import (
	"fmt"

	"github.com/mlsteele/bittles/internal/manifest"
	"github.com/mlsteele/bittles/internal/store"
)

// Store is the subset of store.Store's behavior verify depends on, so tests
// can supply a fake without touching disk.
type Store interface {
	VerifyPiece(piece int, expected [20]byte) (bool, error)
}

var _ Store = (*store.Store)(nil)

// CommitPieces verifies every piece index in indices against hashes, marking
// each one verified on success and clearing it (for re-download) on
// mismatch. Returns the subset that verified successfully.
func CommitPieces(s Store, m *manifest.Manifest, hashes [][20]byte, indices []int) ([]int, error) {
	var verified []int
	for _, piece := range indices {
		if piece < 0 || piece >= len(hashes) {
			return verified, fmt.Errorf("verify: piece %d out of bounds [0,%d)", piece, len(hashes))
		}

		ok, err := s.VerifyPiece(piece, hashes[piece])
		if err != nil {
			return verified, fmt.Errorf("verify: piece %d: %w", piece, err)
		}

		if ok {
			if err := m.MarkVerified(piece); err != nil {
				return verified, fmt.Errorf("verify: piece %d: %w", piece, err)
			}
			verified = append(verified, piece)
		} else {
			if err := m.RemovePiece(piece); err != nil {
				return verified, fmt.Errorf("verify: piece %d: %w", piece, err)
			}
		}
	}
	return verified, nil
}

// VerifyAll re-checks every piece the manifest has not yet marked verified.
// Used on startup to pick up resumed work: a piece that was full but never
// verified (e.g. the process was killed mid-commit) is re-checked here
// rather than trusted.
func VerifyAll(s Store, m *manifest.Manifest, hashes [][20]byte) ([]int, error) {
	var candidates []int
	for _, piece := range m.UnverifiedPieces() {
		if m.IsFull(piece) {
			candidates = append(candidates, piece)
		}
	}
	return CommitPieces(s, m, hashes, candidates)
}
