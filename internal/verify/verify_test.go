package verify

import (
	"testing"

	"github.com/mlsteele/bittles/internal/manifest"
	"github.com/mlsteele/bittles/internal/sizeinfo"
)

type fakeStore struct {
	good map[int]bool
}

func (f *fakeStore) VerifyPiece(piece int, expected [20]byte) (bool, error) {
	return f.good[piece], nil
}

func newTestManifest(t *testing.T, numPieces int) *manifest.Manifest {
	t.Helper()
	size, err := sizeinfo.New(int64(numPieces)*10, numPieces, 10)
	if err != nil {
		t.Fatalf("sizeinfo.New: %v", err)
	}
	var infoHash [20]byte
	m := manifest.New(infoHash, size)
	for i := 0; i < numPieces; i++ {
		if _, err := m.AddBlock(i, 0, 10); err != nil {
			t.Fatalf("AddBlock: %v", err)
		}
	}
	return m
}

func TestCommitPiecesMarksVerifiedOnMatch(t *testing.T) {
	m := newTestManifest(t, 2)
	s := &fakeStore{good: map[int]bool{0: true, 1: true}}
	hashes := make([][20]byte, 2)

	verified, err := CommitPieces(s, m, hashes, []int{0, 1})
	if err != nil {
		t.Fatalf("CommitPieces: %v", err)
	}
	if len(verified) != 2 {
		t.Fatalf("verified = %v, want both pieces", verified)
	}
	if !m.IsVerified(0) || !m.IsVerified(1) {
		t.Fatalf("expected both pieces marked verified")
	}
}

func TestCommitPiecesClearsOnMismatch(t *testing.T) {
	m := newTestManifest(t, 1)
	s := &fakeStore{good: map[int]bool{}}
	hashes := make([][20]byte, 1)

	verified, err := CommitPieces(s, m, hashes, []int{0})
	if err != nil {
		t.Fatalf("CommitPieces: %v", err)
	}
	if len(verified) != 0 {
		t.Fatalf("verified = %v, want none", verified)
	}
	if m.IsVerified(0) {
		t.Fatalf("piece should not be verified")
	}
	if m.IsFull(0) {
		t.Fatalf("piece should have been cleared for re-download")
	}
}

func TestVerifyAllSkipsIncompletePieces(t *testing.T) {
	size, err := sizeinfo.New(20, 2, 10)
	if err != nil {
		t.Fatalf("sizeinfo.New: %v", err)
	}
	var infoHash [20]byte
	m := manifest.New(infoHash, size)
	if _, err := m.AddBlock(0, 0, 10); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	// Piece 1 left unfilled.

	s := &fakeStore{good: map[int]bool{0: true}}
	hashes := make([][20]byte, 2)

	verified, err := VerifyAll(s, m, hashes)
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if len(verified) != 1 || verified[0] != 0 {
		t.Fatalf("verified = %v, want [0]", verified)
	}
}
