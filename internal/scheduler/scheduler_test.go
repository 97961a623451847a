package scheduler

import (
	"testing"

	"github.com/mlsteele/bittles/internal/fillable"
	"github.com/mlsteele/bittles/internal/manifest"
	"github.com/mlsteele/bittles/internal/outstanding"
	"github.com/mlsteele/bittles/internal/request"
	"github.com/mlsteele/bittles/internal/sizeinfo"
)

func newTestManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	leaderLen := int64(2*BlockLength + 100)
	size, err := sizeinfo.New(leaderLen+BlockLength+50, 2, leaderLen)
	if err != nil {
		t.Fatalf("sizeinfo.New: %v", err)
	}
	var infoHash [20]byte
	return manifest.New(infoHash, size)
}

func fullHas(n int64) *fillable.Fillable {
	f := fillable.New(n)
	f.Fill()
	return f
}

func TestNextReturnsFirstBlockOfFirstPiece(t *testing.T) {
	m := newTestManifest(t)
	tbl := outstanding.New()
	has := fullHas(int64(m.Size.NumPieces))

	req, ok := Next(m, tbl, has, "peerA")
	if !ok {
		t.Fatalf("expected a block")
	}
	if req.Piece != 0 || req.Offset != 0 || req.Length != BlockLength {
		t.Fatalf("req = %+v", req)
	}
}

func TestNextSkipsPeerDoesNotHave(t *testing.T) {
	m := newTestManifest(t)
	tbl := outstanding.New()
	has := fillable.New(int64(m.Size.NumPieces))
	// Peer only has piece 1.
	if _, err := has.Add(1, 2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	req, ok := Next(m, tbl, has, "peerA")
	if !ok {
		t.Fatalf("expected a block")
	}
	if req.Piece != 1 {
		t.Fatalf("req.Piece = %d, want 1", req.Piece)
	}
}

func TestNextSkipsFilledRanges(t *testing.T) {
	m := newTestManifest(t)
	tbl := outstanding.New()
	has := fullHas(int64(m.Size.NumPieces))

	if _, err := m.AddBlock(0, 0, BlockLength); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	req, ok := Next(m, tbl, has, "peerA")
	if !ok {
		t.Fatalf("expected a block")
	}
	if req.Piece != 0 || req.Offset != BlockLength {
		t.Fatalf("req = %+v, want second block of piece 0", req)
	}
}

func TestNextSkipsAlreadyOutstanding(t *testing.T) {
	m := newTestManifest(t)
	tbl := outstanding.New()
	has := fullHas(int64(m.Size.NumPieces))

	first := request.BlockRequest{Piece: 0, Offset: 0, Length: BlockLength}
	tbl.Add("peerB", first)

	req, ok := Next(m, tbl, has, "peerA")
	if !ok {
		t.Fatalf("expected a block")
	}
	if req == first {
		t.Fatalf("should not re-request a block already outstanding to another peer")
	}
}

func TestNextRespectsPeerOutstandingCap(t *testing.T) {
	m := newTestManifest(t)
	tbl := outstanding.New()
	has := fullHas(int64(m.Size.NumPieces))

	for i := 0; i < MaxOutstandingPerPeer; i++ {
		tbl.Add("peerA", request.BlockRequest{Piece: 1, Offset: int64(i) * BlockLength, Length: BlockLength})
	}

	if _, ok := Next(m, tbl, has, "peerA"); ok {
		t.Fatalf("expected no block once peer is at its outstanding cap")
	}
}

func TestNextSkipsVerifiedPieces(t *testing.T) {
	m := newTestManifest(t)
	tbl := outstanding.New()
	has := fullHas(int64(m.Size.NumPieces))

	if _, err := m.AddBlock(0, 0, m.Size.LeaderPieceLength); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := m.MarkVerified(0); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}

	req, ok := Next(m, tbl, has, "peerA")
	if !ok {
		t.Fatalf("expected a block from piece 1")
	}
	if req.Piece != 1 {
		t.Fatalf("req.Piece = %d, want 1", req.Piece)
	}
}

func TestNextExhausted(t *testing.T) {
	m := newTestManifest(t)
	tbl := outstanding.New()
	has := fillable.New(int64(m.Size.NumPieces))

	if _, ok := Next(m, tbl, has, "peerA"); ok {
		t.Fatalf("expected no block when peer has nothing")
	}
}
