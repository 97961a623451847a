// Package scheduler picks the next block to request from a peer: the
// lowest-indexed unverified piece the peer has advertised, and within it the
// lowest-offset block not yet filled or already in flight. There is no
// rarest-first bias, no endgame mode, and no per-peer strategy; the order is
// strict and global.
package scheduler

import (
	"github.com/mlsteele/bittles/internal/fillable"
	"github.com/mlsteele/bittles/internal/manifest"
	"github.com/mlsteele/bittles/internal/outstanding"
	"github.com/mlsteele/bittles/internal/request"
)

const (
	// BlockLength is the size requested for every block but the last in a
	// piece, which is whatever remains.
	BlockLength = 16384

	// MaxOutstandingPerPeer bounds how many requests may be in flight to a
	// single peer at once.
	MaxOutstandingPerPeer = 5

	// MaxOutstandingPerBlock bounds how many peers may simultaneously have
	// the same block requested (no endgame duplication beyond this).
	MaxOutstandingPerBlock = 1
)

// Next returns the next block to request from peerKey, given the peer's
// advertised pieces (has) and the torrent's current fill/outstanding state.
// It returns (zero, false) if peerKey is already at its outstanding cap or no
// eligible block exists.
func Next(m *manifest.Manifest, tbl *outstanding.Table, has *fillable.Fillable, peerKey string) (request.BlockRequest, bool) {
	if tbl.CountForPeer(peerKey) >= MaxOutstandingPerPeer {
		return request.BlockRequest{}, false
	}

	for piece := 0; piece < m.Size.NumPieces; piece++ {
		if m.IsVerified(piece) || m.IsFull(piece) {
			continue
		}
		if !has.Has(int64(piece)) {
			continue
		}

		req, ok := nextBlockInPiece(m, tbl, piece, peerKey)
		if ok {
			return req, true
		}
	}

	return request.BlockRequest{}, false
}

// nextBlockInPiece scans piece's block-aligned offsets in order, skipping
// ranges already filled or already outstanding at their cap.
func nextBlockInPiece(m *manifest.Manifest, tbl *outstanding.Table, piece int, peerKey string) (request.BlockRequest, bool) {
	pieceSize, err := m.Size.PieceSize(piece)
	if err != nil {
		return request.BlockRequest{}, false
	}

	for offset := int64(0); offset < pieceSize; offset += BlockLength {
		length := BlockLength
		if remaining := pieceSize - offset; int64(length) > remaining {
			length = int(remaining)
		}

		filled, err := m.RangeFilled(piece, offset, int64(length))
		if err != nil || filled {
			continue
		}

		req := request.BlockRequest{Piece: piece, Offset: offset, Length: int64(length)}
		if tbl.HasPeerBlock(peerKey, req) {
			continue
		}
		if tbl.CountForBlock(req) >= MaxOutstandingPerBlock {
			continue
		}

		return req, true
	}

	return request.BlockRequest{}, false
}
