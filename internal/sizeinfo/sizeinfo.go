// Package sizeinfo holds the pure arithmetic over a torrent's piece/offset
// geometry: total size, piece count, and the nominal (leader) piece length
// shared by every piece but possibly the last.
package sizeinfo

import "fmt"

// SizeInfo is an immutable snapshot of a torrent's size geometry.
type SizeInfo struct {
	TotalSize         int64
	NumPieces         int
	LeaderPieceLength int64
}

// New builds a SizeInfo from the three independent quantities and checks the
// invariant (numPieces-1)*leaderPieceLength < totalSize <= numPieces*leaderPieceLength.
func New(totalSize int64, numPieces int, leaderPieceLength int64) (SizeInfo, error) {
	si := SizeInfo{TotalSize: totalSize, NumPieces: numPieces, LeaderPieceLength: leaderPieceLength}
	if numPieces <= 0 {
		return SizeInfo{}, fmt.Errorf("sizeinfo: num_pieces must be positive, got %d", numPieces)
	}
	if leaderPieceLength <= 0 {
		return SizeInfo{}, fmt.Errorf("sizeinfo: leader_piece_length must be positive, got %d", leaderPieceLength)
	}
	lower := int64(numPieces-1) * leaderPieceLength
	upper := int64(numPieces) * leaderPieceLength
	if !(lower < totalSize && totalSize <= upper) {
		return SizeInfo{}, fmt.Errorf(
			"sizeinfo: total_size %d out of range (%d, %d] for num_pieces=%d leader_piece_length=%d",
			totalSize, lower, upper, numPieces, leaderPieceLength,
		)
	}
	return si, nil
}

// PieceSize returns the byte length of piece i: LeaderPieceLength for every
// piece except the last, which is whatever remains of TotalSize.
func (s SizeInfo) PieceSize(i int) (int64, error) {
	if i < 0 || i >= s.NumPieces {
		return 0, fmt.Errorf("sizeinfo: piece index %d out of range [0,%d)", i, s.NumPieces)
	}
	if i < s.NumPieces-1 {
		return s.LeaderPieceLength, nil
	}
	return s.TotalSize - int64(s.NumPieces-1)*s.LeaderPieceLength, nil
}

// AbsoluteOffset maps a (piece, offset-within-piece) pair to its position in
// the flat torrent byte stream.
func (s SizeInfo) AbsoluteOffset(piece int, offset int64) int64 {
	return int64(piece)*s.LeaderPieceLength + offset
}

// CheckRange validates that [offset, offset+length) lies within piece's bounds
// and that piece itself is in range.
func (s SizeInfo) CheckRange(piece int, offset, length int64) error {
	size, err := s.PieceSize(piece)
	if err != nil {
		return err
	}
	if offset < 0 || length < 0 || offset+length > size {
		return fmt.Errorf(
			"sizeinfo: range [%d,%d) out of bounds for piece %d (size %d)",
			offset, offset+length, piece, size,
		)
	}
	return nil
}
