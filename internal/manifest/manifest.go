// Package manifest tracks, per torrent, which byte ranges of each piece have
// been filled and which pieces have been hash-verified, and persists that
// state atomically so an interrupted download can resume without redoing
// verified work.
package manifest

import (
	"crypto/sha1"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlsteele/bittles/internal/fillable"
	"github.com/mlsteele/bittles/internal/sizeinfo"
)

// Manifest is bound to exactly one torrent by InfoHash. verified[i] implies
// present[i].IsFull(); this is the core resume invariant and is only ever
// advanced by the verify-and-commit pipeline (internal/verify).
type Manifest struct {
	InfoHash [sha1.Size]byte
	Size     sizeinfo.SizeInfo
	verified []bool
	present  []*fillable.Fillable
}

// New creates a fresh, empty Manifest for a torrent with the given InfoHash
// and geometry.
func New(infoHash [sha1.Size]byte, size sizeinfo.SizeInfo) *Manifest {
	present := make([]*fillable.Fillable, size.NumPieces)
	for i := range present {
		pieceSize, _ := size.PieceSize(i)
		present[i] = fillable.New(pieceSize)
	}
	return &Manifest{
		InfoHash: infoHash,
		Size:     size,
		verified: make([]bool, size.NumPieces),
		present:  present,
	}
}

// record is the gob-encoded on-disk shape; Fillable's internal slice is not
// exported, so the manifest persists the filled ranges as plain slices and
// rebuilds Fillables on load.
type record struct {
	InfoHash [sha1.Size]byte
	Size     sizeinfo.SizeInfo
	Verified []bool
	Present  [][]fillable.Range
}

// Load reads a previously persisted Manifest from path.
func Load(path string, expectInfoHash [sha1.Size]byte) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	defer f.Close()

	var rec record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}

	if rec.InfoHash != expectInfoHash {
		return nil, fmt.Errorf("manifest: info hash mismatch loading %s", path)
	}
	if len(rec.Verified) != rec.Size.NumPieces || len(rec.Present) != rec.Size.NumPieces {
		return nil, fmt.Errorf("manifest: %s has wrong-sized verified/present lists", path)
	}

	m := &Manifest{
		InfoHash: rec.InfoHash,
		Size:     rec.Size,
		verified: rec.Verified,
		present:  make([]*fillable.Fillable, rec.Size.NumPieces),
	}
	for i, ranges := range rec.Present {
		pieceSize, err := rec.Size.PieceSize(i)
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: %w", path, err)
		}
		pf := fillable.New(pieceSize)
		for _, r := range ranges {
			if _, err := pf.Add(r.Start, r.End); err != nil {
				return nil, fmt.Errorf("manifest: %s: corrupt present range: %w", path, err)
			}
		}
		m.present[i] = pf
	}
	if err := m.checkRep(); err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

// LoadOrCreate loads path if it exists, otherwise returns a fresh Manifest
// for size. An existing manifest whose InfoHash differs from infoHash is an
// error, not a reason to start fresh.
func LoadOrCreate(path string, infoHash [sha1.Size]byte, size sizeinfo.SizeInfo) (*Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return New(infoHash, size), nil
		}
		return nil, fmt.Errorf("manifest: stat %s: %w", path, err)
	}
	return Load(path, infoHash)
}

// checkRep validates the sanity invariants expected after a load.
func (m *Manifest) checkRep() error {
	if len(m.verified) != m.Size.NumPieces {
		return fmt.Errorf("wrong sized verified list")
	}
	if len(m.present) != m.Size.NumPieces {
		return fmt.Errorf("wrong sized present list")
	}
	for i, v := range m.verified {
		if v && !m.present[i].IsFull() {
			return fmt.Errorf("piece %d verified but not full", i)
		}
	}
	return nil
}

// Store persists m atomically to path: write to a sibling ".swp" file, then
// rename over path. A failure partway through leaves the existing path
// untouched.
func (m *Manifest) Store(path string) error {
	rec := record{
		InfoHash: m.InfoHash,
		Size:     m.Size,
		Verified: append([]bool(nil), m.verified...),
		Present:  make([][]fillable.Range, len(m.present)),
	}
	for i, f := range m.present {
		rec.Present[i] = f.Ranges()
	}

	tmp := path + ".swp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir: %w", err)
	}

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: create %s: %w", tmp, err)
	}
	if err := gob.NewEncoder(out).Encode(&rec); err != nil {
		_ = out.Close()
		return fmt.Errorf("manifest: encode %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("manifest: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// AddBlock records the arrival of a contiguous byte range starting at
// (piece, offset) and spanning length bytes; the range may cross into
// subsequent pieces (e.g. a block request whose length was mis-sized) but in
// practice blocks never cross piece boundaries in this client. Returns the
// list of piece indices that newly became full as a result of this call.
func (m *Manifest) AddBlock(piece int, offset int64, length int64) ([]int, error) {
	if piece < 0 || piece >= m.Size.NumPieces {
		return nil, fmt.Errorf("manifest: piece %d out of bounds [0,%d)", piece, m.Size.NumPieces)
	}

	pieceSize, err := m.Size.PieceSize(piece)
	if err != nil {
		return nil, err
	}

	var newlyFull []int

	cur := piece
	curOffset := offset
	remaining := length
	for remaining > 0 {
		if cur >= m.Size.NumPieces {
			return newlyFull, fmt.Errorf("manifest: add_block runs past end of torrent")
		}
		curSize := pieceSize
		if cur != piece {
			curSize, err = m.Size.PieceSize(cur)
			if err != nil {
				return newlyFull, err
			}
		}

		chunk := curSize - curOffset
		if chunk > remaining {
			chunk = remaining
		}

		full, err := m.present[cur].Add(curOffset, curOffset+chunk)
		if err != nil {
			return newlyFull, fmt.Errorf("manifest: add_block piece=%d: %w", cur, err)
		}
		if full {
			newlyFull = append(newlyFull, cur)
		}

		remaining -= chunk
		curOffset = 0
		cur++
	}

	return newlyFull, nil
}

// RemovePiece clears a piece's present range, marking it as needing
// re-download (used when verification fails).
func (m *Manifest) RemovePiece(piece int) error {
	if piece < 0 || piece >= m.Size.NumPieces {
		return fmt.Errorf("manifest: piece %d out of bounds [0,%d)", piece, m.Size.NumPieces)
	}
	m.present[piece].Clear()
	return nil
}

// MarkVerified records that piece has been hash-verified.
func (m *Manifest) MarkVerified(piece int) error {
	if piece < 0 || piece >= m.Size.NumPieces {
		return fmt.Errorf("manifest: piece %d out of bounds [0,%d)", piece, m.Size.NumPieces)
	}
	m.verified[piece] = true
	return nil
}

// IsVerified reports whether piece has been hash-verified.
func (m *Manifest) IsVerified(piece int) bool {
	return m.verified[piece]
}

// IsFull reports whether piece's present range spans the whole piece.
func (m *Manifest) IsFull(piece int) bool {
	return m.present[piece].IsFull()
}

// AllVerified reports whether every piece has been hash-verified.
func (m *Manifest) AllVerified() bool {
	for _, v := range m.verified {
		if !v {
			return false
		}
	}
	return true
}

// UnverifiedPieces returns the indices of every piece not yet verified,
// regardless of fill state — used by verify_all on restart.
func (m *Manifest) UnverifiedPieces() []int {
	var out []int
	for i, v := range m.verified {
		if !v {
			out = append(out, i)
		}
	}
	return out
}

// FirstUnfilledOffset returns the smallest unfilled byte offset within
// piece, or (0, false) if the piece is full.
func (m *Manifest) FirstUnfilledOffset(piece int) (int64, bool) {
	return m.present[piece].FirstUnfilled()
}

// RangeFilled reports whether [offset,offset+length) of piece has already
// been written. Used by the scheduler to skip blocks that have already
// arrived without re-requesting them.
func (m *Manifest) RangeFilled(piece int, offset, length int64) (bool, error) {
	if piece < 0 || piece >= m.Size.NumPieces {
		return false, fmt.Errorf("manifest: piece %d out of bounds [0,%d)", piece, m.Size.NumPieces)
	}
	return m.present[piece].HasRange(offset, offset+length)
}

// CompletedCount returns how many pieces are verified, for progress
// reporting.
func (m *Manifest) CompletedCount() int {
	n := 0
	for _, v := range m.verified {
		if v {
			n++
		}
	}
	return n
}
