// Package store implements the single-file, random-access byte store that
// backs a torrent's payload on disk. A Store owns exactly one *os.File,
// addressed by absolute offset within the flat torrent byte stream.
package store

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlsteele/bittles/internal/sizeinfo"
)

// Store is the on-disk payload file for one torrent.
//
// Grounded on original_source/src/datastore.rs: a single fs::File opened
// (or created) and truncated to the total size once, with write_block and
// verify_piece operating by absolute offset. Multi-file torrents are out of
// scope (spec Non-goals), so there is exactly one file here, unlike the
// teacher's multi-file pkg/piece/storage.go Store.
type Store struct {
	f    *os.File
	size sizeinfo.SizeInfo
}

// Open creates (or reuses) the payload file at path, truncating it to the
// torrent's total size if it does not already have that length. A
// pre-existing file of the right length is left untouched (sparse regions
// are whatever the filesystem already holds), which is what makes resume
// safe.
func Open(path string, size sizeinfo.SizeInfo) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store: stat %s: %w", path, err)
	}
	if info.Size() != size.TotalSize {
		if err := f.Truncate(size.TotalSize); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("store: truncate %s: %w", path, err)
		}
	}

	return &Store{f: f, size: size}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.f.Close()
}

// WriteBlock writes block at (piece, offset), validating that the range
// lies within the piece's bounds before seeking and writing.
func (s *Store) WriteBlock(piece int, offset int64, block []byte) error {
	if err := s.size.CheckRange(piece, offset, int64(len(block))); err != nil {
		return fmt.Errorf("store: write_block: %w", err)
	}

	abs := s.size.AbsoluteOffset(piece, offset)
	if _, err := s.f.WriteAt(block, abs); err != nil {
		return fmt.Errorf("store: write_block piece=%d offset=%d: %w", piece, offset, err)
	}
	return nil
}

// VerifyPiece re-reads piece's full byte range from disk, hashes it, and
// reports whether it matches expected. This layer never retries on failure;
// the caller decides what to do with a mismatch.
func (s *Store) VerifyPiece(piece int, expected [sha1.Size]byte) (bool, error) {
	size, err := s.size.PieceSize(piece)
	if err != nil {
		return false, fmt.Errorf("store: verify_piece: %w", err)
	}

	buf := make([]byte, size)
	abs := s.size.AbsoluteOffset(piece, 0)
	if _, err := s.f.ReadAt(buf, abs); err != nil {
		return false, fmt.Errorf("store: verify_piece read piece=%d: %w", piece, err)
	}

	return sha1.Sum(buf) == expected, nil
}
