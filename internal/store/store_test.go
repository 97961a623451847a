package store

import (
	"crypto/sha1"
	"path/filepath"
	"testing"

	"github.com/mlsteele/bittles/internal/sizeinfo"
)

func TestWriteAndVerifyPiece(t *testing.T) {
	si, err := sizeinfo.New(18, 3, 6)
	if err != nil {
		t.Fatalf("sizeinfo.New: %v", err)
	}

	path := filepath.Join(t.TempDir(), "data")
	s, err := Open(path, si)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	piece1 := []byte("abcdef")
	if err := s.WriteBlock(1, 0, piece1); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	ok, err := s.VerifyPiece(1, sha1.Sum(piece1))
	if err != nil {
		t.Fatalf("VerifyPiece: %v", err)
	}
	if !ok {
		t.Fatalf("VerifyPiece should match written data")
	}

	ok, err = s.VerifyPiece(1, sha1.Sum([]byte("wrongwr")))
	if err != nil {
		t.Fatalf("VerifyPiece: %v", err)
	}
	if ok {
		t.Fatalf("VerifyPiece should not match wrong hash")
	}
}

func TestWriteBlockRejectsOutOfRange(t *testing.T) {
	si, err := sizeinfo.New(18, 3, 6)
	if err != nil {
		t.Fatalf("sizeinfo.New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "data")
	s, err := Open(path, si)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.WriteBlock(0, 4, []byte("abcdef")); err == nil {
		t.Fatalf("WriteBlock spanning past piece end should error")
	}
}

func TestOpenReusesExistingFile(t *testing.T) {
	si, err := sizeinfo.New(18, 3, 6)
	if err != nil {
		t.Fatalf("sizeinfo.New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "data")

	s1, err := Open(path, si)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.WriteBlock(0, 0, []byte("abcdef")); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path, si)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	defer s2.Close()

	ok, err := s2.VerifyPiece(0, sha1.Sum([]byte("abcdef")))
	if err != nil {
		t.Fatalf("VerifyPiece: %v", err)
	}
	if !ok {
		t.Fatalf("data written before re-open should survive")
	}
}
