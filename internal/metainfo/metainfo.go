// Package metainfo parses the immutable torrent descriptor: announce URL,
// InfoHash, piece geometry, and per-piece hashes. This is an external
// collaborator to the download engine, not part of the core it feeds.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"

	bencode "github.com/jackpal/bencode-go"

	"github.com/mlsteele/bittles/internal/sizeinfo"
)

var (
	ErrTopLevelNotDict = errors.New("metainfo: top-level is not a dict")
	ErrAnnounceMissing = errors.New("metainfo: 'announce' missing")
	ErrInfoMissing     = errors.New("metainfo: 'info' missing")
	ErrInfoNotDict     = errors.New("metainfo: 'info' is not a dict")
	ErrNameMissing     = errors.New("metainfo: 'info' name missing")
	ErrPieceLenInvalid = errors.New("metainfo: 'info' piece length must be > 0")
	ErrPiecesInvalid   = errors.New("metainfo: 'info' pieces missing or malformed")
	ErrMultiFile       = errors.New("metainfo: multi-file torrents are not supported")
)

// MetaInfo is the parsed, immutable descriptor of a single-file torrent.
type MetaInfo struct {
	Announce  string
	InfoHash  [sha1.Size]byte
	Size      sizeinfo.SizeInfo
	Name      string
	PieceHash [][sha1.Size]byte
}

// ParseFile reads and parses the torrent descriptor at path.
func ParseFile(path string) (*MetaInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses a torrent descriptor from r.
func Parse(r io.Reader) (*MetaInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("metainfo: read: %w", err)
	}

	raw, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("metainfo: decode: %w", err)
	}
	root, ok := raw.(map[string]interface{})
	if !ok {
		return nil, ErrTopLevelNotDict
	}

	announce, ok := root["announce"].(string)
	if !ok || announce == "" {
		return nil, ErrAnnounceMissing
	}

	rawInfo, ok := root["info"]
	if !ok {
		return nil, ErrInfoMissing
	}
	infoDict, ok := rawInfo.(map[string]interface{})
	if !ok {
		return nil, ErrInfoNotDict
	}

	if _, multiFile := infoDict["files"]; multiFile {
		return nil, ErrMultiFile
	}

	name, ok := infoDict["name"].(string)
	if !ok || name == "" {
		return nil, ErrNameMissing
	}

	pieceLength, err := toInt64(infoDict["piece length"])
	if err != nil || pieceLength <= 0 {
		return nil, ErrPieceLenInvalid
	}

	length, err := toInt64(infoDict["length"])
	if err != nil || length <= 0 {
		return nil, ErrMultiFile
	}

	piecesStr, ok := infoDict["pieces"].(string)
	if !ok || len(piecesStr)%sha1.Size != 0 || len(piecesStr) == 0 {
		return nil, ErrPiecesInvalid
	}
	numPieces := len(piecesStr) / sha1.Size
	pieceHash := make([][sha1.Size]byte, numPieces)
	for i := range pieceHash {
		copy(pieceHash[i][:], piecesStr[i*sha1.Size:(i+1)*sha1.Size])
	}

	size, err := sizeinfo.New(length, numPieces, pieceLength)
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, infoDict); err != nil {
		return nil, fmt.Errorf("metainfo: re-encode info dict: %w", err)
	}
	infoHash := sha1.Sum(buf.Bytes())

	return &MetaInfo{
		Announce:  announce,
		InfoHash:  infoHash,
		Size:      size,
		Name:      name,
		PieceHash: pieceHash,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("metainfo: expected integer, got %T", v)
	}
}
