// Command bittles downloads a single torrent's payload to ./tmp and exits
// once every piece has verified.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlsteele/bittles/internal/config"
	"github.com/mlsteele/bittles/internal/engine"
	"github.com/mlsteele/bittles/internal/logging"
	"github.com/mlsteele/bittles/internal/manifest"
	"github.com/mlsteele/bittles/internal/metainfo"
	"github.com/mlsteele/bittles/internal/peerid"
	"github.com/mlsteele/bittles/internal/store"
	"github.com/mlsteele/bittles/internal/tracker"
)

const usage = "Usage: bittles <torrent>\n"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	torrentPath := os.Args[1]

	config.Init()
	cfg := config.Load()

	log, logFile, err := logging.Setup("bittles.log")
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer logFile.Close()

	meta, err := metainfo.ParseFile(torrentPath)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", torrentPath, err)
	}
	log.Info("torrent.loaded", "name", meta.Name, "pieces", meta.Size.NumPieces, "total_size", meta.Size.TotalSize)

	clientID, err := peerid.Generate()
	if err != nil {
		return fmt.Errorf("generating peer id: %w", err)
	}

	dataPath := filepath.Join(cfg.DataDir, "data")
	manifestPath := filepath.Join(cfg.DataDir, "manifest")

	st, err := store.Open(dataPath, meta.Size)
	if err != nil {
		return fmt.Errorf("opening data store: %w", err)
	}
	defer st.Close()

	m, err := manifest.LoadOrCreate(manifestPath, meta.InfoHash, meta.Size)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	tc := tracker.New(meta.Announce, log)

	e := engine.New(cfg, log, st, m, manifestPath, meta, clientID)

	ctx := context.Background()
	if err := e.Run(ctx, tc); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	log.Info("download.complete")
	return nil
}
