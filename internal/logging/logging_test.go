package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrettyHandlerWritesMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.UseColor = false
	logger := slog.New(NewPrettyHandler(&buf, &opts))

	logger.Info("announce.ok", "peers", 12)

	out := buf.String()
	if !strings.Contains(out, "announce.ok") {
		t.Fatalf("output missing message: %q", out)
	}
	if !strings.Contains(out, `"peers":12`) {
		t.Fatalf("output missing attrs: %q", out)
	}
}

func TestSetupWritesToBothStderrAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bittles.log")

	logger, f, err := Setup(path)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer f.Close()

	logger.Info("engine.start", "torrent", "example.torrent")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "engine.start") {
		t.Fatalf("log file missing message: %q", data)
	}
}

func TestSetupTruncatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bittles.log")
	if err := os.WriteFile(path, []byte("stale contents\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, f, err := Setup(path)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "stale contents") {
		t.Fatalf("expected truncated file, got %q", data)
	}
}
