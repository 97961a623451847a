// Package config holds the client's tunable constants. The engine reads
// MaxPeers and ProgressInterval and the command reads DataDir; the
// scheduler, peer driver, tracker client, and peer id generator do not read
// this package and keep their own constants with the same values. Rate
// limiting, choke algorithms, endgame, picker strategies, and DHT/PEX flags
// have no home here.
package config

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Config bounds this client's resource usage and timing.
type Config struct {
	// MaxPeers is the maximum number of concurrent peer connections.
	MaxPeers int

	// MaxOutstandingPerPeer bounds requests in flight to a single peer.
	MaxOutstandingPerPeer int

	// MaxOutstandingPerBlock bounds how many peers may have the same block
	// requested at once.
	MaxOutstandingPerBlock int

	// BlockLength is the size requested for every block but a piece's last.
	BlockLength int64

	// ProgressInterval is how often the orchestrator logs download progress.
	ProgressInterval time.Duration

	// DialTimeout bounds establishing a new peer connection.
	DialTimeout time.Duration

	// TrackerTimeout bounds a single tracker announce.
	TrackerTimeout time.Duration

	// DataDir is where the payload file and the manifest are written,
	// relative to the working directory. The log file is not kept here.
	DataDir string

	// ClientIDPrefix is prepended to the random bytes of the generated
	// peer id.
	ClientIDPrefix string
}

func defaultConfig() Config {
	return Config{
		MaxPeers:               15,
		MaxOutstandingPerPeer:  5,
		MaxOutstandingPerBlock: 1,
		BlockLength:            16384,
		ProgressInterval:       500 * time.Millisecond,
		DialTimeout:            3 * time.Second,
		TrackerTimeout:         10 * time.Second,
		DataDir:                "tmp",
		ClientIDPrefix:         "-BI0001-",
	}
}

var cfg atomic.Value

// Init installs the default Config as the process-wide global.
func Init() {
	c := defaultConfig()
	cfg.Store(&c)
}

// Load returns the current config. Panics if Init was never called; this is
// an Internal invariant violation, not a runtime condition callers recover
// from.
func Load() *Config {
	v, ok := cfg.Load().(*Config)
	if !ok {
		panic(fmt.Errorf("config: Load called before Init"))
	}
	return v
}

// Update applies mut to a copy of the current config and swaps it in
// atomically, returning the new value.
func Update(mut func(*Config)) *Config {
	curr := Load()
	next := *curr
	mut(&next)
	cfg.Store(&next)
	return &next
}
