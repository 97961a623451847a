// Package engine orchestrates a single torrent download: it owns the one
// coarse mutex guarding the Store, Manifest, per-peer state, and the
// outstanding-requests table; implements peer.Handler to react to inbound
// messages; and drives startup (tracker announce, bounded peer fan-out) and
// shutdown (once the manifest is fully verified).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mlsteele/bittles/internal/biterr"
	"github.com/mlsteele/bittles/internal/config"
	"github.com/mlsteele/bittles/internal/fillable"
	"github.com/mlsteele/bittles/internal/manifest"
	"github.com/mlsteele/bittles/internal/metainfo"
	"github.com/mlsteele/bittles/internal/outstanding"
	"github.com/mlsteele/bittles/internal/peer"
	"github.com/mlsteele/bittles/internal/request"
	"github.com/mlsteele/bittles/internal/scheduler"
	"github.com/mlsteele/bittles/internal/store"
	"github.com/mlsteele/bittles/internal/tracker"
	"github.com/mlsteele/bittles/internal/verify"
	"github.com/mlsteele/bittles/internal/wire"
)

// listenPort is reported to the tracker but nothing actually listens on it:
// this client never accepts incoming connections (no seeding).
const listenPort = 6881

// peerState is the per-connection protocol state the coarse mutex guards,
// mirroring the Peer state entry in the data model: choking/interested
// flags in both directions plus which pieces this peer has advertised.
type peerState struct {
	outq chan<- *wire.Message

	peerChoking    bool
	peerInterested bool
	amChoking      bool
	amInterested   bool
	has            *fillable.Fillable
	nReceived      int
}

// Engine is the single-torrent orchestrator. It implements peer.Handler.
type Engine struct {
	cfg          *config.Config
	log          *slog.Logger
	store        *store.Store
	manifest     *manifest.Manifest
	manifestPath string
	meta         *metainfo.MetaInfo
	clientID     [20]byte

	mu          sync.Mutex
	peers       map[string]*peerState
	outstanding *outstanding.Table

	connsMu sync.Mutex
	conns   []*peer.Peer

	done     chan struct{}
	doneOnce sync.Once
}

// New builds an Engine around an already-opened Store and loaded Manifest.
// manifestPath is where the Manifest is persisted after every mutation that
// advances its state.
func New(cfg *config.Config, log *slog.Logger, st *store.Store, m *manifest.Manifest, manifestPath string, meta *metainfo.MetaInfo, clientID [20]byte) *Engine {
	return &Engine{
		cfg:          cfg,
		log:          log,
		store:        st,
		manifest:     m,
		manifestPath: manifestPath,
		meta:         meta,
		clientID:     clientID,
		peers:        make(map[string]*peerState),
		outstanding:  outstanding.New(),
		done:         make(chan struct{}),
	}
}

var _ peer.Handler = (*Engine)(nil)

// Run performs the startup sequence, connects peers, and blocks until the
// manifest is fully verified, every peer has errored out, or ctx is
// canceled.
func (e *Engine) Run(ctx context.Context, tc *tracker.Client) error {
	if _, err := verify.VerifyAll(e.store, e.manifest, e.meta.PieceHash); err != nil {
		return biterr.New(biterr.CryptoError, err)
	}
	if err := e.manifest.Store(e.manifestPath); err != nil {
		return biterr.New(biterr.IoError, err)
	}
	if e.manifest.AllVerified() {
		e.log.Info("engine.already_complete")
		return nil
	}

	resp, err := tc.Announce(ctx, tracker.AnnounceParams{
		InfoHash: e.meta.InfoHash,
		PeerID:   e.clientID,
		Port:     listenPort,
		Left:     0,
		Event:    tracker.EventStarted,
		NumWant:  4,
	})
	if err != nil {
		return biterr.New(biterr.TrackerError, err)
	}

	n := len(resp.Peers)
	if n > e.cfg.MaxPeers {
		n = e.cfg.MaxPeers
	}
	e.log.Info("engine.peers.selected", "using", n, "available", len(resp.Peers))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(e.cfg.MaxPeers))
	var wg sync.WaitGroup
	for _, addr := range resp.Peers[:n] {
		wg.Add(1)
		go func(addr netip.AddrPort) {
			defer wg.Done()
			if err := sem.Acquire(runCtx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			e.connectAndDrive(runCtx, addr)
		}(addr)
	}

	go e.progressLoop(runCtx)

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-e.done:
		e.log.Info("engine.complete")
	case <-allDone:
		e.log.Warn("engine.all_peers_exhausted")
	case <-ctx.Done():
	}

	cancel()
	e.stopAllPeers()
	<-allDone
	return nil
}

// connectAndDrive dials addr, runs its peer driver to completion, then
// ensures it is unregistered. It never returns an error: a failed dial or a
// per-peer protocol error is logged and simply drops that peer from the
// pool, per the propagation policy (fatal only at startup).
func (e *Engine) connectAndDrive(ctx context.Context, addr netip.AddrPort) {
	p, err := peer.Connect(ctx, addr, e.meta.InfoHash, e.clientID, e.manifest.Size.NumPieces, e, e.log)
	if err != nil {
		e.log.Warn("engine.peer.connect_failed", "addr", addr, "err", err.Error())
		return
	}

	e.connsMu.Lock()
	e.conns = append(e.conns, p)
	e.connsMu.Unlock()

	p.Start(ctx)
	_ = p.Wait()
	_ = p.Stop()
}

func (e *Engine) stopAllPeers() {
	e.connsMu.Lock()
	conns := append([]*peer.Peer(nil), e.conns...)
	e.connsMu.Unlock()

	for _, p := range conns {
		_ = p.Stop()
	}
}

func (e *Engine) progressLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			completed := e.manifest.CompletedCount()
			total := e.manifest.Size.NumPieces
			choking := 0
			for _, ps := range e.peers {
				if ps.peerChoking {
					choking++
				}
			}
			e.mu.Unlock()
			e.log.Info("engine.progress", "completed", completed, "total", total, "choking_peers", choking)
		}
	}
}

// RegisterPeer implements peer.Handler.
func (e *Engine) RegisterPeer(peerKey string, outq chan<- *wire.Message, numPieces int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.peers[peerKey] = &peerState{
		outq:        outq,
		peerChoking: true,
		amChoking:   true,
		has:         fillable.New(int64(numPieces)),
	}
}

// UnregisterPeer implements peer.Handler.
func (e *Engine) UnregisterPeer(peerKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.peers, peerKey)
	e.outstanding.ClearPeer(peerKey)
}

// HandleMessage implements peer.Handler. It processes one inbound message
// under the coarse mutex and returns the outbound messages this client
// should send in response, in the fixed order the data model requires.
func (e *Engine) HandleMessage(peerKey string, msg *wire.Message) ([]*wire.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, ok := e.peers[peerKey]
	if !ok {
		return nil, biterr.Newf(biterr.Internal, "engine: message from unregistered peer %s", peerKey)
	}

	if wire.IsKeepAlive(msg) {
		return e.nextOutbound(peerKey, ps), nil
	}
	ps.nReceived++

	switch msg.ID {
	case wire.Choke:
		ps.peerChoking = true
		e.outstanding.ClearPeer(peerKey)

	case wire.Unchoke:
		// Also clears outstanding from this peer: the simplest correct
		// policy, even though the peer may still answer requests sent
		// before the unchoke. They are simply re-requested.
		ps.peerChoking = false
		e.outstanding.ClearPeer(peerKey)

	case wire.Interested:
		ps.peerInterested = true

	case wire.NotInterested:
		ps.peerInterested = false

	case wire.Bitfield:
		if err := applyBitfield(ps.has, msg.Payload, e.manifest.Size.NumPieces); err != nil {
			return nil, biterr.New(biterr.PeerProtocolError, err)
		}

	case wire.Have:
		index, ok := msg.ParseHave()
		if !ok || int(index) >= e.manifest.Size.NumPieces {
			return nil, biterr.Newf(biterr.PeerProtocolError, "have: piece index %d out of range", index)
		}
		if _, err := ps.has.Add(int64(index), int64(index)+1); err != nil {
			return nil, biterr.New(biterr.PeerProtocolError, err)
		}

	case wire.Request, wire.Cancel:
		return nil, biterr.Newf(biterr.PeerProtocolError, "%s: not implemented, closing", msg.ID)

	case wire.Piece:
		if err := e.handlePiece(peerKey, msg); err != nil {
			return nil, err
		}

	case wire.Port:
		// DHT port advertisement; DHT is out of scope, ignored.

	default:
		return nil, biterr.Newf(biterr.PeerProtocolError, "unknown message id %d", msg.ID)
	}

	return e.nextOutbound(peerKey, ps), nil
}

// handlePiece writes the block to disk, folds it into the manifest, and
// runs the verify-and-commit pipeline over any piece the block completed.
func (e *Engine) handlePiece(peerKey string, msg *wire.Message) error {
	index, begin, block, ok := msg.ParsePiece()
	if !ok {
		return biterr.Newf(biterr.PeerProtocolError, "malformed piece message")
	}
	piece := int(index)
	if piece < 0 || piece >= e.manifest.Size.NumPieces {
		return biterr.Newf(biterr.PeerProtocolError, "piece index %d out of range", piece)
	}

	if err := e.store.WriteBlock(piece, int64(begin), block); err != nil {
		return biterr.New(biterr.IoError, err)
	}

	e.outstanding.Clear(peerKey, request.BlockRequest{
		Piece:  piece,
		Offset: int64(begin),
		Length: int64(len(block)),
	})

	newlyFull, err := e.manifest.AddBlock(piece, int64(begin), int64(len(block)))
	if err != nil {
		return biterr.New(biterr.Internal, err)
	}

	if len(newlyFull) == 0 {
		return nil
	}

	if _, err := verify.CommitPieces(e.store, e.manifest, e.meta.PieceHash, newlyFull); err != nil {
		return biterr.New(biterr.CryptoError, err)
	}
	if err := e.manifest.Store(e.manifestPath); err != nil {
		return biterr.New(biterr.IoError, err)
	}

	if e.manifest.AllVerified() {
		e.doneOnce.Do(func() { close(e.done) })
	}
	return nil
}

// nextOutbound computes the fixed-order reply to any inbound message: an
// unchoke if we are still choking, an interested if we haven't sent one
// yet, then as many requests as the scheduler will hand out.
func (e *Engine) nextOutbound(peerKey string, ps *peerState) []*wire.Message {
	var outs []*wire.Message

	if ps.amChoking {
		ps.amChoking = false
		outs = append(outs, wire.MessageUnchoke())
	}
	if !ps.amInterested {
		ps.amInterested = true
		outs = append(outs, wire.MessageInterested())
	}

	if !ps.peerChoking && ps.amInterested {
		for {
			req, ok := scheduler.Next(e.manifest, e.outstanding, ps.has, peerKey)
			if !ok {
				break
			}
			e.outstanding.Add(peerKey, req)
			outs = append(outs, wire.MessageRequest(uint32(req.Piece), uint32(req.Offset), uint32(req.Length)))
		}
	}

	return outs
}

// applyBitfield parses a Bitfield payload (MSB-first bits) into has,
// grouping consecutive set bits into single Fillable ranges rather than
// adding one piece at a time.
func applyBitfield(has *fillable.Fillable, payload []byte, numPieces int) error {
	minLen := (numPieces + 7) / 8
	if len(payload) < minLen {
		return fmt.Errorf("bitfield: got %d bytes, want at least %d for %d pieces", len(payload), minLen, numPieces)
	}

	start := -1
	for i := 0; i < numPieces; i++ {
		bit := payload[i/8]&(0x80>>uint(i%8)) != 0
		switch {
		case bit && start < 0:
			start = i
		case !bit && start >= 0:
			if _, err := has.Add(int64(start), int64(i)); err != nil {
				return err
			}
			start = -1
		}
	}
	if start >= 0 {
		if _, err := has.Add(int64(start), int64(numPieces)); err != nil {
			return err
		}
	}
	return nil
}
