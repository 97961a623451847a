// Package peer drives a single TCP connection to a remote peer: the
// handshake, then a read loop and a write loop running side by side. All
// protocol-state mutation and scheduling decisions live outside this
// package, behind the Handler interface; Peer itself owns only the socket
// and the bounded outbound queue.
package peer

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mlsteele/bittles/internal/wire"
)

const (
	readTimeout       = 45 * time.Second
	writeTimeout      = 45 * time.Second
	keepAliveInterval = 2 * time.Minute
	idleTimeout       = 5 * time.Minute

	// outboundLen matches the per-peer outstanding-request cap. A reply
	// longer than this (an unchoke, an interested, and a full batch of
	// requests) blocks the read loop until the write loop drains the queue.
	outboundLen = 5
)

// Handler reacts to inbound messages and owns every piece of shared state
// (Manifest, Store, outstanding table, peer table) this connection touches.
// Its methods are called synchronously from this Peer's read loop, so an
// implementation is expected to hold its own lock only for as long as it
// takes to compute a decision, and to return before any blocking I/O.
type Handler interface {
	// RegisterPeer is called once the handshake completes, before the read
	// and write loops start. outq is this peer's own send queue, handed
	// back so the handler can push unsolicited messages (e.g. a Have
	// broadcast landing while this peer is registered) without going
	// through HandleMessage.
	RegisterPeer(peerKey string, outq chan<- *wire.Message, numPieces int)

	// UnregisterPeer is called once, when the connection is closing for any
	// reason (read/write error, Stop, or context cancellation).
	UnregisterPeer(peerKey string)

	// HandleMessage processes one inbound message (nil denotes a
	// keep-alive) and returns zero or more messages to send back, in
	// order.
	HandleMessage(peerKey string, msg *wire.Message) ([]*wire.Message, error)
}

// Peer owns one peer TCP connection and its read/write loops.
type Peer struct {
	conn    net.Conn
	key     string
	log     *slog.Logger
	handler Handler

	outq    chan *wire.Message
	grp     *errgroup.Group
	cancel  context.CancelFunc
	started bool

	unregisterOnce sync.Once
}

// Connect dials addr, performs the handshake, and registers the resulting
// Peer with handler. The returned Peer has not yet started its loops; call
// Start to begin processing.
func Connect(
	ctx context.Context,
	addr netip.AddrPort,
	infoHash, clientID [sha1.Size]byte,
	numPieces int,
	handler Handler,
	log *slog.Logger,
) (*Peer, error) {
	dialer := &net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", addr, err)
	}

	key := conn.RemoteAddr().String()
	l := log.With("peer", key)

	_ = conn.SetDeadline(time.Now().Add(readTimeout))
	hs := wire.NewHandshake(infoHash, clientID)
	if _, err := hs.Exchange(conn, true); err != nil {
		l.Warn("peer.handshake.failed", "err", err.Error())
		_ = conn.Close()
		return nil, fmt.Errorf("peer: handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	l.Info("peer.handshake.ok")

	p := &Peer{
		conn:    conn,
		key:     key,
		log:     l,
		handler: handler,
		outq:    make(chan *wire.Message, outboundLen),
	}
	handler.RegisterPeer(key, p.outq, numPieces)
	return p, nil
}

// Key returns the peer's identity, as used in the outstanding table and
// peer registry: the remote address string.
func (p *Peer) Key() string { return p.key }

// Start launches the read and write loops. It is a no-op if already
// started.
func (p *Peer) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true

	childCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(childCtx)
	p.cancel = cancel
	p.grp = g

	g.Go(func() error { return p.readLoop(gctx) })
	g.Go(func() error { return p.writeLoop(gctx) })
}

// Wait blocks until both loops have exited on their own — error, EOF, or an
// external context cancellation — without requesting shutdown itself.
func (p *Peer) Wait() error {
	if p.grp == nil {
		return nil
	}
	return p.grp.Wait()
}

// Stop cancels the loops, closes the connection, and waits for both
// goroutines to exit. It always unregisters the peer from its handler
// exactly once.
func (p *Peer) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	_ = p.conn.Close()

	var err error
	if p.grp != nil {
		err = p.grp.Wait()
		p.grp = nil
	}
	p.unregisterOnce.Do(func() { p.handler.UnregisterPeer(p.key) })

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *Peer) readLoop(ctx context.Context) error {
	lastRecv := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.readMessage()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if time.Since(lastRecv) > idleTimeout {
				p.log.Warn("peer.idle.timeout", "idle", time.Since(lastRecv))
				return context.DeadlineExceeded
			}
			continue
		}
		if err != nil {
			p.log.Warn("peer.read.error", "err", err.Error())
			return err
		}
		lastRecv = time.Now()

		out, err := p.handler.HandleMessage(p.key, msg)
		if err != nil {
			p.log.Warn("peer.handle.error", "err", err.Error())
			return err
		}

		for _, m := range out {
			select {
			case p.outq <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *Peer) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	lastSent := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-p.outq:
			if !ok {
				return nil
			}
			if err := p.writeMessage(msg); err != nil {
				p.log.Warn("peer.write.error", "err", err.Error())
				return err
			}
			lastSent = time.Now()

		case <-ticker.C:
			if time.Since(lastSent) < keepAliveInterval {
				continue
			}
			if err := p.writeMessage(nil); err != nil {
				p.log.Warn("peer.keepalive.error", "err", err.Error())
				return err
			}
			lastSent = time.Now()
		}
	}
}

func (p *Peer) writeMessage(m *wire.Message) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer p.conn.SetWriteDeadline(time.Time{})
	return wire.WriteMessage(p.conn, m)
}

func (p *Peer) readMessage() (*wire.Message, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(readTimeout))
	defer p.conn.SetReadDeadline(time.Time{})
	return wire.ReadMessage(p.conn)
}
