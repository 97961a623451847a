package peer

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/mlsteele/bittles/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandler struct {
	mu           sync.Mutex
	registered   string
	unregistered string
	received     []*wire.Message
	reply        []*wire.Message
}

func (f *fakeHandler) RegisterPeer(peerKey string, outq chan<- *wire.Message, numPieces int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = peerKey
}

func (f *fakeHandler) UnregisterPeer(peerKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = peerKey
}

func (f *fakeHandler) HandleMessage(peerKey string, msg *wire.Message) ([]*wire.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
	return f.reply, nil
}

// serverHandshake performs the remote side of a handshake over conn and
// returns once complete, without running a full read/write loop.
func serverHandshake(t *testing.T, conn net.Conn, infoHash [20]byte) {
	t.Helper()
	hs := wire.NewHandshake(infoHash, [20]byte{})
	if _, err := hs.Exchange(conn, false); err != nil {
		t.Errorf("server handshake: %v", err)
	}
}

func TestConnectPerformsHandshakeAndRegisters(t *testing.T) {
	serverLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer serverLn.Close()

	var infoHash, clientID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(clientID[:], "-BI0001-............")

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := serverLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serverHandshake(t, conn, infoHash)
	}()

	addr, err := netip.ParseAddrPort(serverLn.Addr().String())
	if err != nil {
		t.Fatalf("ParseAddrPort: %v", err)
	}

	handler := &fakeHandler{}
	p, err := Connect(context.Background(), addr, infoHash, clientID, 10, handler, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Stop()

	<-done

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.registered != p.Key() {
		t.Fatalf("RegisterPeer was not called with the connection's key")
	}
}

func TestReadLoopDispatchesToHandlerAndSendsReply(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	reply := wire.MessageUnchoke()
	handler := &fakeHandler{reply: []*wire.Message{reply}}

	p := &Peer{
		conn:    clientConn,
		key:     "test-peer",
		log:     testLogger(),
		handler: handler,
		outq:    make(chan *wire.Message, outboundLen),
	}
	p.Start(context.Background())
	defer p.Stop()

	if err := wire.WriteMessage(serverConn, wire.MessageInterested()); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, err := wire.ReadMessage(serverConn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got == nil || got.ID != wire.Unchoke {
		t.Fatalf("got = %+v, want Unchoke reply", got)
	}
}

func TestStopUnregistersPeer(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	handler := &fakeHandler{}
	p := &Peer{
		conn:    clientConn,
		key:     "stop-peer",
		log:     testLogger(),
		handler: handler,
		outq:    make(chan *wire.Message, outboundLen),
	}
	p.Start(context.Background())

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.unregistered != "stop-peer" {
		t.Fatalf("UnregisterPeer was not called on Stop")
	}
}
