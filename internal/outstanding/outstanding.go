// Package outstanding implements the bidirectional peer<->BlockRequest index
// of requests currently in flight. The two maps are mutated only together, so
// every method call here keeps them consistent; there is no public way to
// touch one without the other.
package outstanding

import (
	"sync"

	"github.com/mlsteele/bittles/internal/request"
)

// Table is the in-flight request index: peer -> set<BlockRequest> and
// BlockRequest -> set<peer>. An entry never expires by time; it is removed
// only by explicit Clear on receipt or ClearPeer on connection close.
//
// Table is safe for concurrent use, but in this client's single-coarse-mutex
// design it is normally called only while the engine mutex is already held;
// the internal lock exists so the type is correct standing alone too.
type Table struct {
	mu        sync.Mutex
	byPeer    map[string]map[request.BlockRequest]struct{}
	byRequest map[request.BlockRequest]map[string]struct{}
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		byPeer:    make(map[string]map[request.BlockRequest]struct{}),
		byRequest: make(map[request.BlockRequest]map[string]struct{}),
	}
}

// Add records that peer has req in flight.
func (t *Table) Add(peer string, req request.BlockRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byPeer[peer] == nil {
		t.byPeer[peer] = make(map[request.BlockRequest]struct{})
	}
	t.byPeer[peer][req] = struct{}{}

	if t.byRequest[req] == nil {
		t.byRequest[req] = make(map[string]struct{})
	}
	t.byRequest[req][peer] = struct{}{}
}

// Clear removes the (peer,req) pair, if present, from both indices. Returns
// the number of entries removed (0 or 1).
func (t *Table) Clear(peer string, req request.BlockRequest) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byPeer[peer][req]; !ok {
		return 0
	}

	delete(t.byPeer[peer], req)
	if len(t.byPeer[peer]) == 0 {
		delete(t.byPeer, peer)
	}
	delete(t.byRequest[req], peer)
	if len(t.byRequest[req]) == 0 {
		delete(t.byRequest, req)
	}
	return 1
}

// ClearPeer removes every request outstanding to peer, returning the count
// removed. Called on Choke, connection close, and (per the source's
// behavior) Unchoke.
func (t *Table) ClearPeer(peer string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	reqs := t.byPeer[peer]
	n := len(reqs)
	for req := range reqs {
		delete(t.byRequest[req], peer)
		if len(t.byRequest[req]) == 0 {
			delete(t.byRequest, req)
		}
	}
	delete(t.byPeer, peer)
	return n
}

// PeersFor returns a snapshot of the peers with req in flight.
func (t *Table) PeersFor(req request.BlockRequest) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.byRequest[req]))
	for peer := range t.byRequest[req] {
		out = append(out, peer)
	}
	return out
}

// CountForPeer returns how many requests are outstanding to peer.
func (t *Table) CountForPeer(peer string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byPeer[peer])
}

// CountForBlock returns how many peers have req outstanding.
func (t *Table) CountForBlock(req request.BlockRequest) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byRequest[req])
}

// HasPeerBlock reports whether req is already outstanding to peer.
func (t *Table) HasPeerBlock(peer string, req request.BlockRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.byPeer[peer][req]
	return ok
}

// Empty reports whether no requests are in flight at all.
func (t *Table) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byPeer) == 0 && len(t.byRequest) == 0
}
