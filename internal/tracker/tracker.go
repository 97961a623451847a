// Package tracker implements the HTTP announce protocol: a single GET
// request to the torrent's announce URL, with a bencoded response carrying
// an interval and a compact (IPv4-only) peer list. Non-compact peer list
// forms are rejected.
package tracker

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"
)

// Event signals a lifecycle transition in an announce request.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return ""
	}
}

const peerStride = 6 // 4 bytes IPv4 + 2 bytes port

var (
	ErrNoPeers    = errors.New("tracker: response contained no peers")
	ErrNonCompact = errors.New("tracker: non-compact peer list is not supported")
)

// AnnounceParams carries the query parameters of one announce request.
type AnnounceParams struct {
	InfoHash   [sha1.Size]byte
	PeerID     [sha1.Size]byte
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event
	NumWant    int
}

// AnnounceResponse is the parsed tracker reply.
type AnnounceResponse struct {
	Interval time.Duration
	Peers    []netip.AddrPort
}

// Client announces to a single HTTP tracker.
type Client struct {
	announce string
	http     *http.Client
	log      *slog.Logger
}

// New returns a Client for the given announce URL.
func New(announce string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		announce: announce,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log.With("component", "tracker"),
	}
}

// Announce performs a single synchronous announce. A failure reason in the
// response, or an empty compact peer list, is reported as an error.
func (c *Client) Announce(ctx context.Context, params AnnounceParams) (*AnnounceResponse, error) {
	u, err := c.buildURL(params)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	start := time.Now()
	c.log.Info("announce.begin", "event", params.Event.String(), "numwant", params.NumWant)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("announce.error", "err", err.Error())
		return nil, fmt.Errorf("tracker: announce: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tracker: announce returned status %d: %s", resp.StatusCode, body)
	}

	out, err := parseResponse(resp.Body)
	if err != nil {
		c.log.Warn("announce.decode.error", "err", err.Error())
		return nil, err
	}

	c.log.Info("announce.ok",
		"latency", time.Since(start),
		"interval", out.Interval,
		"peers", len(out.Peers),
	)
	return out, nil
}

func (c *Client) buildURL(p AnnounceParams) (string, error) {
	base, err := url.Parse(c.announce)
	if err != nil {
		return "", fmt.Errorf("invalid announce url: %w", err)
	}

	q := base.Query()
	q.Set("info_hash", string(p.InfoHash[:]))
	q.Set("peer_id", string(p.PeerID[:]))
	q.Set("port", strconv.Itoa(int(p.Port)))
	q.Set("uploaded", strconv.FormatUint(p.Uploaded, 10))
	q.Set("downloaded", strconv.FormatUint(p.Downloaded, 10))
	q.Set("left", strconv.FormatUint(p.Left, 10))
	q.Set("compact", "1")
	if p.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(p.NumWant))
	}
	if p.Event != EventNone {
		q.Set("event", p.Event.String())
	}

	base.RawQuery = q.Encode()
	return base.String(), nil
}

func parseResponse(r io.Reader) (*AnnounceResponse, error) {
	raw, err := bencode.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("tracker: decode response: %w", err)
	}
	dict, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("tracker: response is not a dict")
	}

	if reason, ok := dict["failure reason"].(string); ok && reason != "" {
		return nil, fmt.Errorf("tracker: %s", reason)
	}

	interval := toInt64(dict["interval"])

	peersStr, ok := dict["peers"].(string)
	if !ok {
		if _, present := dict["peers"]; present {
			return nil, ErrNonCompact
		}
		return nil, ErrNoPeers
	}

	peers, err := decodeCompactPeers([]byte(peersStr))
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}

	return &AnnounceResponse{
		Interval: time.Duration(interval) * time.Second,
		Peers:    peers,
	}, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func decodeCompactPeers(data []byte) ([]netip.AddrPort, error) {
	if len(data)%peerStride != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d not a multiple of %d", len(data), peerStride)
	}

	n := len(data) / peerStride
	out := make([]netip.AddrPort, n)
	for i := 0; i < n; i++ {
		chunk := data[i*peerStride : (i+1)*peerStride]
		addr := netip.AddrFrom4([4]byte{chunk[0], chunk[1], chunk[2], chunk[3]})
		port := uint16(chunk[4])<<8 | uint16(chunk[5])
		out[i] = netip.AddrPortFrom(addr, port)
	}
	return out, nil
}
