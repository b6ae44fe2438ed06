package peer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"

	"github.com/gorilla/websocket"
)

const defaultDialTimeout = 10 * time.Second

// Dialer opens sessions to miners. The zero value dials plain ws:// with
// default timeouts.
type Dialer struct {
	// Scheme is "ws" or "wss".
	Scheme       string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	Logger       *slog.Logger
	// Now stamps the authentication frame; defaults to time.Now.
	Now func() time.Time
}

// URL returns the endpoint a session for route is opened against.
func (d Dialer) URL(target subnet.Target, local string, route subnet.RouteKind) string {
	scheme := d.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(target.Address, strconv.Itoa(target.Port)),
		Path:   "/" + route.String() + "/" + local,
	}
	return u.String()
}

// Open dials the miner, authenticates as id and starts the receive loop.
func (d Dialer) Open(ctx context.Context, target subnet.Target, id identity.Identity, route subnet.RouteKind) (*Session, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if !id.Valid() {
		return nil, identity.ErrUnavailable
	}

	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "peer", "miner", target.Name(), "route", route.String())

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: timeout,
	}

	endpoint := d.URL(target, id.Address(), route)
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("dial %s (status %s): %w: %s", endpoint, resp.Status, err, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	s := newSession(conn, target.Name(), log, d.WriteTimeout, d.PingPeriod)
	s.start()

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	payload := protocol.AuthenticatePayload{
		ValidatorHotkey: id.Address(),
		MinerHotkey:     target.PeerID,
		Timestamp:       now().Unix(),
	}
	auth := protocol.AuthenticateRequest{
		Payload:   payload,
		Signature: id.Sign(payload.Canonical()),
	}
	if err := s.Send(ctx, auth); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	log.Debug("Session opened.", "url", endpoint)
	return s, nil
}
