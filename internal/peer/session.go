// Package peer implements the transport side of a validator session: one
// WebSocket connection to one miner, authenticated with the validator's
// hotkey, with a receive loop that resolves the session's handshake signal.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Parig0t/compute-subnet-1/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingPeriod   = 30 * time.Second
	closeGrace          = time.Second
	readLimit           = 1024 * 1024
)

var ErrClosed = errors.New("peer session closed")

// Session is an open, authenticated channel to one miner. It is owned by a
// single caller; Close is idempotent and releases the connection, the
// receive loop and any handshake waiter.
type Session struct {
	conn         *websocket.Conn
	name         string
	log          *slog.Logger
	writeTimeout time.Duration
	pingPeriod   time.Duration

	writeMu   sync.Mutex
	handshake *Signal[protocol.Outcome]

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	loopDone  chan struct{}
}

func newSession(conn *websocket.Conn, name string, log *slog.Logger, writeTimeout, pingPeriod time.Duration) *Session {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	conn.SetReadLimit(readLimit)
	return &Session{
		conn:         conn,
		name:         name,
		log:          log,
		writeTimeout: writeTimeout,
		pingPeriod:   pingPeriod,
		handshake:    NewSignal[protocol.Outcome](),
		closing:      make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
}

func (s *Session) start() {
	go s.readLoop()
	go s.pingLoop()
}

// PeerName is the miner label used in logs.
func (s *Session) PeerName() string {
	return s.name
}

// Send writes one frame. Writes are serialized; the deadline is the
// earlier of ctx's deadline and the session write timeout.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-s.closing:
		return fmt.Errorf("send %s to %s: %w", msg.MessageType(), s.name, ErrClosed)
	default:
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.MessageType(), s.name, err)
	}
	s.log.Debug("Sent frame.", "type", msg.MessageType())
	return nil
}

// AwaitHandshake waits for the miner's first handshake reply. The bool is
// false when the wait timed out, ctx ended, or the session closed first.
func (s *Session) AwaitHandshake(ctx context.Context, timeout time.Duration) (protocol.Outcome, bool) {
	return s.handshake.Wait(ctx, timeout)
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace),
		)
		s.closeErr = s.conn.Close()
		s.handshake.Cancel()
		<-s.loopDone
		s.log.Debug("Session closed.")
	})
	return s.closeErr
}

func (s *Session) readLoop() {
	defer close(s.loopDone)
	defer s.handshake.Cancel()

	for {
		typ, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug("Miner closed the session.")
				} else {
					s.log.Warn("Session read failed.", "err", err)
				}
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		s.dispatch(raw)
	}
}

func (s *Session) dispatch(raw []byte) {
	if outcome, ok := protocol.Classify(raw); ok {
		if !s.handshake.Resolve(outcome) {
			s.log.Debug("Ignoring handshake reply after resolution.", "outcome", outcome.String())
		}
		return
	}

	typ, err := protocol.PeekType(raw)
	if err != nil {
		s.log.Warn("Ignoring malformed frame.", "err", err)
		return
	}
	switch typ {
	case protocol.TypeUnauthorized, protocol.TypeGenericError:
		s.log.Warn("Miner reported an error.", "type", typ, "frame", string(raw))
	default:
		s.log.Debug("Ignoring frame.", "type", typ)
	}
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			return
		case <-s.loopDone:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				s.log.Debug("Ping failed.", "err", err)
				return
			}
		}
	}
}
