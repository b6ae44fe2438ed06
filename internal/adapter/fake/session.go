package fake

import (
	"context"
	"sync"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/adapter/fake/fault"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/orchestrator"
	"github.com/Parig0t/compute-subnet-1/internal/peer"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
)

// Fault points evaluated by Session and Opener.
const (
	PointOpen = "session.open"
	PointSend = "session.send"
)

var (
	_ orchestrator.Session       = (*Session)(nil)
	_ orchestrator.SessionOpener = (*Opener)(nil)
)

// Session is an in-memory miner session. The handshake is a real
// peer.Signal, resolved either by Reply when the credential is submitted
// or by Deliver from any goroutine.
type Session struct {
	CallRecorder
	Name   string
	Faults *fault.Injector

	// Reply, when set, answers a SubmitCredentialRequest.
	Reply func(submitted protocol.SubmitCredentialRequest) (protocol.Outcome, bool)
	// CloseErr is returned from Close.
	CloseErr error

	mu        sync.Mutex
	sent      []protocol.Message
	closes    int
	handshake *peer.Signal[protocol.Outcome]
}

// NewSession creates a session whose miner answers every credential with reply.
func NewSession(name string, reply protocol.Outcome) *Session {
	return &Session{
		Name:      name,
		Reply:     func(protocol.SubmitCredentialRequest) (protocol.Outcome, bool) { return reply, true },
		handshake: peer.NewSignal[protocol.Outcome](),
	}
}

// NewSilentSession creates a session whose miner never answers.
func NewSilentSession(name string) *Session {
	return &Session{Name: name, handshake: peer.NewSignal[protocol.Outcome]()}
}

func (s *Session) PeerName() string {
	return s.Name
}

func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	s.record("Send", msg)
	if s.Faults != nil {
		if err := s.Faults.Eval(PointSend, msg.MessageType()); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.closes > 0 {
		s.mu.Unlock()
		return peer.ErrClosed
	}
	s.sent = append(s.sent, msg)
	reply := s.Reply
	s.mu.Unlock()

	if submit, ok := msg.(protocol.SubmitCredentialRequest); ok && reply != nil {
		if outcome, ok := reply(submit); ok {
			s.handshake.Resolve(outcome)
		}
	}
	return nil
}

func (s *Session) AwaitHandshake(ctx context.Context, timeout time.Duration) (protocol.Outcome, bool) {
	s.record("AwaitHandshake", timeout)
	return s.handshake.Wait(ctx, timeout)
}

// Deliver plays an inbound handshake frame, as the receive loop would.
func (s *Session) Deliver(outcome protocol.Outcome) bool {
	return s.handshake.Resolve(outcome)
}

func (s *Session) Close() error {
	s.record("Close")
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.handshake.Cancel()
	return s.CloseErr
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Sent returns the frames written to the session, in order.
func (s *Session) Sent() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentTypes returns the message types written to the session, in order.
func (s *Session) SentTypes() []string {
	sent := s.Sent()
	out := make([]string, len(sent))
	for i, m := range sent {
		out[i] = m.MessageType()
	}
	return out
}

// Opener hands out a prepared Session.
type Opener struct {
	CallRecorder
	Session *Session
	Faults  *fault.Injector
}

func (o *Opener) Open(ctx context.Context, target subnet.Target, id identity.Identity, route subnet.RouteKind) (orchestrator.Session, error) {
	o.record("Open", target, id.Address(), route)
	if o.Faults != nil {
		if err := o.Faults.Eval(PointOpen, target, route); err != nil {
			return nil, err
		}
	}
	return o.Session, nil
}
