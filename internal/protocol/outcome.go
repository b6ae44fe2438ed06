package protocol

import (
	"encoding/json"
	"fmt"
)

// OutcomeKind classifies how a miner answered a credential submission.
type OutcomeKind uint8

const (
	OutcomeAccepted OutcomeKind = iota + 1
	OutcomeDeclined
	OutcomeFailed
	OutcomeTimedOut
	OutcomeUnrecognized
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDeclined:
		return "declined"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// Outcome is the single handshake result of a session.
type Outcome struct {
	Kind     OutcomeKind
	Accepted AcceptedDetails
	Reason   string
	Raw      []byte
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeAccepted:
		return fmt.Sprintf("accepted(user=%s port=%d)", o.Accepted.SSHUsername, o.Accepted.Port())
	case OutcomeDeclined, OutcomeFailed:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	case OutcomeUnrecognized:
		return fmt.Sprintf("unrecognized(%q)", truncate(o.Raw, 128))
	default:
		return o.Kind.String()
	}
}

func Accepted(d AcceptedDetails) Outcome { return Outcome{Kind: OutcomeAccepted, Accepted: d} }
func Declined(reason string) Outcome     { return Outcome{Kind: OutcomeDeclined, Reason: reason} }
func Failed(reason string) Outcome       { return Outcome{Kind: OutcomeFailed, Reason: reason} }
func TimedOut() Outcome                  { return Outcome{Kind: OutcomeTimedOut} }

func Unrecognized(raw []byte) Outcome {
	return Outcome{Kind: OutcomeUnrecognized, Raw: append([]byte(nil), raw...)}
}

// Classify maps an inbound frame to a handshake outcome. The bool is false
// for frames that are not handshake replies at all; those never resolve a
// session's handshake. A handshake reply whose payload cannot be decoded is
// classified as Unrecognized.
func Classify(raw []byte) (Outcome, bool) {
	typ, err := PeekType(raw)
	if err != nil {
		return Outcome{}, false
	}

	switch typ {
	case TypeAcceptCredential:
		var d AcceptedDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return Unrecognized(raw), true
		}
		if err := d.validate(); err != nil {
			return Unrecognized(raw), true
		}
		return Accepted(d), true
	case TypeDeclineJob:
		var m DeclineJobRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return Unrecognized(raw), true
		}
		return Declined(m.Reason), true
	case TypeFailed:
		var m FailedRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return Unrecognized(raw), true
		}
		return Failed(m.Details), true
	default:
		return Outcome{}, false
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
