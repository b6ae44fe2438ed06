package orchestrator

// Phase is a session's position in the orchestration state machine.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSessionOpen
	PhaseCredentialSubmitted
	PhaseAwaitingHandshake
	PhaseActionRunning
	PhaseRevoking
	PhaseDeclined
	PhaseFailed
	PhaseUnexpectedError
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSessionOpen:
		return "session_open"
	case PhaseCredentialSubmitted:
		return "credential_submitted"
	case PhaseAwaitingHandshake:
		return "awaiting_handshake"
	case PhaseActionRunning:
		return "action_running"
	case PhaseRevoking:
		return "revoking"
	case PhaseDeclined:
		return "declined"
	case PhaseFailed:
		return "failed"
	case PhaseUnexpectedError:
		return "unexpected_error"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition except Closed can follow.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseDeclined, PhaseFailed, PhaseUnexpectedError, PhaseClosed:
		return true
	default:
		return false
	}
}
