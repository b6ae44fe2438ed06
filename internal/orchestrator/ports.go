package orchestrator

import (
	"context"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/credential"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
)

// SessionOpener establishes an authenticated session with a miner.
type SessionOpener interface {
	Open(ctx context.Context, target subnet.Target, id identity.Identity, route subnet.RouteKind) (Session, error)
}

// OpenerFunc adapts a function to SessionOpener.
type OpenerFunc func(ctx context.Context, target subnet.Target, id identity.Identity, route subnet.RouteKind) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, target subnet.Target, id identity.Identity, route subnet.RouteKind) (Session, error) {
	return f(ctx, target, id, route)
}

// Session is one open channel to a miner, owned by a single Run.
type Session interface {
	Send(ctx context.Context, msg protocol.Message) error
	// AwaitHandshake returns false when no reply arrived in time or the
	// session closed first.
	AwaitHandshake(ctx context.Context, timeout time.Duration) (protocol.Outcome, bool)
	Close() error
	PeerName() string
}

// IdentityResolver provides the validator's signing identity.
type IdentityResolver interface {
	CurrentIdentity() (identity.Identity, error)
}

// CredentialGenerator creates an ephemeral SSH key pair labeled with owner.
type CredentialGenerator interface {
	Generate(owner string) (credential.Credential, error)
}

// WorkloadCreator runs a workload submission on an accepted miner.
type WorkloadCreator interface {
	CreateWorkload(ctx context.Context, req subnet.SubmitWorkload, details protocol.AcceptedDetails, id identity.Identity, privateKey string) (subnet.WorkloadDescriptor, error)
}

// ContainerRuntime performs container lifecycle operations on an accepted miner.
type ContainerRuntime interface {
	CreateContainer(ctx context.Context, req subnet.CreateContainer, details protocol.AcceptedDetails, id identity.Identity, privateKey string) error
	StartContainer(ctx context.Context, req subnet.StartContainer, details protocol.AcceptedDetails, id identity.Identity, privateKey string) error
	StopContainer(ctx context.Context, req subnet.StopContainer, details protocol.AcceptedDetails, id identity.Identity, privateKey string) error
	DeleteContainer(ctx context.Context, req subnet.DeleteContainer, details protocol.AcceptedDetails, id identity.Identity, privateKey string) error
}

// PhaseObserver is told about every state transition of a session.
type PhaseObserver func(target subnet.Target, phase Phase)
