package fake

import (
	"context"
	"errors"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/credential"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/orchestrator"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
)

var (
	_ orchestrator.IdentityResolver    = (*IdentityResolver)(nil)
	_ orchestrator.CredentialGenerator = (*CredentialGenerator)(nil)
	_ orchestrator.WorkloadCreator     = (*WorkloadCreator)(nil)
)

// IdentityResolver returns a fixed identity.
type IdentityResolver struct {
	CallRecorder
	Identity identity.Identity
	Err      error
}

// NewIdentityResolver generates a throwaway identity.
func NewIdentityResolver() *IdentityResolver {
	id, err := identity.Generate("test-validator")
	if err != nil {
		panic(err)
	}
	return &IdentityResolver{Identity: id}
}

func (r *IdentityResolver) CurrentIdentity() (identity.Identity, error) {
	r.record("CurrentIdentity")
	if r.Err != nil {
		return identity.Identity{}, r.Err
	}
	return r.Identity, nil
}

// CredentialGenerator wraps credential.Generator and records owners.
type CredentialGenerator struct {
	CallRecorder
	GenerateErr func(owner string) error
}

func (g *CredentialGenerator) Generate(owner string) (credential.Credential, error) {
	g.record("Generate", owner)
	if g.GenerateErr != nil {
		if err := g.GenerateErr(owner); err != nil {
			return credential.Credential{}, err
		}
	}
	return credential.Generator{}.Generate(owner)
}

// WorkloadCreator returns a canned descriptor built from the request.
type WorkloadCreator struct {
	CallRecorder
	Specs subnet.MachineSpecs

	// CreateErr runs first; a non-nil error fails the workload.
	CreateErr func(ctx context.Context, req subnet.SubmitWorkload) error
}

func (w *WorkloadCreator) CreateWorkload(ctx context.Context, req subnet.SubmitWorkload, details protocol.AcceptedDetails, id identity.Identity, privateKey string) (subnet.WorkloadDescriptor, error) {
	w.record("CreateWorkload", req, details, privateKey)
	if privateKey == "" {
		return subnet.WorkloadDescriptor{}, errors.New("fake workload: empty private key")
	}
	if w.CreateErr != nil {
		if err := w.CreateErr(ctx, req); err != nil {
			return subnet.WorkloadDescriptor{}, err
		}
	}
	return subnet.WorkloadDescriptor{
		MinerAddress:  req.Address,
		PeerID:        req.PeerID,
		DurationClass: req.DurationClass,
		Specs:         w.Specs,
		CollectedAt:   time.Unix(0, 0).UTC(),
	}, nil
}
