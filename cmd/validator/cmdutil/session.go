package cmdutil

import (
	"context"
	"fmt"
	"os"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/ui"
	"github.com/Parig0t/compute-subnet-1/internal/adapter/sqlite"
	"github.com/Parig0t/compute-subnet-1/internal/container"
	"github.com/Parig0t/compute-subnet-1/internal/credential"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/orchestrator"
	"github.com/Parig0t/compute-subnet-1/internal/peer"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
	"github.com/Parig0t/compute-subnet-1/internal/workload"
)

// Orchestrator wires the production collaborators from config. The returned
// close func releases the machine-spec store.
func (o *Options) Orchestrator() (*orchestrator.Orchestrator, func() error, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, nil, err
	}
	keyring, err := o.LoadIdentity()
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.Open(cfg.StorePath())
	if err != nil {
		return nil, nil, err
	}

	log := o.Logger()
	dialer := peer.Dialer{Logger: log}
	opener := orchestrator.OpenerFunc(func(ctx context.Context, target subnet.Target, id identity.Identity, route subnet.RouteKind) (orchestrator.Session, error) {
		s, err := dialer.Open(ctx, target, id, route)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	executor := orchestrator.Executor{
		Workloads:  &workload.Service{SSHTimeout: cfg.SSHTimeout, Store: store, Logger: log},
		Containers: container.NewRuntime(cfg.DockerSocket, cfg.SSHTimeout, log),
	}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(log),
		orchestrator.WithHandshakeTimeout(cfg.HandshakeTimeout),
		orchestrator.WithPhaseObserver(func(target subnet.Target, phase orchestrator.Phase) {
			if line, ok := Progress(target, phase); ok {
				fmt.Fprintln(os.Stderr, line)
			}
		}),
	}
	if cfg.AbsorbWorkloadErrors {
		opts = append(opts, orchestrator.WithAbsorbWorkloadErrors())
	}

	orch := orchestrator.New(opener, keyring, credential.Generator{}, executor, opts...)
	return orch, store.Close, nil
}

// Run executes req in one session and prints what happened.
func (o *Options) Run(ctx context.Context, req subnet.ActionRequest) (orchestrator.ActionOutcome, error) {
	orch, closeStore, err := o.Orchestrator()
	if err != nil {
		return orchestrator.ActionOutcome{}, err
	}
	defer closeStore()

	out, err := orch.Run(ctx, req)
	if err != nil {
		return out, err
	}
	fmt.Println(Describe(req, out))
	return out, nil
}

// Describe is the one-line summary of a finished session.
func Describe(req subnet.ActionRequest, out orchestrator.ActionOutcome) string {
	miner := req.Peer().Name()
	switch out.Handshake.Kind {
	case protocol.OutcomeDeclined:
		return ui.WarnMsg("%s declined %s: %s", miner, req.Kind(), reasonOrDash(out.Handshake.Reason))
	case protocol.OutcomeFailed:
		return ui.WarnMsg("%s could not accept the credential: %s", miner, reasonOrDash(out.Handshake.Reason))
	}
	if out.Err != nil {
		return ui.ErrorMsg("%s on %s failed: %v", req.Kind(), miner, out.Err)
	}
	return ui.SuccessMsg("%s on %s", req.Kind(), miner)
}

func reasonOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Progress renders the phases worth showing while a session runs.
func Progress(target subnet.Target, phase orchestrator.Phase) (string, bool) {
	var msg string
	switch phase {
	case orchestrator.PhaseSessionOpen:
		msg = "connected to " + target.Name()
	case orchestrator.PhaseAwaitingHandshake:
		msg = "waiting for the miner to accept the credential"
	case orchestrator.PhaseActionRunning:
		msg = "running action"
	case orchestrator.PhaseRevoking:
		msg = "revoking credential"
	default:
		return "", false
	}
	return ui.Muted("  " + msg), true
}
