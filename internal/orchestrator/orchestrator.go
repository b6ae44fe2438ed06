package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/credential"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
	"github.com/Parig0t/compute-subnet-1/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	stepIdentity  = "resolve_identity"
	stepOpen      = "open_session"
	stepSubmit    = "submit_credential"
	stepHandshake = "await_handshake"
	stepAction    = "execute_action"
	stepRevoke    = "revoke_credential"
)

var sessionPlan = telemetry.Plan{Steps: []telemetry.Step{
	{ID: stepIdentity, Title: "resolving local identity"},
	{ID: stepOpen, Title: "opening session"},
	{ID: stepSubmit, Title: "submitting credential"},
	{ID: stepHandshake, Title: "awaiting handshake"},
	{ID: stepAction, Title: "running action"},
	{ID: stepRevoke, Title: "revoking credential"},
}}

// Orchestrator runs single-action sessions. It holds no per-session state,
// so one instance may serve concurrent Run calls.
type Orchestrator struct {
	opener      SessionOpener
	identities  IdentityResolver
	credentials CredentialGenerator
	executor    Executor

	handshakeTimeout time.Duration
	absorbWorkload   bool
	log              *slog.Logger
	tracer           trace.Tracer
	observe          PhaseObserver
}

func New(opener SessionOpener, identities IdentityResolver, credentials CredentialGenerator, executor Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		opener:           opener,
		identities:       identities,
		credentials:      credentials,
		executor:         executor,
		handshakeTimeout: DefaultHandshakeTimeout,
		log:              slog.Default(),
		tracer:           otel.Tracer("github.com/Parig0t/compute-subnet-1/internal/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "orchestrator")
	return o
}

// Run performs req against its miner in one session.
//
// A decline or failure from the miner is not an error: Run returns a nil
// error and an outcome whose Handshake says what happened. Container action
// failures are logged and absorbed. A workload failure is returned and the
// credential is left in place unless WithAbsorbWorkloadErrors is set.
func (o *Orchestrator) Run(ctx context.Context, req subnet.ActionRequest) (result ActionOutcome, err error) {
	if req == nil {
		return ActionOutcome{}, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return ActionOutcome{Kind: req.Kind()}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	kind := req.Kind()
	target := req.Peer()
	result = ActionOutcome{Kind: kind}
	log := o.log.With("miner", target.Name(), "action", kind.String())

	op, opErr := telemetry.Start(ctx, o.tracer, "session."+kind.String(), sessionPlan,
		attribute.String(telemetry.MinerKey, target.Name()),
		attribute.String(telemetry.ActionKey, kind.String()),
	)
	if opErr != nil {
		log.Debug("Tracing disabled for session.", "err", opErr)
	} else {
		ctx = op.Context()
	}
	defer func() { op.End(err) }()
	defer o.transition(target, PhaseClosed)

	var id identity.Identity
	if err := op.RunStep(ctx, stepIdentity, func(context.Context) error {
		resolved, err := o.identities.CurrentIdentity()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
		}
		if !resolved.Valid() {
			return ErrIdentityUnavailable
		}
		id = resolved
		return nil
	}); err != nil {
		return result, err
	}

	var session Session
	if err := op.RunStep(ctx, stepOpen, func(ctx context.Context) error {
		s, err := o.opener.Open(ctx, target, id, req.Route())
		if err != nil {
			return fmt.Errorf("%w: open %s session with %s: %w", ErrConnection, req.Route(), target.Name(), err)
		}
		session = s
		return nil
	}); err != nil {
		return result, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Debug("Closing session reported an error.", "err", cerr)
		}
	}()
	o.transition(target, PhaseSessionOpen)

	var cred credential.Credential
	if err := op.RunStep(ctx, stepSubmit, func(ctx context.Context) error {
		generated, err := o.credentials.Generate(id.Address())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCredentialGeneration, err)
		}
		cred = generated
		if err := session.Send(ctx, protocol.SubmitCredentialRequest{PublicKey: string(cred.PublicKey)}); err != nil {
			return fmt.Errorf("%w: submit credential: %w", ErrConnection, err)
		}
		return nil
	}); err != nil {
		return result, err
	}
	o.transition(target, PhaseCredentialSubmitted)
	log.Debug("Submitted credential.", "fingerprint", cred.Fingerprint())

	o.transition(target, PhaseAwaitingHandshake)
	if err := op.RunStep(ctx, stepHandshake, func(ctx context.Context) error {
		outcome, ok := session.AwaitHandshake(ctx, o.handshakeTimeout)
		if !ok {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("await handshake from %s: %w", session.PeerName(), ctxErr)
			}
			outcome = protocol.TimedOut()
		}
		result.Handshake = outcome
		return nil
	}); err != nil {
		o.transition(target, PhaseUnexpectedError)
		return result, err
	}
	op.Annotate(attribute.String(telemetry.OutcomeKey, result.Handshake.Kind.String()))

	switch result.Handshake.Kind {
	case protocol.OutcomeAccepted:
	case protocol.OutcomeDeclined:
		o.transition(target, PhaseDeclined)
		log.Info("Miner declined the session.", "reason", result.Handshake.Reason)
		return result, nil
	case protocol.OutcomeFailed:
		o.transition(target, PhaseFailed)
		log.Warn("Miner failed to install the credential.", "details", result.Handshake.Reason)
		return result, nil
	default:
		o.transition(target, PhaseUnexpectedError)
		log.Error("Unexpected handshake response.", "outcome", result.Handshake.String())
		return result, fmt.Errorf("%w: %s from %s", ErrUnexpectedHandshakeResponse, result.Handshake, session.PeerName())
	}

	o.transition(target, PhaseActionRunning)
	details := result.Handshake.Accepted
	_ = op.RunStep(ctx, stepAction, func(ctx context.Context) error {
		ran := runIsolated(ctx, kind, func(ctx context.Context) ActionOutcome {
			return o.executor.Execute(ctx, req, details, cred.PrivateKeyText(), id)
		})
		result.Workload = ran.Workload
		result.Err = ran.Err
		return ran.Err
	})
	if result.Err != nil {
		if !kind.IsContainer() && !o.absorbWorkload {
			log.Error("Action failed; leaving credential in place.", "err", result.Err)
			return result, result.Err
		}
		log.Error("Action failed.", "err", result.Err)
	} else {
		log.Info("Action completed.")
	}

	o.transition(target, PhaseRevoking)
	if err := op.RunStep(ctx, stepRevoke, func(ctx context.Context) error {
		if err := session.Send(ctx, protocol.RemoveCredentialRequest{PublicKey: string(cred.PublicKey)}); err != nil {
			return fmt.Errorf("%w: revoke credential: %w", ErrConnection, err)
		}
		return nil
	}); err != nil {
		return result, err
	}
	log.Debug("Revoked credential.")
	return result, nil
}

func (o *Orchestrator) transition(target subnet.Target, phase Phase) {
	o.log.Debug("Session phase.", "miner", target.Name(), "phase", phase.String())
	if o.observe != nil {
		o.observe(target, phase)
	}
}
