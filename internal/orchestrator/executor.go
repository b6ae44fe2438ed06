package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
)

// ActionOutcome is what the one action of a session produced.
type ActionOutcome struct {
	Kind subnet.ActionKind
	// Handshake is how the miner answered the credential submission.
	Handshake protocol.Outcome
	// Workload is set when a workload submission succeeded.
	Workload *subnet.WorkloadDescriptor
	// Err is the action's failure, wrapped with ErrActionExecution. It is
	// kept here even when Run absorbs it.
	Err error
}

// Ran reports whether the action was dispatched at all.
func (o ActionOutcome) Ran() bool {
	return o.Handshake.Kind == protocol.OutcomeAccepted
}

// Executor maps an action request onto the collaborator that performs it.
type Executor struct {
	Workloads  WorkloadCreator
	Containers ContainerRuntime
}

// Execute performs req against an accepted miner. Failures are reported in
// the outcome, never returned or panicked.
func (e Executor) Execute(ctx context.Context, req subnet.ActionRequest, details protocol.AcceptedDetails, privateKey string, id identity.Identity) ActionOutcome {
	out := ActionOutcome{Kind: req.Kind()}

	var err error
	switch r := req.(type) {
	case subnet.SubmitWorkload:
		if e.Workloads == nil {
			err = fmt.Errorf("no workload creator configured")
			break
		}
		var desc subnet.WorkloadDescriptor
		desc, err = e.Workloads.CreateWorkload(ctx, r, details, id, privateKey)
		if err == nil {
			out.Workload = &desc
		}
	case subnet.CreateContainer:
		if err = e.requireContainers(); err == nil {
			err = e.Containers.CreateContainer(ctx, r, details, id, privateKey)
		}
	case subnet.StartContainer:
		if err = e.requireContainers(); err == nil {
			err = e.Containers.StartContainer(ctx, r, details, id, privateKey)
		}
	case subnet.StopContainer:
		if err = e.requireContainers(); err == nil {
			err = e.Containers.StopContainer(ctx, r, details, id, privateKey)
		}
	case subnet.DeleteContainer:
		if err = e.requireContainers(); err == nil {
			err = e.Containers.DeleteContainer(ctx, r, details, id, privateKey)
		}
	default:
		err = fmt.Errorf("unsupported request type %T", req)
	}

	if err != nil {
		out.Err = fmt.Errorf("%w: %s: %w", ErrActionExecution, req.Kind(), err)
	}
	return out
}

func (e Executor) requireContainers() error {
	if e.Containers == nil {
		return fmt.Errorf("no container runtime configured")
	}
	return nil
}

// runIsolated runs fn on its own goroutine and waits for it. The session's
// receive loop keeps running meanwhile. A panic in fn becomes an action
// error for kind.
func runIsolated(ctx context.Context, kind subnet.ActionKind, fn func(context.Context) ActionOutcome) ActionOutcome {
	done := make(chan ActionOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ActionOutcome{
					Kind: kind,
					Err:  fmt.Errorf("%w: %s: panic: %v\n%s", ErrActionExecution, kind, r, debug.Stack()),
				}
			}
		}()
		done <- fn(ctx)
	}()
	return <-done
}
