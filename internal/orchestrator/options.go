package orchestrator

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultHandshakeTimeout bounds the wait for a miner's credential reply.
const DefaultHandshakeTimeout = 300 * time.Second

type Option func(*Orchestrator)

// WithHandshakeTimeout overrides DefaultHandshakeTimeout. Non-positive
// values are ignored.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

func WithPhaseObserver(fn PhaseObserver) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// WithAbsorbWorkloadErrors treats a failed workload like a failed container
// action: the error is logged and the credential is still revoked.
func WithAbsorbWorkloadErrors() Option {
	return func(o *Orchestrator) { o.absorbWorkload = true }
}
