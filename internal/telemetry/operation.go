// Package telemetry wraps one validator session in an OpenTelemetry span
// with a child span per step.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	PlanEventName  = "validator.plan"
	PlanJSONKey    = "validator.plan.json"
	MinerKey       = "validator.miner"
	ActionKey      = "validator.action"
	OutcomeKey     = "validator.outcome"
	defaultSession = "session"
)

// Step is one planned stage of a session.
type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Plan lists the steps a session intends to run, in order.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Operation is the root span of a session.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
	known  map[string]struct{}
}

// Start opens the root span and records plan on it as an event.
func Start(ctx context.Context, tracer trace.Tracer, name string, plan Plan, attrs ...attribute.KeyValue) (*Operation, error) {
	if tracer == nil {
		return nil, fmt.Errorf("start telemetry operation: tracer is required")
	}
	known, err := indexPlan(plan)
	if err != nil {
		return nil, fmt.Errorf("start telemetry operation: %w", err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultSession
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("start telemetry operation: marshal plan: %w", err)
	}

	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	span.AddEvent(PlanEventName, trace.WithAttributes(attribute.String(PlanJSONKey, string(planJSON))))

	return &Operation{ctx: spanCtx, tracer: tracer, span: span, known: known}, nil
}

// Context carries the root span.
func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// Annotate adds attributes to the root span.
func (o *Operation) Annotate(attrs ...attribute.KeyValue) {
	if o == nil || o.span == nil {
		return
	}
	o.span.SetAttributes(attrs...)
}

// RunStep runs fn inside a child span named id. Steps must be in the plan.
func (o *Operation) RunStep(ctx context.Context, id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run telemetry step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if _, ok := o.known[id]; !ok {
		return fmt.Errorf("run telemetry step: step %q not in plan", id)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	stepCtx, span := o.tracer.Start(ctx, id)
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// End closes the root span, marking it failed when err is non-nil.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}

func indexPlan(plan Plan) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(plan.Steps))
	for i, step := range plan.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return nil, fmt.Errorf("step %d has empty id", i)
		}
		if _, dup := known[id]; dup {
			return nil, fmt.Errorf("duplicate step id %q", id)
		}
		known[id] = struct{}{}
	}
	return known, nil
}
