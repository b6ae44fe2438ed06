package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/adapter/fake"
	"github.com/Parig0t/compute-subnet-1/internal/adapter/fake/fault"
	"github.com/Parig0t/compute-subnet-1/internal/orchestrator"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	testTarget = subnet.Target{Address: "10.0.0.7", Port: 8091, PeerID: "5FminerHotkey"}
	accepted   = protocol.Accepted(protocol.AcceptedDetails{SSHUsername: "miner", SSHPort: 2200})
	submitType = protocol.TypeSubmitCredential
	removeType = protocol.TypeRemoveCredential
)

type phaseLog struct {
	mu     sync.Mutex
	phases []orchestrator.Phase
}

func (l *phaseLog) observe(_ subnet.Target, p orchestrator.Phase) {
	l.mu.Lock()
	l.phases = append(l.phases, p)
	l.mu.Unlock()
}

func (l *phaseLog) list() []orchestrator.Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.phases)
}

func (l *phaseLog) count(p orchestrator.Phase) int {
	n := 0
	for _, got := range l.list() {
		if got == p {
			n++
		}
	}
	return n
}

type harness struct {
	session    *fake.Session
	opener     *fake.Opener
	ids        *fake.IdentityResolver
	creds      *fake.CredentialGenerator
	workloads  *fake.WorkloadCreator
	containers *fake.ContainerRuntime
	phases     *phaseLog
	orch       *orchestrator.Orchestrator
}

func newHarness(t *testing.T, session *fake.Session, opts ...orchestrator.Option) *harness {
	t.Helper()

	h := &harness{
		session:    session,
		opener:     &fake.Opener{Session: session},
		ids:        fake.NewIdentityResolver(),
		creds:      &fake.CredentialGenerator{},
		workloads:  &fake.WorkloadCreator{Specs: subnet.MachineSpecs{Hostname: "gpu-01", CPUCount: 32}},
		containers: fake.NewContainerRuntime(),
		phases:     &phaseLog{},
	}
	base := []orchestrator.Option{
		orchestrator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		orchestrator.WithPhaseObserver(h.phases.observe),
		orchestrator.WithHandshakeTimeout(2 * time.Second),
	}
	h.orch = orchestrator.New(h.opener, h.ids, h.creds,
		orchestrator.Executor{Workloads: h.workloads, Containers: h.containers},
		append(base, opts...)...,
	)
	return h
}

func (h *harness) assertClosedOnce(t *testing.T) {
	t.Helper()
	if got := h.session.Closes(); got != 1 {
		t.Fatalf("session closes = %d, want 1", got)
	}
	if got := h.phases.count(orchestrator.PhaseClosed); got != 1 {
		t.Fatalf("closed phase emitted %d times, want 1", got)
	}
}

func TestRunWorkloadAccepted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.NewSession("miner", accepted))
	req := subnet.SubmitWorkload{Target: testTarget, DurationClass: subnet.DurationShort}

	out, err := h.orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Workload == nil || out.Workload.Specs.Hostname != "gpu-01" {
		t.Fatalf("Run() workload = %+v, want collected specs", out.Workload)
	}
	if !out.Ran() || out.Err != nil {
		t.Fatalf("Run() outcome = %+v, want ran without error", out)
	}

	if got := h.session.SentTypes(); !slices.Equal(got, []string{submitType, removeType}) {
		t.Fatalf("sent = %v, want submit then remove", got)
	}
	sent := h.session.Sent()
	submitted := sent[0].(protocol.SubmitCredentialRequest).PublicKey
	revoked := sent[1].(protocol.RemoveCredentialRequest).PublicKey
	if submitted == "" || submitted != revoked {
		t.Fatalf("revoked key %q does not match submitted key %q", revoked, submitted)
	}

	opens := h.opener.Calls("Open")
	if len(opens) != 1 || opens[0].Args[2] != subnet.RouteJobs {
		t.Fatalf("Open calls = %+v, want one on jobs route", opens)
	}
	gens := h.creds.Calls("Generate")
	if len(gens) != 1 || gens[0].Args[0] != h.ids.Identity.Address() {
		t.Fatalf("Generate calls = %+v, want owner %s", gens, h.ids.Identity.Address())
	}
	if len(h.workloads.Calls("CreateWorkload")) != 1 {
		t.Fatal("workload creator not called exactly once")
	}

	want := []orchestrator.Phase{
		orchestrator.PhaseSessionOpen,
		orchestrator.PhaseCredentialSubmitted,
		orchestrator.PhaseAwaitingHandshake,
		orchestrator.PhaseActionRunning,
		orchestrator.PhaseRevoking,
		orchestrator.PhaseClosed,
	}
	if got := h.phases.list(); !slices.Equal(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	h.assertClosedOnce(t)
}

func TestRunContainerActionsAccepted(t *testing.T) {
	t.Parallel()

	session := fake.NewSession("miner", accepted)
	h := newHarness(t, session)
	ctx := context.Background()

	spec := subnet.ContainerSpec{Name: "job-1", Image: "alpine:3", VolumeName: "job-1-data"}
	steps := []subnet.ActionRequest{
		subnet.CreateContainer{Target: testTarget, Spec: spec},
		subnet.StopContainer{Target: testTarget, ContainerName: "job-1"},
		subnet.StartContainer{Target: testTarget, ContainerName: "job-1"},
		subnet.DeleteContainer{Target: testTarget, ContainerName: "job-1", VolumeName: "job-1-data"},
	}
	for _, req := range steps {
		// Each session is single-use.
		h.opener.Session = fake.NewSession("miner", accepted)
		out, err := h.orch.Run(ctx, req)
		if err != nil {
			t.Fatalf("Run(%s) error = %v", req.Kind(), err)
		}
		if out.Err != nil {
			t.Fatalf("Run(%s) action error = %v", req.Kind(), out.Err)
		}
		if got := h.opener.Session.SentTypes(); !slices.Equal(got, []string{submitType, removeType}) {
			t.Fatalf("Run(%s) sent = %v, want submit then remove", req.Kind(), got)
		}
		if h.opener.Session.Closes() != 1 {
			t.Fatalf("Run(%s) closes = %d, want 1", req.Kind(), h.opener.Session.Closes())
		}
	}

	for _, c := range h.opener.Calls("Open") {
		if c.Args[2] != subnet.RouteResources {
			t.Fatalf("container session opened on %v, want resources", c.Args[2])
		}
	}
	if exists, _ := h.containers.Running("job-1"); exists {
		t.Fatal("container still present after delete")
	}
	if h.containers.HasVolume("job-1-data") {
		t.Fatal("volume still present after delete")
	}
	want := []string{"CreateContainer", "StopContainer", "StartContainer", "DeleteContainer"}
	if got := h.containers.Methods(); !slices.Equal(got, want) {
		t.Fatalf("runtime calls = %v, want %v", got, want)
	}
}

func TestRunContainerFailureIsAbsorbed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.NewSession("miner", accepted))
	boom := errors.New("no such container")
	h.containers.StartErr = func(context.Context, string) error { return boom }

	out, err := h.orch.Run(context.Background(), subnet.StartContainer{Target: testTarget, ContainerName: "ghost"})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if !errors.Is(out.Err, orchestrator.ErrActionExecution) || !errors.Is(out.Err, boom) {
		t.Fatalf("outcome error = %v, want action execution wrapping boom", out.Err)
	}
	if got := h.session.SentTypes(); !slices.Equal(got, []string{submitType, removeType}) {
		t.Fatalf("sent = %v, want revoke after absorbed failure", got)
	}
	h.assertClosedOnce(t)
}

func TestRunWorkloadFailurePropagatesAndSkipsRevoke(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.NewSession("miner", accepted))
	boom := errors.New("ssh: handshake failed")
	h.workloads.CreateErr = func(context.Context, subnet.SubmitWorkload) error { return boom }

	out, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
	if !errors.Is(err, orchestrator.ErrActionExecution) || !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want action execution wrapping boom", err)
	}
	if out.Workload != nil {
		t.Fatalf("Run() workload = %+v, want nil", out.Workload)
	}
	if got := h.session.SentTypes(); !slices.Equal(got, []string{submitType}) {
		t.Fatalf("sent = %v, want no revoke", got)
	}
	if h.phases.count(orchestrator.PhaseRevoking) != 0 {
		t.Fatal("revoking phase entered after workload failure")
	}
	h.assertClosedOnce(t)
}

func TestRunWorkloadFailureAbsorbedWhenConfigured(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.NewSession("miner", accepted), orchestrator.WithAbsorbWorkloadErrors())
	h.workloads.CreateErr = func(context.Context, subnet.SubmitWorkload) error { return errors.New("boom") }

	out, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if out.Err == nil {
		t.Fatal("outcome error = nil, want recorded failure")
	}
	if got := h.session.SentTypes(); !slices.Equal(got, []string{submitType, removeType}) {
		t.Fatalf("sent = %v, want revoke", got)
	}
}

func TestRunMinerRefusals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply protocol.Outcome
		phase orchestrator.Phase
		req   subnet.ActionRequest
	}{
		{"workload declined", protocol.Declined("busy"), orchestrator.PhaseDeclined, subnet.SubmitWorkload{Target: testTarget}},
		{"container declined", protocol.Declined("busy"), orchestrator.PhaseDeclined, subnet.StopContainer{Target: testTarget, ContainerName: "c"}},
		{"workload failed", protocol.Failed("disk full"), orchestrator.PhaseFailed, subnet.SubmitWorkload{Target: testTarget}},
		{"container failed", protocol.Failed("disk full"), orchestrator.PhaseFailed, subnet.DeleteContainer{Target: testTarget, ContainerName: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, fake.NewSession("miner", tt.reply))
			out, err := h.orch.Run(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Run() error = %v, want nil", err)
			}
			if out.Ran() || out.Handshake.Kind != tt.reply.Kind {
				t.Fatalf("Run() outcome = %+v, want %s without action", out, tt.reply.Kind)
			}
			if len(h.workloads.Calls("")) != 0 || len(h.containers.Calls("")) != 0 {
				t.Fatal("action executed after refusal")
			}
			if got := h.session.SentTypes(); !slices.Equal(got, []string{submitType}) {
				t.Fatalf("sent = %v, want submit only", got)
			}
			if h.phases.count(tt.phase) != 1 {
				t.Fatalf("phases = %v, want %s", h.phases.list(), tt.phase)
			}
			h.assertClosedOnce(t)
		})
	}
}

func TestRunUnexpectedHandshake(t *testing.T) {
	t.Parallel()

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fake.NewSilentSession("miner"), orchestrator.WithHandshakeTimeout(20*time.Millisecond))
		out, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
		if !errors.Is(err, orchestrator.ErrUnexpectedHandshakeResponse) {
			t.Fatalf("Run() error = %v, want ErrUnexpectedHandshakeResponse", err)
		}
		if out.Handshake.Kind != protocol.OutcomeTimedOut {
			t.Fatalf("handshake = %s, want timed_out", out.Handshake)
		}
		if len(h.workloads.Calls("")) != 0 {
			t.Fatal("workload ran after timeout")
		}
		h.assertClosedOnce(t)
	})

	t.Run("unrecognized", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fake.NewSession("miner", protocol.Unrecognized([]byte(`{"message_type":"AcceptSSHKeyRequest"}`))))
		_, err := h.orch.Run(context.Background(), subnet.CreateContainer{
			Target: testTarget,
			Spec:   subnet.ContainerSpec{Name: "c", Image: "alpine"},
		})
		if !errors.Is(err, orchestrator.ErrUnexpectedHandshakeResponse) {
			t.Fatalf("Run() error = %v, want ErrUnexpectedHandshakeResponse", err)
		}
		if len(h.containers.Calls("")) != 0 {
			t.Fatal("container action ran after unrecognized reply")
		}
		if got := h.session.SentTypes(); !slices.Equal(got, []string{submitType}) {
			t.Fatalf("sent = %v, want submit only", got)
		}
		if h.phases.count(orchestrator.PhaseUnexpectedError) != 1 {
			t.Fatalf("phases = %v, want unexpected_error", h.phases.list())
		}
		h.assertClosedOnce(t)
	})
}

func TestRunFirstHandshakeReplyWins(t *testing.T) {
	t.Parallel()

	session := fake.NewSilentSession("miner")
	session.Reply = func(protocol.SubmitCredentialRequest) (protocol.Outcome, bool) {
		session.Deliver(protocol.Declined("first"))
		return accepted, true
	}
	h := newHarness(t, session)

	out, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Handshake.Kind != protocol.OutcomeDeclined || out.Handshake.Reason != "first" {
		t.Fatalf("handshake = %s, want first reply declined(first)", out.Handshake)
	}
}

func TestRunSetupFailures(t *testing.T) {
	t.Parallel()

	t.Run("invalid request", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fake.NewSession("miner", accepted))
		_, err := h.orch.Run(context.Background(), subnet.StartContainer{Target: testTarget})
		if !errors.Is(err, orchestrator.ErrInvalidRequest) {
			t.Fatalf("Run() error = %v, want ErrInvalidRequest", err)
		}
		if len(h.opener.Calls("")) != 0 || len(h.ids.Calls("")) != 0 {
			t.Fatal("collaborators called for invalid request")
		}
	})

	t.Run("identity unavailable", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fake.NewSession("miner", accepted))
		h.ids.Err = errors.New("no hotkey")
		_, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
		if !errors.Is(err, orchestrator.ErrIdentityUnavailable) {
			t.Fatalf("Run() error = %v, want ErrIdentityUnavailable", err)
		}
		if len(h.opener.Calls("Open")) != 0 {
			t.Fatal("session opened without identity")
		}
		if h.session.Closes() != 0 {
			t.Fatal("unopened session closed")
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fake.NewSession("miner", accepted))
		refused := errors.New("connection refused")
		h.opener.Faults = fault.NewInjector()
		h.opener.Faults.FailAlways(fake.PointOpen, refused)

		_, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
		if !errors.Is(err, orchestrator.ErrConnection) || !errors.Is(err, refused) {
			t.Fatalf("Run() error = %v, want ErrConnection wrapping refusal", err)
		}
		if len(h.creds.Calls("")) != 0 {
			t.Fatal("credential generated without a session")
		}
	})

	t.Run("credential generation", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fake.NewSession("miner", accepted))
		h.creds.GenerateErr = func(string) error { return errors.New("entropy exhausted") }

		_, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
		if !errors.Is(err, orchestrator.ErrCredentialGeneration) {
			t.Fatalf("Run() error = %v, want ErrCredentialGeneration", err)
		}
		if len(h.session.Sent()) != 0 {
			t.Fatalf("sent = %v, want nothing", h.session.SentTypes())
		}
		h.assertClosedOnce(t)
	})

	t.Run("submit send", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fake.NewSession("miner", accepted))
		h.session.Faults = fault.NewInjector()
		h.session.Faults.FailOnce(fake.PointSend, errors.New("broken pipe"))

		_, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
		if !errors.Is(err, orchestrator.ErrConnection) {
			t.Fatalf("Run() error = %v, want ErrConnection", err)
		}
		if len(h.session.Calls("AwaitHandshake")) != 0 {
			t.Fatal("awaited handshake after failed submit")
		}
		h.assertClosedOnce(t)
	})
}

func TestRunRevokeFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.NewSession("miner", accepted))
	h.session.Faults = fault.NewInjector()
	h.session.Faults.SetHook(fake.PointSend, func(args ...any) error {
		if args[0] == removeType {
			return errors.New("connection reset")
		}
		return nil
	})

	out, err := h.orch.Run(context.Background(), subnet.StopContainer{Target: testTarget, ContainerName: "c"})
	if !errors.Is(err, orchestrator.ErrConnection) {
		t.Fatalf("Run() error = %v, want ErrConnection", err)
	}
	if !out.Ran() {
		t.Fatal("action did not run before revoke")
	}
	h.assertClosedOnce(t)
}

func TestRunRecoversActionPanic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.NewSession("miner", accepted))
	h.workloads.CreateErr = func(context.Context, subnet.SubmitWorkload) error { panic("collector crashed") }

	_, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
	if !errors.Is(err, orchestrator.ErrActionExecution) {
		t.Fatalf("Run() error = %v, want ErrActionExecution", err)
	}
	h.assertClosedOnce(t)
}

func TestRunActionDoesNotBlockSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.NewSession("miner", accepted))
	release := make(chan struct{})
	started := make(chan struct{})
	h.workloads.CreateErr = func(ctx context.Context, _ subnet.SubmitWorkload) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
		done <- err
	}()

	<-started
	// The session still takes inbound frames while the action runs.
	if h.session.Deliver(protocol.Declined("late")) {
		t.Fatal("late reply resolved an already settled handshake")
	}
	if h.session.Closes() != 0 {
		t.Fatal("session closed while action running")
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not finish after action completed")
	}
	h.assertClosedOnce(t)
}

func TestRunOutOfBandCloseReleasesHandshake(t *testing.T) {
	t.Parallel()

	session := fake.NewSilentSession("miner")
	h := newHarness(t, session, orchestrator.WithHandshakeTimeout(time.Minute))

	go func() {
		for len(session.Calls("AwaitHandshake")) == 0 {
			time.Sleep(time.Millisecond)
		}
		_ = session.Close()
	}()

	start := time.Now()
	_, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
	if !errors.Is(err, orchestrator.ErrUnexpectedHandshakeResponse) {
		t.Fatalf("Run() error = %v, want ErrUnexpectedHandshakeResponse", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("handshake wait was not released by close")
	}
}

func TestRunContextCanceledDuringHandshake(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.NewSilentSession("miner"), orchestrator.WithHandshakeTimeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(h.session.Calls("AwaitHandshake")) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := h.orch.Run(ctx, subnet.SubmitWorkload{Target: testTarget})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	h.assertClosedOnce(t)
}

func TestRunRecordsSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("orchestrator-test")
	h := newHarness(t, fake.NewSilentSession("miner"),
		orchestrator.WithTracer(tracer),
		orchestrator.WithHandshakeTimeout(10*time.Millisecond),
	)

	_, err := h.orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget})
	if err == nil {
		t.Fatal("Run() error = nil, want handshake error")
	}

	var names []string
	var root sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
		if span.Name() == "session.submit_workload" {
			root = span
		}
	}
	for _, want := range []string{"resolve_identity", "open_session", "submit_credential", "await_handshake"} {
		if !slices.Contains(names, want) {
			t.Fatalf("spans = %v, missing %s", names, want)
		}
	}
	if slices.Contains(names, "execute_action") {
		t.Fatalf("spans = %v, want no action span", names)
	}
	if root == nil || root.Status().Code != codes.Error {
		t.Fatalf("root span = %v, want error status", root)
	}
}

func TestRunIndependentSessionsConcurrently(t *testing.T) {
	t.Parallel()

	ids := fake.NewIdentityResolver()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := fake.NewSession("miner", accepted)
			orch := orchestrator.New(&fake.Opener{Session: session}, ids, &fake.CredentialGenerator{},
				orchestrator.Executor{Workloads: &fake.WorkloadCreator{}},
				orchestrator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			)
			if _, err := orch.Run(context.Background(), subnet.SubmitWorkload{Target: testTarget}); err != nil {
				errs <- err
				return
			}
			if session.Closes() != 1 {
				errs <- errors.New("session not closed exactly once")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Run() error = %v", err)
	}
}
