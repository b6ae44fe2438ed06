package cmdutil

import (
	"errors"
	"strings"
	"testing"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/orchestrator"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
)

func TestParsePorts(t *testing.T) {
	got, err := ParsePorts([]string{"8080", "2222:22", "5353:53/UDP"})
	if err != nil {
		t.Fatalf("ParsePorts() error = %v", err)
	}
	want := []subnet.PortMapping{
		{ContainerPort: 8080},
		{ContainerPort: 22, HostPort: 2222},
		{ContainerPort: 53, HostPort: 5353, Protocol: "udp"},
	}
	if len(got) != len(want) {
		t.Fatalf("ParsePorts() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ParsePorts()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	for _, bad := range []string{"http", "x:80", ":"} {
		if _, err := ParsePorts([]string{bad}); err == nil {
			t.Fatalf("ParsePorts(%q) error = nil", bad)
		}
	}
}

func TestParseEnv(t *testing.T) {
	got, err := ParseEnv([]string{"A=1", "B=x=y", "EMPTY="})
	if err != nil {
		t.Fatalf("ParseEnv() error = %v", err)
	}
	if got["A"] != "1" || got["B"] != "x=y" || got["EMPTY"] != "" || len(got) != 3 {
		t.Fatalf("ParseEnv() = %v", got)
	}
	if _, err := ParseEnv([]string{"novalue"}); err == nil {
		t.Fatal("ParseEnv(novalue) error = nil")
	}
	if m, err := ParseEnv(nil); m != nil || err != nil {
		t.Fatalf("ParseEnv(nil) = %v, %v", m, err)
	}
}

func TestDescribe(t *testing.T) {
	req := subnet.StopContainer{Target: subnet.Target{Address: "10.0.0.1", Port: 8000, PeerID: "miner"}, ContainerName: "c"}

	tests := []struct {
		out  orchestrator.ActionOutcome
		want string
	}{
		{orchestrator.ActionOutcome{Handshake: protocol.Declined("busy")}, "declined stop_container: busy"},
		{orchestrator.ActionOutcome{Handshake: protocol.Failed("")}, "could not accept the credential: -"},
		{orchestrator.ActionOutcome{Handshake: protocol.Accepted(protocol.AcceptedDetails{}), Err: errors.New("boom")}, "failed: boom"},
		{orchestrator.ActionOutcome{Handshake: protocol.Accepted(protocol.AcceptedDetails{})}, "stop_container on miner@10.0.0.1:8000"},
	}
	for _, tt := range tests {
		if got := Describe(req, tt.out); !strings.Contains(got, tt.want) {
			t.Fatalf("Describe() = %q, want it to contain %q", got, tt.want)
		}
	}
}

func TestTargetFlagsTrim(t *testing.T) {
	f := TargetFlags{Address: " 10.0.0.1 ", Port: 8000, PeerID: " hk "}
	if got := f.Target(); got.Address != "10.0.0.1" || got.PeerID != "hk" {
		t.Fatalf("Target() = %+v", got)
	}
}

func TestProgressSkipsTerminalPhases(t *testing.T) {
	tgt := subnet.Target{Address: "10.0.0.1", Port: 8000, PeerID: "miner"}
	if line, ok := Progress(tgt, orchestrator.PhaseSessionOpen); !ok || !strings.Contains(line, "miner@10.0.0.1:8000") {
		t.Fatalf("Progress(SessionOpen) = %q, %v", line, ok)
	}
	for _, p := range []orchestrator.Phase{orchestrator.PhaseIdle, orchestrator.PhaseDeclined, orchestrator.PhaseClosed} {
		if _, ok := Progress(tgt, p); ok {
			t.Fatalf("Progress(%s) ok = true", p)
		}
	}
}
