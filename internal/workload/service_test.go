package workload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/adapter/fake"
	"github.com/Parig0t/compute-subnet-1/internal/credential"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
	"github.com/Parig0t/compute-subnet-1/internal/remote/sshtest"
)

const specsLine = `{"hostname":"gpu-01","os":"Ubuntu 22.04","kernel":"6.5.0","cpu_count":32,"memory_mb":128000,"disk_gb":900,"docker_version":"27.1.1","gpus":[{"name":"NVIDIA H100","memory_mb":81559,"driver":"550.54"}]}`

type memStore struct {
	saved []subnet.WorkloadDescriptor
	err   error
}

func (m *memStore) SaveSpecs(_ context.Context, desc subnet.WorkloadDescriptor) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, desc)
	return nil
}

func TestParseSpecs(t *testing.T) {
	t.Parallel()

	specs, err := ParseSpecs("Welcome to miner-01\n\n" + specsLine + "\n")
	if err != nil {
		t.Fatalf("ParseSpecs() error = %v", err)
	}
	if specs.Hostname != "gpu-01" || specs.CPUCount != 32 || len(specs.GPUs) != 1 || specs.GPUs[0].MemoryMB != 81559 {
		t.Fatalf("ParseSpecs() = %+v", specs)
	}

	bad := []string{
		"",
		"no json here",
		`{"hostname":"h","cpu_count":0}`,
		`{"hostname":"","cpu_count":4}`,
		`{"hostname":`,
	}
	for _, in := range bad {
		if _, err := ParseSpecs(in); !errors.Is(err, ErrInvalidSpecs) {
			t.Fatalf("ParseSpecs(%q) error = %v, want ErrInvalidSpecs", in, err)
		}
	}
}

func TestSpecsScriptQuotesWorkDir(t *testing.T) {
	t.Parallel()

	script := SpecsScript("/data/it's")
	if !strings.Contains(script, `WORKDIR='/data/it'"'"'s'`) {
		t.Fatalf("SpecsScript() did not quote work dir:\n%s", script)
	}
	if !strings.Contains(SpecsScript(""), "WORKDIR='/'") {
		t.Fatal("SpecsScript(\"\") should default to /")
	}
}

func TestCreateWorkloadCollectsAndStores(t *testing.T) {
	t.Parallel()

	cred, err := credential.Generator{}.Generate("validator")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	srv := sshtest.NewServer(t, cred.PublicKey, func(cmd string, stdin []byte) (string, int) {
		if !strings.Contains(string(stdin), "WORKDIR='/srv/miner'") {
			return "unexpected script", 2
		}
		return specsLine + "\n", 0
	})

	store := &memStore{}
	collected := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &Service{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    fake.NewClock(collected).Now,
	}
	req := subnet.SubmitWorkload{
		Target:        subnet.Target{Address: srv.Host, Port: 8091, PeerID: "miner-hotkey"},
		DurationClass: subnet.DurationMedium,
	}
	details := protocol.AcceptedDetails{SSHUsername: "miner", SSHPort: srv.Port, RootDir: "/srv/miner"}

	desc, err := svc.CreateWorkload(context.Background(), req, details, identity.Identity{}, cred.PrivateKeyText())
	if err != nil {
		t.Fatalf("CreateWorkload() error = %v", err)
	}
	if desc.Specs.Hostname != "gpu-01" || desc.DurationClass != subnet.DurationMedium || !desc.CollectedAt.Equal(collected) {
		t.Fatalf("CreateWorkload() = %+v", desc)
	}
	if len(store.saved) != 1 || store.saved[0].PeerID != "miner-hotkey" {
		t.Fatalf("stored = %+v, want one descriptor", store.saved)
	}
	if cmds := srv.Commands(); len(cmds) != 1 || cmds[0] != "sh -s" {
		t.Fatalf("remote commands = %v", cmds)
	}
}

func TestCreateWorkloadFailures(t *testing.T) {
	t.Parallel()

	cred, err := credential.Generator{}.Generate("validator")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	srv := sshtest.NewServer(t, cred.PublicKey, func(string, []byte) (string, int) {
		return specsLine, 0
	})
	req := subnet.SubmitWorkload{Target: subnet.Target{Address: srv.Host, Port: 8091, PeerID: "m"}}
	details := protocol.AcceptedDetails{SSHUsername: "miner", SSHPort: srv.Port}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("store failure", func(t *testing.T) {
		svc := &Service{Store: &memStore{err: errors.New("disk full")}, Logger: quiet}
		if _, err := svc.CreateWorkload(context.Background(), req, details, identity.Identity{}, cred.PrivateKeyText()); err == nil {
			t.Fatal("CreateWorkload() error = nil, want store error")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := credential.Generator{}.Generate("other")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		svc := &Service{Logger: quiet}
		if _, err := svc.CreateWorkload(context.Background(), req, details, identity.Identity{}, other.PrivateKeyText()); err == nil {
			t.Fatal("CreateWorkload() error = nil, want auth error")
		}
	})
}
