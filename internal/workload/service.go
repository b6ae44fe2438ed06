// Package workload runs a workload submission on an accepted miner: it logs
// into the miner host with the session credential, collects the host's
// machine specs and records them.
package workload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
	"github.com/Parig0t/compute-subnet-1/internal/remote"
)

var ErrInvalidSpecs = errors.New("invalid machine specs")

// SpecStore persists collected workload results.
type SpecStore interface {
	SaveSpecs(ctx context.Context, desc subnet.WorkloadDescriptor) error
}

// Service implements orchestrator.WorkloadCreator over SSH.
type Service struct {
	SSHTimeout time.Duration
	// Store is optional; without it results are only returned.
	Store  SpecStore
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) CreateWorkload(ctx context.Context, req subnet.SubmitWorkload, details protocol.AcceptedDetails, id identity.Identity, privateKey string) (subnet.WorkloadDescriptor, error) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "workload", "miner", req.Name())

	host := details.Host(req.Address)
	client, err := remote.Dial(ctx, host, remote.SSHOptions{
		User:       details.SSHUsername,
		Port:       details.Port(),
		PrivateKey: []byte(privateKey),
		Timeout:    s.SSHTimeout,
	})
	if err != nil {
		return subnet.WorkloadDescriptor{}, fmt.Errorf("connect to miner host: %w", err)
	}
	defer client.Close()

	log.Debug("Collecting machine specs.", "ssh", client.Target())
	out, err := client.RunScriptOutput(ctx, SpecsScript(details.RootDir))
	if err != nil {
		return subnet.WorkloadDescriptor{}, fmt.Errorf("collect machine specs: %w", err)
	}
	specs, err := ParseSpecs(out)
	if err != nil {
		return subnet.WorkloadDescriptor{}, err
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	desc := subnet.WorkloadDescriptor{
		MinerAddress:  req.Address,
		PeerID:        req.PeerID,
		DurationClass: req.DurationClass,
		Specs:         specs,
		CollectedAt:   now().UTC(),
	}

	if s.Store != nil {
		if err := s.Store.SaveSpecs(ctx, desc); err != nil {
			return desc, fmt.Errorf("persist machine specs: %w", err)
		}
	}
	log.Info("Collected machine specs.",
		"hostname", specs.Hostname,
		"cpus", specs.CPUCount,
		"memory_mb", specs.MemoryMB,
		"gpus", len(specs.GPUs),
		"validator", id.Address(),
	)
	return desc, nil
}

// ParseSpecs decodes the JSON line SpecsScript prints. Lines before it
// (login banners and the like) are ignored.
func ParseSpecs(output string) (subnet.MachineSpecs, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var line string
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "{") {
			line = l
			break
		}
	}
	if line == "" {
		return subnet.MachineSpecs{}, fmt.Errorf("%w: no JSON in output", ErrInvalidSpecs)
	}

	var specs subnet.MachineSpecs
	if err := json.Unmarshal([]byte(line), &specs); err != nil {
		return subnet.MachineSpecs{}, fmt.Errorf("%w: %v", ErrInvalidSpecs, err)
	}
	if strings.TrimSpace(specs.Hostname) == "" {
		return subnet.MachineSpecs{}, fmt.Errorf("%w: missing hostname", ErrInvalidSpecs)
	}
	if specs.CPUCount <= 0 {
		return subnet.MachineSpecs{}, fmt.Errorf("%w: cpu_count %d", ErrInvalidSpecs, specs.CPUCount)
	}
	return specs, nil
}
