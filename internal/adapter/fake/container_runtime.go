package fake

import (
	"context"
	"fmt"
	"sync"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/orchestrator"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
)

var _ orchestrator.ContainerRuntime = (*ContainerRuntime)(nil)

type containerState struct {
	Spec    subnet.ContainerSpec
	Running bool
}

// ContainerRuntime is an in-memory stand-in for a miner's container engine.
type ContainerRuntime struct {
	CallRecorder
	mu         sync.Mutex
	containers map[string]*containerState
	volumes    map[string]bool

	CreateErr func(ctx context.Context, spec subnet.ContainerSpec) error
	StartErr  func(ctx context.Context, name string) error
	StopErr   func(ctx context.Context, name string) error
	DeleteErr func(ctx context.Context, name string) error
}

func NewContainerRuntime() *ContainerRuntime {
	return &ContainerRuntime{
		containers: make(map[string]*containerState),
		volumes:    make(map[string]bool),
	}
}

func (r *ContainerRuntime) CreateContainer(ctx context.Context, req subnet.CreateContainer, _ protocol.AcceptedDetails, _ identity.Identity, _ string) error {
	r.record("CreateContainer", req.Spec.Name)
	if r.CreateErr != nil {
		if err := r.CreateErr(ctx, req.Spec); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[req.Spec.Name]; ok {
		return fmt.Errorf("container %q already exists", req.Spec.Name)
	}
	r.containers[req.Spec.Name] = &containerState{Spec: req.Spec, Running: true}
	if req.Spec.VolumeName != "" {
		r.volumes[req.Spec.VolumeName] = true
	}
	return nil
}

func (r *ContainerRuntime) StartContainer(ctx context.Context, req subnet.StartContainer, _ protocol.AcceptedDetails, _ identity.Identity, _ string) error {
	r.record("StartContainer", req.ContainerName)
	if r.StartErr != nil {
		if err := r.StartErr(ctx, req.ContainerName); err != nil {
			return err
		}
	}
	return r.setRunning(req.ContainerName, true)
}

func (r *ContainerRuntime) StopContainer(ctx context.Context, req subnet.StopContainer, _ protocol.AcceptedDetails, _ identity.Identity, _ string) error {
	r.record("StopContainer", req.ContainerName)
	if r.StopErr != nil {
		if err := r.StopErr(ctx, req.ContainerName); err != nil {
			return err
		}
	}
	return r.setRunning(req.ContainerName, false)
}

func (r *ContainerRuntime) DeleteContainer(ctx context.Context, req subnet.DeleteContainer, _ protocol.AcceptedDetails, _ identity.Identity, _ string) error {
	r.record("DeleteContainer", req.ContainerName, req.VolumeName)
	if r.DeleteErr != nil {
		if err := r.DeleteErr(ctx, req.ContainerName); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, req.ContainerName)
	if req.VolumeName != "" {
		delete(r.volumes, req.VolumeName)
	}
	return nil
}

// Running reports whether name exists and is running.
func (r *ContainerRuntime) Running(name string) (exists, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return false, false
	}
	return true, c.Running
}

// HasVolume reports whether a named volume is present.
func (r *ContainerRuntime) HasVolume(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volumes[name]
}

func (r *ContainerRuntime) setRunning(name string, running bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return fmt.Errorf("container %q not found", name)
	}
	c.Running = running
	return nil
}
