package subnet

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAction = errors.New("invalid action request")

// ActionKind names the privileged operation a session dispatches.
type ActionKind uint8

const (
	ActionSubmitWorkload ActionKind = iota + 1
	ActionCreateContainer
	ActionStartContainer
	ActionStopContainer
	ActionDeleteContainer
)

func (k ActionKind) String() string {
	switch k {
	case ActionSubmitWorkload:
		return "submit_workload"
	case ActionCreateContainer:
		return "create_container"
	case ActionStartContainer:
		return "start_container"
	case ActionStopContainer:
		return "stop_container"
	case ActionDeleteContainer:
		return "delete_container"
	default:
		return "unknown"
	}
}

// IsContainer reports whether the action targets the miner's container runtime.
func (k ActionKind) IsContainer() bool {
	return k >= ActionCreateContainer && k <= ActionDeleteContainer
}

// ActionRequest is one unit of privileged work addressed to a single miner.
// Implementations are plain values and are never mutated after construction.
type ActionRequest interface {
	Kind() ActionKind
	Peer() Target
	Route() RouteKind
	Validate() error
}

var (
	_ ActionRequest = SubmitWorkload{}
	_ ActionRequest = CreateContainer{}
	_ ActionRequest = StartContainer{}
	_ ActionRequest = StopContainer{}
	_ ActionRequest = DeleteContainer{}
)

// Workload duration classes accepted by miners.
const (
	DurationShort  = "short"
	DurationMedium = "medium"
	DurationLong   = "long"
)

// SubmitWorkload asks the miner to run a benchmark workload and report its machine specs.
type SubmitWorkload struct {
	Target
	DurationClass string
}

func (SubmitWorkload) Kind() ActionKind { return ActionSubmitWorkload }
func (r SubmitWorkload) Peer() Target   { return r.Target }
func (SubmitWorkload) Route() RouteKind { return RouteJobs }

func (r SubmitWorkload) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return err
	}
	switch r.DurationClass {
	case "", DurationShort, DurationMedium, DurationLong:
		return nil
	default:
		return fmt.Errorf("%w: unknown duration class %q", ErrInvalidAction, r.DurationClass)
	}
}

// PortMapping publishes one container port on the miner host.
// A zero HostPort lets the runtime pick one.
type PortMapping struct {
	ContainerPort int
	HostPort      int
	Protocol      string
}

// ContainerSpec describes a container to be created on the miner.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        map[string]string
	Ports      []PortMapping
	VolumeName string
	GPUs       bool
}

func (s ContainerSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: missing container name", ErrInvalidAction)
	}
	if strings.TrimSpace(s.Image) == "" {
		return fmt.Errorf("%w: missing image", ErrInvalidAction)
	}
	for i, p := range s.Ports {
		if p.ContainerPort <= 0 || p.ContainerPort > 65535 {
			return fmt.Errorf("%w: ports[%d] container port %d out of range", ErrInvalidAction, i, p.ContainerPort)
		}
		if p.HostPort < 0 || p.HostPort > 65535 {
			return fmt.Errorf("%w: ports[%d] host port %d out of range", ErrInvalidAction, i, p.HostPort)
		}
		switch strings.ToLower(p.Protocol) {
		case "", "tcp", "udp":
		default:
			return fmt.Errorf("%w: ports[%d] protocol %q", ErrInvalidAction, i, p.Protocol)
		}
	}
	return nil
}

// CreateContainer builds and starts a container on the miner.
type CreateContainer struct {
	Target
	Spec ContainerSpec
}

func (CreateContainer) Kind() ActionKind { return ActionCreateContainer }
func (r CreateContainer) Peer() Target   { return r.Target }
func (CreateContainer) Route() RouteKind { return RouteResources }

func (r CreateContainer) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return err
	}
	return r.Spec.Validate()
}

// StartContainer starts an existing container by name.
type StartContainer struct {
	Target
	ContainerName string
}

func (StartContainer) Kind() ActionKind { return ActionStartContainer }
func (r StartContainer) Peer() Target   { return r.Target }
func (StartContainer) Route() RouteKind { return RouteResources }

func (r StartContainer) Validate() error {
	return validateContainerRef(r.Target, r.ContainerName)
}

// StopContainer stops a running container by name.
type StopContainer struct {
	Target
	ContainerName string
}

func (StopContainer) Kind() ActionKind { return ActionStopContainer }
func (r StopContainer) Peer() Target   { return r.Target }
func (StopContainer) Route() RouteKind { return RouteResources }

func (r StopContainer) Validate() error {
	return validateContainerRef(r.Target, r.ContainerName)
}

// DeleteContainer removes a container and, when set, its named volume.
type DeleteContainer struct {
	Target
	ContainerName string
	VolumeName    string
}

func (DeleteContainer) Kind() ActionKind { return ActionDeleteContainer }
func (r DeleteContainer) Peer() Target   { return r.Target }
func (DeleteContainer) Route() RouteKind { return RouteResources }

func (r DeleteContainer) Validate() error {
	return validateContainerRef(r.Target, r.ContainerName)
}

func validateContainerRef(t Target, name string) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: missing container name", ErrInvalidAction)
	}
	return nil
}
