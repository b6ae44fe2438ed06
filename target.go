package subnet

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTarget = errors.New("invalid miner target")

// Target addresses one miner: where to reach it and the hotkey it is known by.
type Target struct {
	Address string
	Port    int
	PeerID  string
}

func (t Target) Validate() error {
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidTarget)
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, t.Port)
	}
	if strings.TrimSpace(t.PeerID) == "" {
		return fmt.Errorf("%w: missing peer id", ErrInvalidTarget)
	}
	return nil
}

// Name is the short label used in logs.
func (t Target) Name() string {
	id := t.PeerID
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("%s@%s:%d", id, t.Address, t.Port)
}

// RouteKind selects which miner endpoint a session is opened against.
// Workload submission and container management are served separately.
type RouteKind uint8

const (
	RouteJobs RouteKind = iota + 1
	RouteResources
)

func (r RouteKind) String() string {
	switch r {
	case RouteJobs:
		return "jobs"
	case RouteResources:
		return "resources"
	default:
		return "unknown"
	}
}
