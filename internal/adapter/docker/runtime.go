// Package docker drives a Docker Engine through its HTTP API. The engine may
// be local or reached through a forwarded socket.
package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"

	subnet "github.com/Parig0t/compute-subnet-1"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	// DefaultSocket is the engine socket path on a miner host.
	DefaultSocket = "/var/run/docker.sock"
	// VolumeTarget is where a spec's named volume is mounted.
	VolumeTarget = "/data"
	// OwnerLabel records which validator created a container.
	OwnerLabel = "subnet.validator"
)

// DialFunc opens a stream to the engine socket.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Runtime wraps a Docker client.
type Runtime struct {
	cli *client.Client
}

// NewRuntimeFromDialer creates a Runtime whose every API call dials the
// engine with dial.
func NewRuntimeFromDialer(dial DialFunc, opts ...client.Opt) (*Runtime, error) {
	base := []client.Opt{
		client.WithHost("unix://" + DefaultSocket),
		client.WithDialContext(func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dial(ctx)
		}),
		client.WithAPIVersionNegotiation(),
	}
	cli, err := client.NewClientWithOpts(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli *client.Client) *Runtime {
	return &Runtime{cli: cli}
}

func (r *Runtime) ImagePull(ctx context.Context, img string) error {
	pull, err := r.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", img, err)
	}
	_, _ = io.Copy(io.Discard, pull)
	_ = pull.Close()
	return nil
}

// ContainerCreate creates the container described by spec without starting it.
func (r *Runtime) ContainerCreate(ctx context.Context, spec subnet.ContainerSpec, owner string) (string, error) {
	cc, hc, err := BuildConfig(spec, owner)
	if err != nil {
		return "", err
	}
	if spec.VolumeName != "" {
		if _, err := r.cli.VolumeCreate(ctx, volume.CreateOptions{
			Name:   spec.VolumeName,
			Labels: map[string]string{OwnerLabel: owner},
		}); err != nil {
			return "", fmt.Errorf("create volume %q: %w", spec.VolumeName, err)
		}
	}
	resp, err := r.cli.ContainerCreate(ctx, cc, hc, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %q: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (r *Runtime) ContainerStart(ctx context.Context, name string) error {
	if err := r.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", name, err)
	}
	return nil
}

func (r *Runtime) ContainerStop(ctx context.Context, name string) error {
	if err := r.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return fmt.Errorf("stop container %q: %w", name, err)
	}
	return nil
}

// ContainerRemove force-removes name. A missing container is not an error.
func (r *Runtime) ContainerRemove(ctx context.Context, name string) error {
	if err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %q: %w", name, err)
	}
	return nil
}

// VolumeRemove removes a named volume. A missing volume is not an error.
func (r *Runtime) VolumeRemove(ctx context.Context, name string) error {
	if err := r.cli.VolumeRemove(ctx, name, true); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove volume %q: %w", name, err)
	}
	return nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

// BuildConfig translates spec into engine create options.
func BuildConfig(spec subnet.ContainerSpec, owner string) (*container.Config, *container.HostConfig, error) {
	exposed, bindings, err := portBindings(spec.Ports)
	if err != nil {
		return nil, nil, err
	}

	cc := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          envList(spec.Env),
		ExposedPorts: exposed,
		Labels:       map[string]string{},
	}
	if owner != "" {
		cc.Labels[OwnerLabel] = owner
	}

	hc := &container.HostConfig{
		PortBindings: bindings,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}
	if spec.VolumeName != "" {
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: spec.VolumeName,
			Target: VolumeTarget,
		})
	}
	if spec.GPUs {
		hc.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	return cc, hc, nil
}

func portBindings(ports []subnet.PortMapping) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := strings.ToLower(p.Protocol)
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("port %d/%s: %w", p.ContainerPort, proto, err)
		}
		exposed[port] = struct{}{}
		host := ""
		if p.HostPort > 0 {
			host = strconv.Itoa(p.HostPort)
		}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: host})
	}
	return exposed, bindings, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
