// Package container manages containers on an accepted miner. Each operation
// logs into the miner host with the session credential and talks to its
// Docker engine through the SSH connection.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/internal/adapter/docker"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/protocol"
	"github.com/Parig0t/compute-subnet-1/internal/remote"
)

// Engine is the slice of the Docker API the runtime drives.
type Engine interface {
	ImagePull(ctx context.Context, image string) error
	ContainerCreate(ctx context.Context, spec subnet.ContainerSpec, owner string) (string, error)
	ContainerStart(ctx context.Context, name string) error
	ContainerStop(ctx context.Context, name string) error
	ContainerRemove(ctx context.Context, name string) error
	VolumeRemove(ctx context.Context, name string) error
	Close() error
}

// Connector reaches the engine on a miner host.
type Connector interface {
	Connect(ctx context.Context, host string, opts remote.SSHOptions) (Engine, error)
}

// Runtime implements orchestrator.ContainerRuntime.
type Runtime struct {
	Connector Connector
	// SSHTimeout bounds the login to the miner host.
	SSHTimeout time.Duration
	Logger     *slog.Logger
}

// NewRuntime returns a Runtime that reaches the engine at socket over SSH.
func NewRuntime(socket string, sshTimeout time.Duration, log *slog.Logger) *Runtime {
	return &Runtime{
		Connector:  SSHConnector{Socket: socket, Preflight: true},
		SSHTimeout: sshTimeout,
		Logger:     log,
	}
}

func (r *Runtime) CreateContainer(ctx context.Context, req subnet.CreateContainer, details protocol.AcceptedDetails, id identity.Identity, privateKey string) error {
	return r.with(ctx, req.Target, details, privateKey, func(ctx context.Context, eng Engine, log *slog.Logger) error {
		spec := req.Spec
		log = log.With("container", spec.Name, "image", spec.Image)
		if err := eng.ImagePull(ctx, spec.Image); err != nil {
			return err
		}
		containerID, err := eng.ContainerCreate(ctx, spec, id.Address())
		if err != nil {
			return err
		}
		if err := eng.ContainerStart(ctx, spec.Name); err != nil {
			return err
		}
		log.Info("Created container.", "id", shortID(containerID), "ports", len(spec.Ports), "gpus", spec.GPUs)
		return nil
	})
}

func (r *Runtime) StartContainer(ctx context.Context, req subnet.StartContainer, details protocol.AcceptedDetails, _ identity.Identity, privateKey string) error {
	return r.with(ctx, req.Target, details, privateKey, func(ctx context.Context, eng Engine, log *slog.Logger) error {
		if err := eng.ContainerStart(ctx, req.ContainerName); err != nil {
			return err
		}
		log.Info("Started container.", "container", req.ContainerName)
		return nil
	})
}

func (r *Runtime) StopContainer(ctx context.Context, req subnet.StopContainer, details protocol.AcceptedDetails, _ identity.Identity, privateKey string) error {
	return r.with(ctx, req.Target, details, privateKey, func(ctx context.Context, eng Engine, log *slog.Logger) error {
		if err := eng.ContainerStop(ctx, req.ContainerName); err != nil {
			return err
		}
		log.Info("Stopped container.", "container", req.ContainerName)
		return nil
	})
}

// DeleteContainer removes the container and then its volume. Either being
// absent already counts as removed.
func (r *Runtime) DeleteContainer(ctx context.Context, req subnet.DeleteContainer, details protocol.AcceptedDetails, _ identity.Identity, privateKey string) error {
	return r.with(ctx, req.Target, details, privateKey, func(ctx context.Context, eng Engine, log *slog.Logger) error {
		if err := eng.ContainerRemove(ctx, req.ContainerName); err != nil {
			return err
		}
		if req.VolumeName != "" {
			if err := eng.VolumeRemove(ctx, req.VolumeName); err != nil {
				return err
			}
		}
		log.Info("Deleted container.", "container", req.ContainerName, "volume", req.VolumeName)
		return nil
	})
}

func (r *Runtime) with(ctx context.Context, target subnet.Target, details protocol.AcceptedDetails, privateKey string, fn func(context.Context, Engine, *slog.Logger) error) (err error) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "container", "miner", target.Name())

	connector := r.Connector
	if connector == nil {
		connector = SSHConnector{Socket: docker.DefaultSocket}
	}
	eng, err := connector.Connect(ctx, details.Host(target.Address), remote.SSHOptions{
		User:       details.SSHUsername,
		Port:       details.Port(),
		PrivateKey: []byte(privateKey),
		Timeout:    r.SSHTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to container engine: %w", err)
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close container engine: %w", cerr))
		}
	}()
	return fn(ctx, eng, log)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

const engineReadyTimeout = 15 * time.Second

// SSHConnector logs into the host and forwards the engine socket over the
// SSH connection.
type SSHConnector struct {
	Socket string
	// Preflight checks the host has a usable docker daemon before connecting.
	Preflight bool
}

func (c SSHConnector) Connect(ctx context.Context, host string, opts remote.SSHOptions) (Engine, error) {
	client, err := remote.Dial(ctx, host, opts)
	if err != nil {
		return nil, err
	}
	if c.Preflight {
		if err := client.RunScript(ctx, remote.PreflightScript()); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("preflight: %w", err)
		}
	}

	socket := strings.TrimSpace(c.Socket)
	if socket == "" {
		socket = docker.DefaultSocket
	}
	rt, err := docker.NewRuntimeFromDialer(func(ctx context.Context) (net.Conn, error) {
		return client.DialUnix(ctx, socket)
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	readyCtx, cancel := context.WithTimeout(ctx, engineReadyTimeout)
	defer cancel()
	if err := rt.WaitReady(readyCtx, time.Second); err != nil {
		_ = rt.Close()
		_ = client.Close()
		return nil, err
	}
	return &sshEngine{Runtime: rt, ssh: client}, nil
}

// sshEngine closes the SSH connection along with the Docker client.
type sshEngine struct {
	*docker.Runtime
	ssh *remote.Client
}

func (e *sshEngine) Close() error {
	return errors.Join(e.Runtime.Close(), e.ssh.Close())
}
