package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/client"
)

// WaitReady pings the engine until it answers, ctx ends, or a non-connection
// error occurs.
func (r *Runtime) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	log := slog.With("component", "docker")
	waiting := false
	for {
		_, err := r.cli.Ping(ctx)
		if err == nil {
			if waiting {
				log.Debug("Engine reachable.")
			}
			return nil
		}
		if !client.IsErrConnectionFailed(err) {
			return fmt.Errorf("connect to docker engine: %w", err)
		}
		if !waiting {
			waiting = true
			log.Debug("Waiting for docker engine.", "err", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect to docker engine: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}
