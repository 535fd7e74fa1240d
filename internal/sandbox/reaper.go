package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

const reaperInterval = 5 * time.Minute

// StartReaper runs a background goroutine that periodically removes sandbox
// containers older than maxAge. Such containers are left behind when the
// process dies in the middle of a run.
func (g *DockerGateway) StartReaper(ctx context.Context, maxAge time.Duration) {
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sandbox reaper started", "interval", reaperInterval, "max_age", maxAge)

		g.reap(ctx, maxAge, time.Now())
		for {
			select {
			case now := <-ticker.C:
				g.reap(ctx, maxAge, now)
			case <-ctx.Done():
				slog.Info("Sandbox reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (g *DockerGateway) reap(ctx context.Context, maxAge time.Duration, now time.Time) int {
	containers, err := g.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelKey)),
	})
	if err != nil {
		slog.Error("Sandbox reaper failed to list containers", "error", err)
		return 0
	}

	threshold := now.Add(-maxAge).Unix()
	removed := 0
	for _, c := range containers {
		if c.Created >= threshold {
			continue
		}
		if err := g.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			slog.Warn("Sandbox reaper failed to remove container", "container_id", c.ID, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.Info("Sandbox reaper removed stale containers", "count", removed)
	}
	return removed
}
