package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// DefaultImage ships numpy, pandas and matplotlib.
	DefaultImage = "python:3.12-slim"

	// LabelKey marks containers owned by the sandbox.
	LabelKey = "visual-study-buddy.sandbox"

	containerUser = "65534"
	workingDir    = "/tmp"

	// Resource limits.
	memoryLimitBytes = 256 * 1024 * 1024 // 256MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 64

	removeTimeout = 10 * time.Second
)

// DockerGateway runs every snippet in a fresh, network-less container.
type DockerGateway struct {
	cli     client.APIClient
	image   string
	runtime string // "" = default (runc), "runsc" = gVisor
	timeout time.Duration
	ready   atomic.Bool
}

// Ensure DockerGateway implements Gateway.
var _ Gateway = (*DockerGateway)(nil)

// NewDockerGateway creates a Docker-backed gateway. The gateway is not ready
// until Prepare succeeds.
func NewDockerGateway(imageName, runtime string, timeout time.Duration) (*DockerGateway, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if runtime != "" {
		slog.Info("Docker client initialized", "runtime", runtime)
	} else {
		slog.Info("Docker client initialized", "runtime", "default")
	}
	return newDockerGateway(cli, imageName, runtime, timeout), nil
}

func newDockerGateway(cli client.APIClient, imageName, runtime string, timeout time.Duration) *DockerGateway {
	if imageName == "" {
		imageName = DefaultImage
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DockerGateway{cli: cli, image: imageName, runtime: runtime, timeout: timeout}
}

// Ready implements Gateway.
func (g *DockerGateway) Ready() bool {
	return g.ready.Load()
}

// Prepare makes sure the runtime image is present, pulling it when missing,
// and then marks the gateway ready.
func (g *DockerGateway) Prepare(ctx context.Context) error {
	_, err := g.cli.ImageInspect(ctx, g.image)
	switch {
	case err == nil:
		slog.Info("Sandbox image present", "image", g.image)
	case errdefs.IsNotFound(err):
		slog.Info("Pulling sandbox image", "image", g.image)
		if err := g.pull(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("inspect image %s: %w", g.image, err)
	}

	g.ready.Store(true)
	slog.Info("Sandbox ready", "image", g.image)
	return nil
}

func (g *DockerGateway) pull(ctx context.Context) error {
	rc, err := g.cli.ImagePull(ctx, g.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", g.image, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			slog.Debug("Failed to close image pull stream", "error", closeErr)
		}
	}()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("read image pull progress: %w", err)
	}
	return nil
}

// Run implements Gateway.
func (g *DockerGateway) Run(ctx context.Context, code string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	config := &container.Config{
		Image:           g.image,
		User:            containerUser,
		WorkingDir:      workingDir,
		Cmd:             []string{"python3", "-c", code},
		Env:             []string{"MPLBACKEND=Agg", "PYTHONUNBUFFERED=1"},
		NetworkDisabled: true,
		Labels:          map[string]string{LabelKey: "true"},
	}

	hostConfig := &container.HostConfig{
		Runtime:        g.runtime,
		NetworkMode:    container.NetworkMode("none"),
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,size=64m"},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	resp, err := g.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer g.remove(resp.ID)

	if err := g.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	statusCh, errCh := g.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ExecError{ExitCode: -1, Message: fmt.Sprintf("Execution timed out after %s", g.timeout)}
		}
		return nil, fmt.Errorf("wait for container %s: %w", resp.ID, err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return nil, fmt.Errorf("wait for container %s: %s", resp.ID, status.Error.Message)
		}
		exitCode = status.StatusCode
	}

	stdout, stderr, err := g.logs(ctx, resp.ID)
	if err != nil {
		return nil, err
	}

	if exitCode != 0 {
		msg := lastLine(stderr)
		if msg == "" {
			msg = fmt.Sprintf("Process exited with status %d", exitCode)
		}
		return nil, &ExecError{ExitCode: exitCode, Message: msg}
	}
	return SplitLines(stdout), nil
}

func (g *DockerGateway) logs(ctx context.Context, containerID string) (string, string, error) {
	rc, err := g.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("read logs of container %s: %w", containerID, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			slog.Debug("Failed to close log stream", "error", closeErr)
		}
	}()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("demultiplex logs of container %s: %w", containerID, err)
	}
	return stdout.String(), stderr.String(), nil
}

// remove force-removes a finished container. It runs detached from the
// request context so a cancelled run still cleans up.
func (g *DockerGateway) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := g.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return
		}
		slog.Warn("Failed to remove sandbox container", "container_id", containerID, "error", err)
	}
}

// Close closes the Docker client.
func (g *DockerGateway) Close() error {
	return g.cli.Close()
}

func lastLine(s string) string {
	lines := SplitLines(s)
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func ptr[T any](v T) *T {
	return &v
}
