package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/oklog/ulid/v2"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
)

const (
	workspaceMount  = "/workspace"
	stopGracePeriod = 2 * time.Second
)

// Options are the resource limits applied to every sandbox container.
type Options struct {
	Image       string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
}

// DockerRunner implements Runner against the Docker API.
type DockerRunner struct {
	cli  *client.Client
	opts Options
}

func NewDockerRunner(opts Options) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{cli: cli, opts: opts}, nil
}

// Available pings the daemon. Any failure maps to ErrSandboxUnavailable so
// the executor refuses the run instead of degrading.
func (r *DockerRunner) Available(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %v: %w", err, kkErrors.ErrSandboxUnavailable)
	}
	return nil
}

func (r *DockerRunner) Run(ctx context.Context, workspace, commandLine string) (*Result, error) {
	if err := r.Available(ctx); err != nil {
		return nil, err
	}

	name := "kakehashi-exec-" + ulid.Make().String()

	cfg := &container.Config{
		Image:      r.opts.Image,
		Cmd:        []string{"sh", "-c", commandLine},
		WorkingDir: workspaceMount,
	}
	pids := r.opts.PidsLimit
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   workspace,
				Target:   workspaceMount,
				ReadOnly: true,
			},
		},
		Resources: container.Resources{
			Memory:    r.opts.MemoryBytes,
			NanoCPUs:  r.opts.NanoCPUs,
			PidsLimit: &pids,
		},
	}

	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create sandbox container: %v: %w", err, kkErrors.ErrSandboxUnavailable)
	}
	defer r.remove(created.ID)

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container: %v: %w", err, kkErrors.ErrSandboxUnavailable)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case <-ctx.Done():
		// Deadline hit; the deferred remove force-kills the container.
		return nil, fmt.Errorf("sandboxed run: %w", kkErrors.ErrExecutionTimeout)
	case err := <-errCh:
		return nil, fmt.Errorf("wait for sandbox container: %v: %w", err, kkErrors.ErrSandboxUnavailable)
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr, err := r.collectLogs(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	return &Result{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

func (r *DockerRunner) collectLogs(ctx context.Context, containerID string) ([]byte, []byte, error) {
	logs, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read sandbox logs: %v: %w", err, kkErrors.ErrSandboxUnavailable)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, nil, fmt.Errorf("demux sandbox logs: %v: %w", err, kkErrors.ErrSandboxUnavailable)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// remove runs on its own context so cleanup still happens after a deadline.
func (r *DockerRunner) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopGracePeriod+3*time.Second)
	defer cancel()

	err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("Failed to remove sandbox container", "container_id", containerID, "error", err)
	}
}
