package sandbox

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/common/config"
	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
)

// DockerDriver runs agent sandboxes as Docker containers.
type DockerDriver struct {
	cli    *client.Client
	cfg    config.DockerConfig
	logger *logger.Logger
}

// NewDockerDriver creates a driver connected to the configured daemon.
func NewDockerDriver(cfg config.DockerConfig, log *logger.Logger) (*DockerDriver, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.SandboxError("failed to create docker client", err)
	}

	log.Info("Docker driver created",
		zap.String("host", cfg.Host),
		zap.String("image", cfg.Image),
	)

	return &DockerDriver{cli: cli, cfg: cfg, logger: log}, nil
}

// Close closes the underlying Docker client.
func (d *DockerDriver) Close() error {
	return d.cli.Close()
}

// Ping checks that the Docker daemon is reachable.
func (d *DockerDriver) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return errors.SandboxError("docker daemon unreachable", err)
	}
	return nil
}

// EnsureImage verifies the agent image exists locally, pulling it if absent.
func (d *DockerDriver) EnsureImage(ctx context.Context) error {
	filterArgs := filters.NewArgs(filters.Arg("reference", d.cfg.Image))
	images, err := d.cli.ImageList(ctx, image.ListOptions{Filters: filterArgs})
	if err != nil {
		return errors.SandboxError("failed to list images", err)
	}
	if len(images) > 0 {
		return nil
	}

	d.logger.Info("Pulling agent image", zap.String("image", d.cfg.Image))
	reader, err := d.cli.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return errors.SandboxError("agent image is not available", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	// Drain the pull output so the image is fully materialized.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return errors.SandboxError("error reading image pull output", err)
	}

	d.logger.Info("Agent image pulled", zap.String("image", d.cfg.Image))
	return nil
}

// Create creates a container for the spec and returns the container id.
func (d *DockerDriver) Create(ctx context.Context, spec Spec) (string, error) {
	d.logger.Info("Creating sandbox container",
		zap.String("name", spec.Name),
		zap.String("agent_id", spec.AgentID),
	)

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	containerCfg := &container.Config{
		Image:      d.cfg.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelAgentID: spec.AgentID,
			LabelTaskID:  spec.TaskID,
		},
	}

	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(d.cfg.NetworkMode),
		Resources: container.Resources{
			Memory:   d.cfg.MemoryBytes,
			CPUQuota: d.cfg.CPUQuota,
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", errors.SandboxError("failed to create container", err)
	}

	d.logger.Info("Sandbox container created",
		zap.String("container_id", resp.ID),
		zap.String("name", spec.Name),
	)
	return resp.ID, nil
}

// Start starts the container.
func (d *DockerDriver) Start(ctx context.Context, handle string) error {
	if err := d.cli.ContainerStart(ctx, handle, container.StartOptions{}); err != nil {
		return errors.SandboxError("failed to start container", err)
	}
	d.logger.Info("Sandbox container started", zap.String("container_id", handle))
	return nil
}

// Logs follows the container output, demultiplexing Docker's framed stream
// into separate stdout and stderr readers.
func (d *DockerDriver) Logs(ctx context.Context, handle string) (*LogStreams, error) {
	reader, err := d.cli.ContainerLogs(ctx, handle, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, errors.SandboxError("failed to attach container logs", err)
	}

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	go func() {
		defer func() {
			_ = reader.Close()
			_ = stdoutWriter.Close()
			_ = stderrWriter.Close()
		}()
		d.demultiplexStream(reader, stdoutWriter, stderrWriter)
	}()

	return &LogStreams{Stdout: stdoutReader, Stderr: stderrReader}, nil
}

// demultiplexStream reads Docker's multiplexed stream format and splits
// frames by type. Format when Tty=false:
// - Byte 0: stream type (0=stdin, 1=stdout, 2=stderr)
// - Bytes 1-3: reserved
// - Bytes 4-7: frame size (big endian uint32)
// - Bytes 8+: frame data
func (d *DockerDriver) demultiplexStream(reader io.Reader, stdout, stderr io.Writer) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			if err != io.EOF {
				d.logger.Debug("demultiplex stream ended", zap.Error(err))
			}
			return
		}

		streamType := header[0]
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(reader, data); err != nil {
			d.logger.Debug("failed to read frame data", zap.Error(err))
			return
		}

		switch streamType {
		case 1:
			_, _ = stdout.Write(data)
		case 2:
			_, _ = stderr.Write(data)
		}
	}
}

// Wait blocks until the container stops and returns its exit code.
func (d *DockerDriver) Wait(ctx context.Context, handle string) (int, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, handle, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		if err != nil {
			return -1, errors.SandboxError("error waiting for container", err)
		}
		return -1, nil
	case status := <-statusCh:
		d.logger.Info("Sandbox container exited",
			zap.String("container_id", handle),
			zap.Int64("exit_code", status.StatusCode),
		)
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Kill force-terminates the container.
func (d *DockerDriver) Kill(ctx context.Context, handle string) error {
	if err := d.cli.ContainerKill(ctx, handle, "SIGKILL"); err != nil {
		if client.IsErrNotFound(err) {
			return errors.NotFound("sandbox", handle)
		}
		return errors.SandboxError("failed to kill container", err)
	}
	d.logger.Info("Sandbox container killed", zap.String("container_id", handle))
	return nil
}

// Inspect reports the container state.
func (d *DockerDriver) Inspect(ctx context.Context, handle string) (*Status, error) {
	inspect, err := d.cli.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, errors.NotFound("sandbox", handle)
		}
		return nil, errors.SandboxError("failed to inspect container", err)
	}

	status := &Status{
		Running:  inspect.State.Running,
		ExitCode: inspect.State.ExitCode,
	}
	if inspect.State.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
			status.StartedAt = t
		}
	}
	if inspect.State.FinishedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt); err == nil {
			status.FinishedAt = t
		}
	}
	return status, nil
}

// Remove removes the container and its volumes.
func (d *DockerDriver) Remove(ctx context.Context, handle string) error {
	err := d.cli.ContainerRemove(ctx, handle, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return errors.SandboxError("failed to remove container", err)
	}
	d.logger.Info("Sandbox container removed", zap.String("container_id", handle))
	return nil
}
