package sandbox

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
)

// hostProc tracks one supervised host process.
type hostProc struct {
	cmd      *exec.Cmd
	stdout   *os.File
	stderr   *os.File
	started  bool
	done     chan struct{}
	exitCode int
}

// HostDriver runs agent sandboxes as plain host processes. It is used for
// agent kinds that need direct access to the host network and toolchain,
// such as deployers. Host processes do not survive an orchestrator restart:
// after a restart all previously issued handles are unknown.
type HostDriver struct {
	mu     sync.Mutex
	procs  map[string]*hostProc
	logger *logger.Logger
}

// NewHostDriver creates a host process driver.
func NewHostDriver(log *logger.Logger) *HostDriver {
	return &HostDriver{
		procs:  make(map[string]*hostProc),
		logger: log,
	}
}

// EnsureImage is a no-op; host processes run whatever is on the PATH.
func (d *HostDriver) EnsureImage(ctx context.Context) error {
	return nil
}

// Create prepares a host process for the spec and returns its handle.
func (d *HostDriver) Create(ctx context.Context, spec Spec) (string, error) {
	if len(spec.Cmd) == 0 {
		return "", errors.SandboxError("host sandbox requires a command", nil)
	}

	cmd := exec.Command(spec.Cmd[0], spec.Cmd[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = append(os.Environ(), spec.Env...)

	proc := &hostProc{cmd: cmd, done: make(chan struct{})}
	handle := "host-" + strings.Split(uuid.New().String(), "-")[0]

	d.mu.Lock()
	d.procs[handle] = proc
	d.mu.Unlock()

	d.logger.Info("Host sandbox created",
		zap.String("handle", handle),
		zap.String("agent_id", spec.AgentID),
		zap.String("command", spec.Cmd[0]),
	)
	return handle, nil
}

// Start launches the process and begins supervising its exit.
func (d *HostDriver) Start(ctx context.Context, handle string) error {
	proc, err := d.get(handle)
	if err != nil {
		return err
	}

	// Explicit pipe pairs instead of StdoutPipe: the parent closes its
	// write ends after Start, so readers see EOF exactly when the child
	// exits, independent of when Wait runs.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return errors.SandboxError("failed to create stdout pipe", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return errors.SandboxError("failed to create stderr pipe", err)
	}
	proc.cmd.Stdout = stdoutW
	proc.cmd.Stderr = stderrW
	proc.stdout = stdoutR
	proc.stderr = stderrR

	if err := proc.cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		_ = stderrR.Close()
		_ = stderrW.Close()
		return errors.SandboxError("failed to start host process", err)
	}
	_ = stdoutW.Close()
	_ = stderrW.Close()
	proc.started = true

	go func() {
		err := proc.cmd.Wait()
		proc.exitCode = exitCodeFrom(err)
		close(proc.done)
		d.logger.Info("Host sandbox exited",
			zap.String("handle", handle),
			zap.Int("exit_code", proc.exitCode),
		)
	}()

	d.logger.Info("Host sandbox started",
		zap.String("handle", handle),
		zap.Int("pid", proc.cmd.Process.Pid),
	)
	return nil
}

// Logs returns the process output streams.
func (d *HostDriver) Logs(ctx context.Context, handle string) (*LogStreams, error) {
	proc, err := d.get(handle)
	if err != nil {
		return nil, err
	}
	if !proc.started {
		return nil, errors.InvalidState("host sandbox is not started")
	}
	return &LogStreams{Stdout: proc.stdout, Stderr: proc.stderr}, nil
}

// Wait blocks until the process exits and returns its exit code.
func (d *HostDriver) Wait(ctx context.Context, handle string) (int, error) {
	proc, err := d.get(handle)
	if err != nil {
		return -1, err
	}
	if !proc.started {
		return -1, errors.InvalidState("host sandbox is not started")
	}

	select {
	case <-proc.done:
		return proc.exitCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Kill force-terminates the process. Killing an already exited process is
// not an error.
func (d *HostDriver) Kill(ctx context.Context, handle string) error {
	proc, err := d.get(handle)
	if err != nil {
		return err
	}
	if !proc.started {
		return errors.InvalidState("host sandbox is not started")
	}

	select {
	case <-proc.done:
		return nil
	default:
	}

	if err := proc.cmd.Process.Kill(); err != nil {
		return errors.SandboxError("failed to kill host process", err)
	}
	d.logger.Info("Host sandbox killed", zap.String("handle", handle))
	return nil
}

// Inspect reports whether the process is still running. Handles issued
// before a restart are not found, which recovery treats as a dead host
// agent.
func (d *HostDriver) Inspect(ctx context.Context, handle string) (*Status, error) {
	proc, err := d.get(handle)
	if err != nil {
		return nil, err
	}
	if !proc.started {
		return &Status{Running: false}, nil
	}

	select {
	case <-proc.done:
		return &Status{Running: false, ExitCode: proc.exitCode}, nil
	default:
		return &Status{Running: true}, nil
	}
}

// Remove drops the process record and closes its streams.
func (d *HostDriver) Remove(ctx context.Context, handle string) error {
	d.mu.Lock()
	proc, ok := d.procs[handle]
	delete(d.procs, handle)
	d.mu.Unlock()

	if !ok {
		return nil
	}
	if proc.stdout != nil {
		_ = proc.stdout.Close()
	}
	if proc.stderr != nil {
		_ = proc.stderr.Close()
	}
	return nil
}

func (d *HostDriver) get(handle string) (*hostProc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	proc, ok := d.procs[handle]
	if !ok {
		return nil, errors.NotFound("sandbox", handle)
	}
	return proc, nil
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
