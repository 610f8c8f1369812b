package lifecycle

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/sandbox"
	"github.com/vibesuite/orchestrator/internal/store"
)

// fakeSandbox is one simulated agent process.
type fakeSandbox struct {
	spec     sandbox.Spec
	started  bool
	running  bool
	removed  bool
	exitCode int
	done     chan struct{}

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
}

// fakeDriver is an in-memory sandbox.Driver whose processes the test
// script drives by hand.
type fakeDriver struct {
	mu    sync.Mutex
	seq   int
	boxes map[string]*fakeSandbox

	ensureErr error
	createErr error
	startErr  error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{boxes: make(map[string]*fakeSandbox)}
}

func (d *fakeDriver) EnsureImage(ctx context.Context) error {
	return d.ensureErr
}

func (d *fakeDriver) Create(ctx context.Context, spec sandbox.Spec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return "", d.createErr
	}
	d.seq++
	handle := fmt.Sprintf("sbx-%d", d.seq)
	box := &fakeSandbox{spec: spec, done: make(chan struct{})}
	box.stdoutR, box.stdoutW = io.Pipe()
	box.stderrR, box.stderrW = io.Pipe()
	d.boxes[handle] = box
	return handle, nil
}

func (d *fakeDriver) Start(ctx context.Context, handle string) error {
	if d.startErr != nil {
		return d.startErr
	}
	box, err := d.get(handle)
	if err != nil {
		return err
	}
	d.mu.Lock()
	box.started = true
	box.running = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Logs(ctx context.Context, handle string) (*sandbox.LogStreams, error) {
	box, err := d.get(handle)
	if err != nil {
		return nil, err
	}
	return &sandbox.LogStreams{Stdout: box.stdoutR, Stderr: box.stderrR}, nil
}

func (d *fakeDriver) Wait(ctx context.Context, handle string) (int, error) {
	box, err := d.get(handle)
	if err != nil {
		return -1, err
	}
	select {
	case <-box.done:
		return box.exitCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (d *fakeDriver) Kill(ctx context.Context, handle string) error {
	if _, err := d.get(handle); err != nil {
		return err
	}
	d.exit(handle, 137)
	return nil
}

func (d *fakeDriver) Inspect(ctx context.Context, handle string) (*sandbox.Status, error) {
	box, err := d.get(handle)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return &sandbox.Status{Running: box.running, ExitCode: box.exitCode}, nil
}

func (d *fakeDriver) Remove(ctx context.Context, handle string) error {
	box, err := d.get(handle)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	box.removed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) get(handle string) (*fakeSandbox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	box, ok := d.boxes[handle]
	if !ok {
		return nil, errors.NotFound("sandbox", handle)
	}
	return box, nil
}

// emit writes one line to the sandbox's output stream.
func (d *fakeDriver) emit(handle string, stream store.LogStream, line string) {
	box, err := d.get(handle)
	if err != nil {
		return
	}
	w := box.stdoutW
	if stream == store.LogStreamErr {
		w = box.stderrW
	}
	_, _ = fmt.Fprintln(w, line)
}

// seed registers a pre-existing sandbox, as recovery sweeps encounter.
func (d *fakeDriver) seed(handle string, running bool, exitCode int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	box := &fakeSandbox{started: true, running: running, exitCode: exitCode, done: make(chan struct{})}
	box.stdoutR, box.stdoutW = io.Pipe()
	box.stderrR, box.stderrW = io.Pipe()
	if !running {
		close(box.done)
	}
	d.boxes[handle] = box
}

// exit terminates the sandbox with the given code and closes its streams.
func (d *fakeDriver) exit(handle string, code int) {
	box, err := d.get(handle)
	if err != nil {
		return
	}
	d.mu.Lock()
	if !box.running && !box.started {
		d.mu.Unlock()
		return
	}
	alreadyDone := false
	select {
	case <-box.done:
		alreadyDone = true
	default:
	}
	if !alreadyDone {
		box.running = false
		box.exitCode = code
		close(box.done)
	}
	d.mu.Unlock()
	if !alreadyDone {
		_ = box.stdoutW.Close()
		_ = box.stderrW.Close()
	}
}
