// Package sandbox defines the driver contract for running agent processes,
// with a Docker implementation for containerized agents and a host
// implementation for agents that must run directly on the server.
package sandbox

import (
	"context"
	"io"
	"time"
)

// Labels applied to every managed sandbox so orphans can be found after a
// restart.
const (
	LabelManaged = "orchestrator.managed"
	LabelAgentID = "orchestrator.agent_id"
	LabelTaskID  = "orchestrator.task_id"
)

// Mount binds a host path into the sandbox.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Spec describes a sandbox to launch for one agent run.
type Spec struct {
	Name       string
	AgentID    string
	TaskID     string
	Cmd        []string
	Env        []string
	WorkingDir string
	Mounts     []Mount
}

// Status is the driver's view of a sandbox.
type Status struct {
	Running    bool
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// LogStreams carries the live stdout and stderr of a sandbox. Both readers
// terminate when the sandbox exits.
type LogStreams struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Close closes both streams.
func (s *LogStreams) Close() error {
	if s.Stdout != nil {
		_ = s.Stdout.Close()
	}
	if s.Stderr != nil {
		_ = s.Stderr.Close()
	}
	return nil
}

// Driver starts and supervises agent sandboxes. Handles are opaque strings;
// only the driver that issued a handle can interpret it.
type Driver interface {
	// EnsureImage verifies the agent image is available before any spawn.
	EnsureImage(ctx context.Context) error

	// Create prepares a sandbox and returns its handle.
	Create(ctx context.Context, spec Spec) (string, error)

	// Start launches a created sandbox.
	Start(ctx context.Context, handle string) error

	// Logs returns the live output streams of a running sandbox.
	Logs(ctx context.Context, handle string) (*LogStreams, error)

	// Wait blocks until the sandbox exits and returns its exit code.
	Wait(ctx context.Context, handle string) (int, error)

	// Kill force-terminates a running sandbox.
	Kill(ctx context.Context, handle string) error

	// Inspect reports the current state of a sandbox.
	Inspect(ctx context.Context, handle string) (*Status, error)

	// Remove releases all resources held by a sandbox.
	Remove(ctx context.Context, handle string) error
}
