package lifecycle

import (
	"strings"
	"sync"
	"time"

	"github.com/vibesuite/orchestrator/internal/store"
)

// flushThreshold is the ring capacity; reaching it triggers an immediate
// flush.
const flushThreshold = 50

// flushInterval is the periodic flush tick covering all agents.
const flushInterval = time.Second

// LogBuffer is the in-memory ring of pending log lines for one agent.
// Lines are tagged with observation time on entry and drained in order.
type LogBuffer struct {
	agentID string

	mu    sync.Mutex
	lines []store.AgentLogLine
}

// NewLogBuffer creates a buffer for an agent.
func NewLogBuffer(agentID string) *LogBuffer {
	return &LogBuffer{
		agentID: agentID,
		lines:   make([]store.AgentLogLine, 0, flushThreshold),
	}
}

// Add appends a line to the ring, dropping empty lines. It reports whether
// the ring has reached the flush threshold.
func (b *LogBuffer) Add(stream store.LogStream, line string) bool {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, store.AgentLogLine{
		AgentID:   b.agentID,
		Timestamp: time.Now().UTC(),
		Stream:    stream,
		Line:      line,
	})
	return len(b.lines) >= flushThreshold
}

// Drain removes and returns all pending lines in append order.
func (b *LogBuffer) Drain() []store.AgentLogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return nil
	}
	out := b.lines
	b.lines = make([]store.AgentLogLine, 0, flushThreshold)
	return out
}

// Len returns the number of pending lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
