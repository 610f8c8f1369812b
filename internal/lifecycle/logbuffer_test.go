package lifecycle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vibesuite/orchestrator/internal/store"
)

func TestLogBufferDropsEmptyLines(t *testing.T) {
	b := NewLogBuffer("agent-1")

	assert.False(t, b.Add(store.LogStreamOut, "hello"))
	assert.False(t, b.Add(store.LogStreamOut, ""))
	assert.False(t, b.Add(store.LogStreamOut, "   "))
	assert.False(t, b.Add(store.LogStreamErr, "world\r"))

	lines := b.Drain()
	assert.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0].Line)
	assert.Equal(t, "world", lines[1].Line)
	assert.Equal(t, store.LogStreamErr, lines[1].Stream)
}

func TestLogBufferThreshold(t *testing.T) {
	b := NewLogBuffer("agent-1")

	for i := 0; i < flushThreshold-1; i++ {
		assert.False(t, b.Add(store.LogStreamOut, fmt.Sprintf("line %d", i)))
	}
	// The 50th line trips the flush signal.
	assert.True(t, b.Add(store.LogStreamOut, "line 49"))
	assert.Equal(t, flushThreshold, b.Len())
}

func TestLogBufferDrainPreservesOrder(t *testing.T) {
	b := NewLogBuffer("agent-1")
	for i := 0; i < 10; i++ {
		b.Add(store.LogStreamOut, fmt.Sprintf("line %d", i))
	}

	lines := b.Drain()
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("line %d", i), line.Line)
		if i > 0 {
			assert.False(t, line.Timestamp.Before(lines[i-1].Timestamp))
		}
	}
	assert.Nil(t, b.Drain())
	assert.Equal(t, 0, b.Len())
}
