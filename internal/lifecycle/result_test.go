package lifecycle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vibesuite/orchestrator/internal/store"
)

func logLines(lines ...string) []store.AgentLogLine {
	out := make([]store.AgentLogLine, len(lines))
	for i, l := range lines {
		out[i] = store.AgentLogLine{Line: l}
	}
	return out
}

func TestExtractResultReturnsResultField(t *testing.T) {
	lines := logLines(
		"starting up",
		`{"type":"result","subtype":"success","result":"opened PR #7","prUrl":"https://github.com/acme/webapp/pull/7"}`,
		"bye",
	)
	assert.Equal(t, "opened PR #7", ExtractResult(lines))
}

func TestExtractResultMultiline(t *testing.T) {
	lines := logLines(
		`{"type": "result",`,
		`  "result": "implemented feature",`,
		`  "details": {"files": 3}`,
		`}`,
	)
	assert.Equal(t, "implemented feature", ExtractResult(lines))
}

func TestExtractResultIgnoresOtherObjects(t *testing.T) {
	lines := logLines(
		`{"type":"progress","pct":50}`,
		`{"level":"info","msg":"working"}`,
		`{"type":"result","result":"ok"}`,
	)
	assert.Equal(t, "ok", ExtractResult(lines))
}

func TestExtractResultBracesInsideStrings(t *testing.T) {
	lines := logLines(
		`{"type":"result","result":"used {braces} and \"quotes\" inside"}`,
	)
	assert.Equal(t, `used {braces} and "quotes" inside`, ExtractResult(lines))
}

func TestExtractResultMissingField(t *testing.T) {
	// A result object without a "result" field yields nothing to post.
	assert.Equal(t, "", ExtractResult(logLines(`{"type":"result","summary":"ok"}`)))
}

func TestExtractResultNone(t *testing.T) {
	assert.Equal(t, "", ExtractResult(logLines("plain output", "no json here")))
	assert.Equal(t, "", ExtractResult(nil))
}

func TestExtractResultUnbalanced(t *testing.T) {
	assert.Equal(t, "", ExtractResult(logLines(`{"type":"result","result":"never closes"`)))
}

func TestTruncateComment(t *testing.T) {
	short := "short result"
	assert.Equal(t, short, TruncateComment(short))

	long := strings.Repeat("x", maxCommentChars+1)
	got := TruncateComment(long)
	assert.Len(t, got, truncatedToChars+len(truncationMarker))
	assert.True(t, strings.HasSuffix(got, truncationMarker))
}
