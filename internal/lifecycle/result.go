package lifecycle

import (
	"encoding/json"
	"strings"

	"github.com/vibesuite/orchestrator/internal/store"
)

// maxResultBytes caps how large an extracted result object may be.
const maxResultBytes = 1 << 20 // 1 MiB

// Truncation bounds for result text forwarded as a task comment.
const (
	maxCommentChars  = 10000
	truncatedToChars = 9900
	truncationMarker = "\n\n... (truncated)"
)

// ExtractResult scans collected log lines for the agent's final structured
// result: the first top-level JSON object of the form {"type":"result",...}.
// Extraction is by balanced-brace scanning so the object may span lines.
// The returned text is the object's "result" field, the summary agents emit
// for humans; "" when no result block is found.
func ExtractResult(lines []store.AgentLogLine) string {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line.Line)
		sb.WriteByte('\n')
	}
	return extractResultText(sb.String())
}

func extractResultText(text string) string {
	marker := `"type"`
	from := 0
	for {
		idx := strings.Index(text[from:], marker)
		if idx < 0 {
			return ""
		}
		idx += from

		// Walk back to the opening brace of the enclosing object.
		start := strings.LastIndexByte(text[:idx], '{')
		if start < 0 {
			from = idx + len(marker)
			continue
		}

		candidate := scanBalanced(text[start:])
		if candidate != "" {
			if result, ok := decodeResult(candidate); ok {
				return result
			}
		}
		from = idx + len(marker)
	}
}

// scanBalanced returns the balanced JSON object starting at s[0] == '{',
// honoring string literals and escapes. Returns "" when the object never
// closes or exceeds the size cap.
func scanBalanced(s string) string {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		if i > maxResultBytes {
			return ""
		}
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// decodeResult reports whether candidate is a result object and, when it
// is, returns its "result" field.
func decodeResult(candidate string) (string, bool) {
	var obj struct {
		Type   string `json:"type"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return "", false
	}
	if obj.Type != "result" {
		return "", false
	}
	return obj.Result, true
}

// TruncateComment bounds result text posted as an upstream comment.
func TruncateComment(text string) string {
	if len(text) <= maxCommentChars {
		return text
	}
	return text[:truncatedToChars] + truncationMarker
}
