package reflection

import "strings"

const (
	thinkingOpen  = "<thinking>"
	thinkingClose = "</thinking>"
)

func WrapThinking(raw string) string {
	return thinkingOpen + raw + thinkingClose
}

// ExtractThinking returns the trimmed text between the first <thinking> and
// the next </thinking>. When either tag is missing the input is returned
// unchanged.
func ExtractThinking(s string) string {
	start := strings.Index(s, thinkingOpen)
	if start < 0 {
		return s
	}
	rest := s[start+len(thinkingOpen):]

	end := strings.Index(rest, thinkingClose)
	if end < 0 {
		return s
	}
	return strings.TrimSpace(rest[:end])
}
