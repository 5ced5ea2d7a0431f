package normalize

import "strings"

// Segment returns a normalized path segment (a user or message id) suitable
// for building document paths. Surrounding whitespace is trimmed. An empty
// string is returned when the segment would be empty or would split the path.
func Segment(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		return ""
	}
	return s
}
