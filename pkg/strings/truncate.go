package strings

import (
	"strings"
)

// DefaultDescriptionMaxLen is the default maximum length for descriptions in
// log lines and formatted output.
const DefaultDescriptionMaxLen = 60

// MinTruncateLen is the smallest usable maxLen. Anything shorter has no room
// for content plus "...".
const MinTruncateLen = 4

// TruncateDescription collapses a string onto a single line and truncates it
// to maxLen characters, appending "..." when it was cut. Slicing operates on
// runes so multi-byte characters are never split. A maxLen below
// MinTruncateLen is clamped.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	// Fields handles newlines, tabs and repeated spaces in one pass.
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
