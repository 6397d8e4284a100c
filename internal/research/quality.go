package research

import (
	"strings"
	"unicode/utf8"
)

const minCompleteLength = 100

var failureMarkers = []string{"stopped due to", "research failed"}

// IsComplete reports whether a report is good enough to cache or persist.
// Length is counted in characters, not bytes.
// Both the cache-hit check and the persist check go through here.
func IsComplete(output string) bool {
	if utf8.RuneCountInString(output) <= minCompleteLength {
		return false
	}
	lower := strings.ToLower(output)
	for _, marker := range failureMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
