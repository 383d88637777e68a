package reply

import (
	"regexp"
	"strings"
)

// ZeroWidthSpace defuses mentions and replaces redacted numbers.
const ZeroWidthSpace = "\u200b"

var (
	digitRun   = regexp.MustCompile(`[0-9]+`)
	numberWord = regexp.MustCompile(`(?i)\b(?:zero|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\b`)
)

// EscapeMentions inserts a zero-width space after every "@".
func EscapeMentions(s string) string {
	return strings.ReplaceAll(s, "@", "@"+ZeroWidthSpace)
}

// RedactAges replaces standalone integers 0-12 and the words zero..twelve
// with a zero-width space. Digits that are part of a longer number are kept.
func RedactAges(s string) string {
	s = digitRun.ReplaceAllStringFunc(s, func(run string) string {
		if isSmallInt(run) {
			return ZeroWidthSpace
		}
		return run
	})
	return numberWord.ReplaceAllString(s, ZeroWidthSpace)
}

// isSmallInt matches exactly "0".."9", "10", "11", "12".
func isSmallInt(run string) bool {
	switch len(run) {
	case 1:
		return true
	case 2:
		return run[0] == '1' && run[1] <= '2'
	}
	return false
}

// ApplyFilters runs the enabled filters in order: mentions, then ages.
func ApplyFilters(chunk string, opts Options) string {
	if opts.DisableMentions {
		chunk = EscapeMentions(chunk)
	}
	if opts.AgeFilter {
		chunk = RedactAges(chunk)
	}
	return chunk
}
