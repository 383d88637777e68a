package history

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// casualWords are whole-word slang markers. Matching is per word so "fr" does not fire on "from".
var casualWords = map[string]bool{
	"lol": true, "fr": true, "nah": true, "yeah": true, "yep": true, "nope": true,
	"idk": true, "tbh": true, "prolly": true, "gonna": true, "wanna": true,
}

// AnalyzeStyle returns surface-level style tags for a human message,
// e.g. ["no punctuation", "all lowercase", "short"].
func AnalyzeStyle(text string) []string {
	var tags []string

	if !strings.ContainsAny(text, ".!?") {
		tags = append(tags, "no punctuation")
	}

	switch letterCase(text) {
	case caseLower:
		tags = append(tags, "all lowercase")
	case caseUpper:
		tags = append(tags, "all caps")
	}

	switch n := utf8.RuneCountInString(text); {
	case n <= 5:
		tags = append(tags, "very short")
	case n <= 15:
		tags = append(tags, "short")
	}

	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if casualWords[w] {
			tags = append(tags, "casual slang")
			break
		}
	}

	return tags
}

type caseKind int

const (
	caseMixed caseKind = iota
	caseLower
	caseUpper
)

// letterCase reports whether every cased letter shares one case.
// Text without any cased letters counts as mixed.
func letterCase(text string) caseKind {
	var hasLower, hasUpper bool
	for _, r := range text {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		}
	}
	switch {
	case hasLower && !hasUpper:
		return caseLower
	case hasUpper && !hasLower:
		return caseUpper
	default:
		return caseMixed
	}
}
