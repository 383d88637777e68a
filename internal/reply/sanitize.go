package reply

import (
	"log/slog"
	"regexp"
	"strings"
)

// Reasoning models (deepseek-r1, qwq) put their chain of thought inline.
// Go regexp has no backreferences, so each tag gets its own pattern.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

var (
	finalTagPattern          = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)
	leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
)

// Sanitize cleans provider output before it is split and sent: reasoning
// blocks and <final> wrappers are removed, repeated paragraphs collapse
// to one, and surrounding blank space is trimmed. A response that was
// nothing but reasoning sanitizes to "".
func Sanitize(text string) string {
	if text == "" {
		return text
	}
	original := text

	text = stripThinkingTags(text)
	text = finalTagPattern.ReplaceAllString(text, "")
	text = collapseDuplicateBlocks(text)
	text = leadingBlankLinesPattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text != strings.TrimSpace(original) {
		slog.Debug("reply: sanitized response", "original_len", len(original), "cleaned_len", len(text))
	}
	return text
}

func stripThinkingTags(text string) string {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return text
	}
	for _, pat := range thinkingTagPatterns {
		text = pat.ReplaceAllString(text, "")
	}
	return text
}

func collapseDuplicateBlocks(text string) string {
	blocks := strings.Split(text, "\n\n")
	if len(blocks) <= 1 {
		return text
	}
	out := make([]string, 0, len(blocks))
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(out) > 0 && trimmed == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, block)
	}
	return strings.Join(out, "\n\n")
}
