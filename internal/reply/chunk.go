package reply

import (
	"strings"
	"unicode/utf8"
)

// Split breaks text into pieces of at most maxLen bytes. It prefers a
// newline, then a space, in the second half of the window, and never cuts
// inside a UTF-8 sequence. Blank pieces are dropped.
func Split(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = appendChunk(chunks, text)
			break
		}

		cutAt := maxLen
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		if idx := strings.LastIndexByte(text[:cutAt], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		} else if idx := strings.LastIndexByte(text[:cutAt], ' '); idx > maxLen/2 {
			cutAt = idx + 1
		}
		if cutAt == 0 {
			// maxLen smaller than one rune
			_, size := utf8.DecodeRuneInString(text)
			cutAt = size
		}

		chunks = appendChunk(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func appendChunk(chunks []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
