package protocol

import (
	"fmt"
	"strings"
	"unicode"
)

// Fixed characters of the "[i/N]\n" chunk prefix, around the numbers.
const chunkPrefixFixed = len("[/]\n")

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeHTML escapes interpolated content for channels that accept
// inline HTML markup.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// SplitMessage splits text into chunks of at most max characters for
// size-limited channels. The cut prefers the last newline within the
// window, then the last whitespace past the halfway mark, then a hard
// cut. Multi-chunk output is prefixed "[i/N]\n"; a single chunk is
// returned verbatim.
func SplitMessage(text string, max int) []string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return []string{text}
	}

	// The prefix width depends on the chunk count, which depends on the
	// prefix width. Start at three digits per number and widen until
	// the count fits its own prefix.
	for digits := 3; ; digits++ {
		budget := max - (chunkPrefixFixed + 2*digits)
		if budget < 1 {
			budget = 1
		}
		chunks := splitBudget(runes, budget)
		if decimalWidth(len(chunks)) > digits {
			continue
		}

		n := len(chunks)
		for i, chunk := range chunks {
			chunks[i] = fmt.Sprintf("[%d/%d]\n%s", i+1, n, chunk)
		}
		return chunks
	}
}

func splitBudget(runes []rune, budget int) []string {
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= budget {
			chunks = append(chunks, string(runes))
			break
		}

		window := runes[:budget]
		cut, skip := splitPoint(window)
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut+skip:]
	}
	return chunks
}

func decimalWidth(n int) int {
	w := 1
	for n >= 10 {
		n /= 10
		w++
	}
	return w
}

// splitPoint returns the cut index within window and how many runes to
// skip (1 when the cut lands on a separator that should not be carried
// into either chunk).
func splitPoint(window []rune) (cut, skip int) {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			return i, 1
		}
	}

	half := len(window) / 2
	for i := len(window) - 1; i > half; i-- {
		if unicode.IsSpace(window[i]) {
			return i, 1
		}
	}

	return len(window), 0
}
