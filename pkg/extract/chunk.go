package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitText cuts text into chunks of at most size bytes. Consecutive chunks
// share about overlap bytes so a mention on a boundary is seen whole by at
// least one chunk. Cuts prefer whitespace and never split a rune.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		if cut := strings.LastIndexFunc(text[start:end], unicode.IsSpace); cut > size/2 {
			end = start + cut
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				end = start + size
				for end < len(text) && !utf8.RuneStart(text[end]) {
					end++
				}
			}
		}
		chunks = append(chunks, text[start:end])

		next := end - overlap
		for next < end && !utf8.RuneStart(text[next]) {
			next++
		}
		if overlap > 0 {
			// start the overlap on a word boundary
			if sp := strings.IndexFunc(text[next:end], unicode.IsSpace); sp >= 0 {
				next += sp
			}
		}
		for next < len(text) && isSpaceByte(text[next]) {
			next++
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
