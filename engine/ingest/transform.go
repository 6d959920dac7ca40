package ingest

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkWords is the target passage length in words.
	DefaultChunkWords = 200
	// DefaultOverlapWords is how many trailing words of a passage are
	// repeated at the start of the next one.
	DefaultOverlapWords = 30
)

// splitSentences breaks text at sentence punctuation followed by space and
// at line breaks, collapsing inner whitespace.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, strings.Join(strings.Fields(s), " "))
		}
		start = end
	}
	for i, r := range runes {
		switch {
		case r == '\n':
			flush(i + 1)
		case r == '.' || r == '!' || r == '?':
			if i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
				flush(i + 1)
			}
		}
	}
	flush(len(runes))
	return out
}

// chunkSentences packs whole sentences into passages of about size words,
// carrying roughly overlap words of context into the next passage. A single
// sentence longer than size becomes its own passage.
func chunkSentences(sentences []string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkWords
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk
	for start := 0; start < len(sentences); {
		end, words := start, 0
		for end < len(sentences) {
			n := wordCount(sentences[end])
			if words > 0 && words+n > size {
				break
			}
			words += n
			end++
		}
		chunks = append(chunks, Chunk{Text: strings.Join(sentences[start:end], " "), Index: len(chunks)})
		if end == len(sentences) {
			break
		}

		next, carried := end, 0
		for next > start+1 && carried < overlap {
			next--
			carried += wordCount(sentences[next])
		}
		start = next
	}
	return chunks
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
