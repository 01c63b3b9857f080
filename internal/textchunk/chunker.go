// Package textchunk splits long article text into TTS-safe segments at
// sentence and word boundaries.
package textchunk

import (
	"strings"
	"unicode"
)

// MaxChunkSize is the largest segment, in runes, sent to speech synthesis
// in one call.
const MaxChunkSize = 4000

// Split breaks text into ordered segments of at most MaxChunkSize runes.
// Cuts prefer the last sentence terminator in the window when it sits at or
// past the halfway mark, then the last whitespace, then a hard cut. Segments
// are trimmed; concatenating them reproduces the original word sequence.
func Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= MaxChunkSize {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= MaxChunkSize {
			if seg := strings.TrimSpace(string(runes)); seg != "" {
				chunks = append(chunks, seg)
			}
			break
		}

		window := runes[:MaxChunkSize]

		cut := lastSentenceEnd(window)
		if cut < MaxChunkSize/2 {
			cut = lastWhitespace(window)
		}
		if cut <= 0 {
			// Unsplittable run: hard cut at the window boundary so a single
			// oversized "word" cannot stall the loop.
			cut = MaxChunkSize
		}

		if seg := strings.TrimSpace(string(runes[:cut])); seg != "" {
			chunks = append(chunks, seg)
		}
		runes = runes[cut:]
	}

	return chunks
}

// lastSentenceEnd returns the cut position just after the last ". ", "? " or
// "! " in the window, or -1 when none exists.
func lastSentenceEnd(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i+1] != ' ' {
			continue
		}
		switch window[i] {
		case '.', '?', '!':
			return i + 2
		}
	}
	return -1
}

// lastWhitespace returns the cut position just after the last whitespace
// rune in the window, or -1 when the window has none.
func lastWhitespace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}
	return -1
}
