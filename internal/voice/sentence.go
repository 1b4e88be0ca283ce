package voice

import "strings"

// sentencer accumulates streamed model tokens and emits text one sentence
// at a time, so synthesis can begin before the model finishes.
type sentencer struct {
	pending strings.Builder
}

// Push appends a token. When the buffer now contains at least one full
// sentence, the completed text is returned and the remainder kept.
func (s *sentencer) Push(token string) string {
	s.pending.WriteString(token)
	text := s.pending.String()
	cut := lastBoundary(text)
	if cut < 0 {
		return ""
	}
	s.pending.Reset()
	s.pending.WriteString(text[cut:])
	return strings.TrimSpace(text[:cut])
}

// Flush returns whatever partial sentence remains.
func (s *sentencer) Flush() string {
	text := strings.TrimSpace(s.pending.String())
	s.pending.Reset()
	return text
}

// lastBoundary returns the index just past the final sentence boundary in
// text, or -1 when none exists. A boundary is '.', '!' or '?' followed by
// whitespace; trailing enders without whitespace stay pending because the
// model may still be mid-number or mid-abbreviation.
func lastBoundary(text string) int {
	for i := len(text) - 1; i > 0; i-- {
		switch text[i] {
		case ' ', '\n', '\t':
			switch text[i-1] {
			case '.', '!', '?':
				return i
			}
		}
	}
	return -1
}
