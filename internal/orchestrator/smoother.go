package orchestrator

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// smoother re-chunks model output so each write carries whole words.
type smoother struct {
	buf  strings.Builder
	emit func(string)
}

func newSmoother(emit func(string)) *smoother {
	return &smoother{emit: emit}
}

func (s *smoother) write(text string) {
	if text == "" {
		return
	}
	s.buf.WriteString(text)
	pending := s.buf.String()
	for {
		n := nextWord(pending)
		if n == 0 {
			break
		}
		s.emit(pending[:n])
		pending = pending[n:]
	}
	s.buf.Reset()
	s.buf.WriteString(pending)
}

func (s *smoother) flush() {
	if s.buf.Len() == 0 {
		return
	}
	s.emit(s.buf.String())
	s.buf.Reset()
}

// nextWord returns the length of the leading "word plus trailing space" in s,
// or 0 when s does not yet hold a complete word.
func nextWord(s string) int {
	i := 0
	sawWord := false
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			if sawWord {
				break
			}
		} else {
			sawWord = true
		}
		i += size
	}
	if !sawWord || i == len(s) {
		return 0
	}
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}
