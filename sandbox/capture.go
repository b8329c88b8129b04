package sandbox

import (
	"strings"
	"unicode/utf8"
)

// cappedBuffer keeps at most limit bytes of a stream and remembers whether more arrived.
// Writes past the limit are dropped so the reader keeps draining the pipe.
type cappedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - len(b.buf)
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) Len() int { return len(b.buf) }

func (b *cappedBuffer) Truncated() bool { return b.truncated }

// String decodes the captured bytes as UTF-8, replacing invalid sequences.
// The result never exceeds limit bytes: a rune cut by the limit is dropped and
// replacement characters that grow the text past it are cut at a rune boundary.
func (b *cappedBuffer) String() string {
	p := b.buf
	if b.truncated {
		p = trimPartialRune(p)
	}
	return clampRunes(decodeLossy(p), b.limit)
}

// clampRunes cuts valid UTF-8 s to at most limit bytes without splitting a rune
func clampRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := max(limit, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// trimPartialRune strips an incomplete UTF-8 sequence from the tail of p
func trimPartialRune(p []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		c := p[len(p)-i]
		if c < utf8.RuneSelf {
			return p
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(p[len(p)-i:]) {
				return p[:len(p)-i]
			}
			return p
		}
	}
	return p
}

func decodeLossy(p []byte) string {
	return strings.ToValidUTF8(string(p), "�")
}
