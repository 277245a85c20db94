// internal/detect/prompt.go
package detect

import (
	"regexp"
	"unicode/utf8"
)

// promptBufferCap bounds the rolling window of server output kept for matching.
const promptBufferCap = 512

var promptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[sudo\] password for [^\s:]+:\s*$`),
	regexp.MustCompile(`(?i)password:\s*$`),
	regexp.MustCompile(`(?i)enter passphrase for (key )?'?[^']*'?:\s*$`),
	regexp.MustCompile(`(?i)\S+'s password:\s*$`),
}

// PromptDetector watches server output for interactive password prompts.
// It is not safe for concurrent use; the proxy feeds it from one goroutine.
type PromptDetector struct {
	enabled bool
	buf     []byte
}

// NewPromptDetector returns a detector. A disabled detector never matches and
// never buffers anything.
func NewPromptDetector(enabled bool) *PromptDetector {
	return &PromptDetector{enabled: enabled}
}

func (d *PromptDetector) Enabled() bool {
	return d.enabled
}

// Feed appends chunk to the window and reports whether the window now ends in
// a password prompt.
func (d *PromptDetector) Feed(chunk []byte) bool {
	if !d.enabled {
		return false
	}

	d.buf = appendValidUTF8(d.buf, chunk)
	if len(d.buf) > promptBufferCap {
		cut := len(d.buf) - promptBufferCap
		for cut < len(d.buf) && !utf8.RuneStart(d.buf[cut]) {
			cut++
		}
		d.buf = append(d.buf[:0], d.buf[cut:]...)
	}

	for _, re := range promptPatterns {
		if re.Match(d.buf) {
			return true
		}
	}
	return false
}

// Clear drops the buffered window. Call it after acting on a match.
func (d *PromptDetector) Clear() {
	d.buf = d.buf[:0]
}

// appendValidUTF8 copies chunk onto dst, skipping bytes that do not start a
// valid UTF-8 sequence.
func appendValidUTF8(dst, chunk []byte) []byte {
	for len(chunk) > 0 {
		r, size := utf8.DecodeRune(chunk)
		if r == utf8.RuneError && size <= 1 {
			chunk = chunk[1:]
			continue
		}
		dst = append(dst, chunk[:size]...)
		chunk = chunk[size:]
	}
	return dst
}
