package runner

import (
	"regexp"
	"strings"
	"sync"
)

// ansiPattern matches CSI/OSC escape sequences and bare control
// introducers emitted by interactive agent UIs.
var ansiPattern = regexp.MustCompile(`\x1b(\[[0-9;?]*[ -/]*[@-~]|\][^\x07\x1b]*(\x07|\x1b\\)|[@-Z\\-_])`)

// StripANSI removes terminal escape sequences from captured output.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Transcript is a rolling byte ring over an actor's terminal output.
// Only the newest max bytes are retained; the ring is never written to
// the ledger.
type Transcript struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewTranscript returns a ring retaining up to max bytes.
func NewTranscript(max int) *Transcript {
	if max <= 0 {
		max = 256 * 1024
	}
	return &Transcript{max: max}
}

// Write appends output, dropping the oldest bytes past capacity.
func (tr *Transcript) Write(p []byte) (int, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.buf = append(tr.buf, p...)
	if len(tr.buf) > tr.max {
		tr.buf = append(tr.buf[:0:0], tr.buf[len(tr.buf)-tr.max:]...)
	}
	return len(p), nil
}

// Tail returns up to n trailing lines, optionally ANSI-stripped. n <= 0
// returns all retained lines.
func (tr *Transcript) Tail(n int, strip bool) []string {
	tr.mu.Lock()
	text := string(tr.buf)
	tr.mu.Unlock()

	if strip {
		text = StripANSI(text)
	}
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Len returns the retained byte count.
func (tr *Transcript) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.buf)
}
