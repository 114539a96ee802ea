package llm

import (
	"bufio"
	"bytes"
	"io"
)

// SSEScanner reads server-sent-event framing from a response body and yields
// the payload of each "data:" line. Event names, comments, and blank
// keep-alive lines are skipped. It does not interpret payloads; sentinel
// values such as OpenAI's "[DONE]" are the caller's concern.
type SSEScanner struct {
	s *bufio.Scanner
}

// NewSSEScanner wraps r in an SSE line reader. Lines may be up to 1 MiB,
// which is far beyond any single delta a completion stream produces.
func NewSSEScanner(r io.Reader) *SSEScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	return &SSEScanner{s: s}
}

var dataPrefix = []byte("data:")

// Next returns the payload of the next data line, or false when the stream
// is exhausted or the underlying reader fails. The returned slice is only
// valid until the next call.
func (sc *SSEScanner) Next() ([]byte, bool) {
	for sc.s.Scan() {
		line := sc.s.Bytes()
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		return bytes.TrimSpace(line[len(dataPrefix):]), true
	}
	return nil, false
}

// Err returns the first non-EOF error encountered while reading.
func (sc *SSEScanner) Err() error { return sc.s.Err() }
