package gemini

import (
	"bufio"
	"io"
)

// objectScanner extracts consecutive top-level JSON objects from a byte
// stream. Gemini streams its response as a JSON array of chunk objects, but
// the array brackets and separating commas arrive interleaved with the
// chunks, so the scanner ignores everything outside brace-balanced objects
// and yields each object as soon as its closing brace arrives.
type objectScanner struct {
	r   *bufio.Reader
	err error
}

func newObjectScanner(r io.Reader) *objectScanner {
	return &objectScanner{r: bufio.NewReader(r)}
}

// Next returns the next complete JSON object, or false when the stream is
// exhausted or the underlying reader fails.
func (s *objectScanner) Next() ([]byte, bool) {
	if s.err != nil {
		return nil, false
	}

	var (
		buf      []byte
		depth    int
		inString bool
		escaped  bool
	)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if err != io.EOF {
				s.err = err
			}
			return nil, false
		}

		if depth == 0 {
			// Between objects: wait for the next opening brace, skipping
			// array brackets, commas, and whitespace.
			if b != '{' {
				continue
			}
			depth = 1
			buf = append(buf, b)
			continue
		}

		buf = append(buf, b)
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return buf, true
			}
		}
	}
}

// Err returns the first non-EOF error encountered while reading.
func (s *objectScanner) Err() error { return s.err }
