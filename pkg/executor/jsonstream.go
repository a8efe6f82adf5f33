package executor

import (
	"bytes"
	"encoding/json"
)

// Splitter extracts top-level JSON objects from a byte stream that
// concatenates them without separators. It buffers across chunk boundaries,
// honors escape sequences inside string literals, and discards non-JSON
// bytes interleaved between objects, so the emitted object sequence is
// independent of how the stream was chunked.
type Splitter struct {
	buf []byte
}

// Feed appends a chunk and returns every complete object now available.
// Returned slices are copies; the caller may retain them.
func (s *Splitter) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)

	var objects [][]byte
	for {
		start := bytes.IndexByte(s.buf, '{')
		if start < 0 {
			s.buf = s.buf[:0]
			return objects
		}
		if start > 0 {
			s.buf = s.buf[start:]
		}

		end, complete := scanObject(s.buf)
		if !complete {
			return objects
		}

		candidate := s.buf[:end]
		if json.Valid(candidate) {
			objects = append(objects, append([]byte(nil), candidate...))
			s.buf = s.buf[end:]
		} else {
			// Balanced braces but not JSON: drop the opening brace and
			// resynchronize on the next one.
			s.buf = s.buf[1:]
		}
	}
}

// scanObject walks buf (which starts at '{') tracking brace depth and string
// state. Returns the index just past the matching close brace, or false if
// the object is still incomplete.
func scanObject(buf []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i, b := range buf {
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
				return i + 1, true
			}
		}
	}
	return 0, false
}
