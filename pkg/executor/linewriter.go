package executor

import "bytes"

// lineWriter is an io.Writer that invokes fn once per complete output line.
// Assigning it to cmd.Stdout (instead of reading a pipe) lets cmd.Wait own
// the draining, so process supervision never races the reader.
type lineWriter struct {
	fn  func(line string)
	buf bytes.Buffer
}

func newLineWriter(fn func(line string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it buffered for the next write.
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.fn(trimEOL(line))
	}
}

// Flush emits any trailing line not terminated by a newline. Call after the
// process has exited.
func (w *lineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.fn(trimEOL(w.buf.String()))
		w.buf.Reset()
	}
}

func trimEOL(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// chunkWriter forwards raw chunks to fn; used to feed the JSON stream
// splitter directly from cmd.Stdout.
type chunkWriter struct {
	fn func(chunk []byte)
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.fn(p)
	return len(p), nil
}
