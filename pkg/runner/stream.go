package runner

import (
	"bytes"
	"io"
	"sync"
)

// OutputPrefix is prepended to every line a benchmark prints.
const OutputPrefix = "|  "

// maxPartial is the longest unterminated line held back before it is
// forwarded anyway.
const maxPartial = 4 << 10

// lineWriter forwards lines to out with a prefix and keeps the last
// tailSize bytes of raw output. Both '\n' and '\r' end a line; "\r\n" is
// one terminator.
type lineWriter struct {
	mu       sync.Mutex
	out      io.Writer
	prefix   string
	partial  []byte
	tail     []byte
	tailSize int
	// afterCR is set when the last write ended on '\r' with nothing pending.
	afterCR bool
}

func newLineWriter(out io.Writer, prefix string, tailSize int) *lineWriter {
	if out == nil {
		out = io.Discard
	}

	return &lineWriter{out: out, prefix: prefix, tailSize: tailSize}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.keepTail(p)

	data := p

	// "\r\n" split across two writes.
	if w.afterCR && len(data) > 0 && data[0] == '\n' {
		w.emit("\n")
		data = data[1:]
	}

	w.afterCR = false

	for len(data) > 0 {
		idx := bytes.IndexAny(data, "\r\n")
		if idx < 0 {
			w.afterCR = false
			w.partial = append(w.partial, data...)
			if len(w.partial) >= maxPartial {
				w.emit(w.prefix + string(w.partial) + "\n")
				w.partial = w.partial[:0]
			}

			break
		}

		end := idx + 1
		if data[idx] == '\r' && end < len(data) && data[end] == '\n' {
			end++
		}

		w.emit(w.prefix + string(w.partial) + string(data[:end]))
		w.partial = w.partial[:0]
		w.afterCR = data[end-1] == '\r'
		data = data[end:]
	}

	return len(p), nil
}

// emit ignores write errors: a broken terminal must not fail the benchmark.
func (w *lineWriter) emit(s string) {
	_, _ = io.WriteString(w.out, s)
}

// Flush writes a trailing unterminated line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) == 0 {
		return
	}

	w.emit(w.prefix + string(w.partial) + "\n")
	w.partial = w.partial[:0]
}

func (w *lineWriter) keepTail(p []byte) {
	if w.tailSize <= 0 {
		return
	}

	w.tail = append(w.tail, p...)
	if over := len(w.tail) - w.tailSize; over > 0 {
		w.tail = append(w.tail[:0], w.tail[over:]...)
	}
}

// Tail returns the retained end of the output.
func (w *lineWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return string(w.tail)
}
