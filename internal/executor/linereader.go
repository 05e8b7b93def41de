package executor

import (
	"bytes"
	"errors"
	"io"
	"os"
)

const readChunkSize = 64 * 1024

// lineReader splits a stream on '\n' without an upper bound on line length,
// unlike bufio.Scanner which fails on tokens larger than its buffer.
type lineReader struct {
	buf   []byte
	chunk []byte
	r     io.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{
		buf:   make([]byte, 0, readChunkSize),
		chunk: make([]byte, readChunkSize),
		r:     r,
	}
}

// readLine returns the next line without its trailing "\n" or "\r\n".
// At EOF a final unterminated line is returned together with io.EOF;
// ok is false when there is no line to deliver.
func (lr *lineReader) readLine() (line string, ok bool, err error) {
	for {
		if idx := bytes.IndexByte(lr.buf, '\n'); idx >= 0 {
			raw := bytes.TrimSuffix(lr.buf[:idx], []byte{'\r'})
			line = string(raw)
			lr.buf = lr.buf[idx+1:]
			return line, true, nil
		}

		n, readErr := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.buf = append(lr.buf, lr.chunk[:n]...)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, os.ErrClosed) {
				if len(lr.buf) == 0 {
					return "", false, io.EOF
				}
				line = string(bytes.TrimSuffix(lr.buf, []byte{'\r'}))
				lr.buf = lr.buf[:0]
				return line, true, io.EOF
			}
			return "", false, readErr
		}
	}
}
