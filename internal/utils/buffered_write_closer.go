package utils

import (
	"bufio"
	"io"
)

type bufferedWriteCloser struct {
	*bufio.Writer
	io.Closer
}

// NewBufferedWriteCloser combines a buffered writer and an io.Closer.
// Close flushes the buffer before closing the underlying writer. Used by
// qlog's DefaultTracer, which wants buffered writes to its one
// dispatcher-wide file but still needs to close that file when the tracer
// is closed.
func NewBufferedWriteCloser(writer *bufio.Writer, closer io.Closer) io.WriteCloser {
	return &bufferedWriteCloser{
		Writer: writer,
		Closer: closer,
	}
}

func (h bufferedWriteCloser) Close() error {
	if err := h.Writer.Flush(); err != nil {
		return err
	}
	return h.Closer.Close()
}
