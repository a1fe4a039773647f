package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrChunkTooLarge bounds a single chunk's declared size, preventing a
// malicious or broken peer from asking us to allocate unbounded memory.
var ErrChunkTooLarge = errors.New("codec: chunk size exceeds limit")

// chunkedReader implements RFC 7230 §4.1 chunked transfer decoding: reads
// chunks incrementally without buffering the whole body, ignores chunk
// extensions (RFC: prevents request/response smuggling via extension
// confusion), and returns io.EOF once the zero-length last-chunk has been
// consumed.
type chunkedReader struct {
	r             *bufio.Reader
	remaining     int64
	err           error
	sawLastChunk  bool
	maxChunkSize  int64
}

// newChunkedReader wraps r. maxChunkSize bounds an individual chunk's
// declared size; 0 selects a 16MiB default.
func newChunkedReader(r *bufio.Reader, maxChunkSize int64) *chunkedReader {
	if maxChunkSize <= 0 {
		maxChunkSize = 16 << 20
	}
	return &chunkedReader{r: r, maxChunkSize: maxChunkSize}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.remaining == 0 {
		if c.sawLastChunk {
			c.err = io.EOF
			return 0, io.EOF
		}
		size, err := c.readChunkSize()
		if err != nil {
			c.err = err
			return 0, err
		}
		if size == 0 {
			c.sawLastChunk = true
			if err := c.readTrailers(); err != nil {
				c.err = err
				return 0, err
			}
			c.err = io.EOF
			return 0, io.EOF
		}
		c.remaining = size
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if err != nil {
		c.err = err
		return n, err
	}
	if c.remaining == 0 {
		// consume the trailing CRLF after chunk-data
		if err := c.expectCRLF(); err != nil {
			c.err = err
			return n, err
		}
	}
	return n, nil
}

func (c *chunkedReader) readChunkSize() (int64, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = string(bytes.TrimRight([]byte(line), "\r\n"))
	if idx := bytes.IndexByte([]byte(line), ';'); idx >= 0 {
		line = line[:idx] // discard chunk-ext
	}
	if line == "" {
		return 0, fmt.Errorf("codec: empty chunk size line")
	}
	var size int64
	for _, b := range []byte(line) {
		var v int64
		switch {
		case b >= '0' && b <= '9':
			v = int64(b - '0')
		case b >= 'a' && b <= 'f':
			v = int64(b-'a') + 10
		case b >= 'A' && b <= 'F':
			v = int64(b-'A') + 10
		default:
			return 0, fmt.Errorf("codec: invalid chunk size digit %q", b)
		}
		size = size*16 + v
		if size > c.maxChunkSize {
			return 0, ErrChunkTooLarge
		}
	}
	return size, nil
}

func (c *chunkedReader) expectCRLF() error {
	b1, err := c.r.ReadByte()
	if err != nil {
		return err
	}
	b2, err := c.r.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("codec: missing CRLF after chunk data")
	}
	return nil
}

// readTrailers consumes (and discards) trailer header lines up to the
// final blank line. Pulse does not expose trailers to callers.
func (c *chunkedReader) readTrailers() error {
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return err
		}
		if string(bytes.TrimRight([]byte(line), "\r\n")) == "" {
			return nil
		}
	}
}
