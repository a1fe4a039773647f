package content

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Decompress wraps c so that Consume transparently unwraps the named
// Content-Encoding ("gzip", "deflate", "br", or "identity") before handing
// bytes to the caller.
//
// The returned Content is single-shot in its own right, with its own
// consumed flag. It calls c's producer directly rather than through
// c.Consume, so c's own flag is left unset.
func Decompress(c *Content, encoding string) *Content {
	switch encoding {
	case "", "identity":
		return c
	}
	inner := c.produce
	return &Content{
		headers: c.headers,
		produce: func(ctx context.Context) (io.ReadCloser, error) {
			rc, err := inner(ctx)
			if err != nil {
				return nil, err
			}
			dec, err := newDecoder(encoding, rc)
			if err != nil {
				rc.Close()
				return nil, fmt.Errorf("pulse: decode %s: %w", encoding, err)
			}
			return dec, nil
		},
	}
}

type decodingReadCloser struct {
	io.Reader
	underlying io.Closer
	closer     io.Closer
}

func (d *decodingReadCloser) Close() error {
	var err error
	if d.closer != nil {
		err = d.closer.Close()
	}
	if cerr := d.underlying.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func newDecoder(encoding string, rc io.ReadCloser) (io.ReadCloser, error) {
	switch encoding {
	case "gzip":
		zr, err := gzip.NewReader(rc)
		if err != nil {
			return nil, err
		}
		return &decodingReadCloser{Reader: zr, underlying: rc, closer: zr}, nil
	case "deflate":
		fr := flate.NewReader(rc)
		return &decodingReadCloser{Reader: fr, underlying: rc, closer: fr}, nil
	case "br":
		br := brotli.NewReader(bufio.NewReader(rc))
		return &decodingReadCloser{Reader: br, underlying: rc}, nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}
