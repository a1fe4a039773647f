// Package content implements the lazy, single-shot byte sequence carried
// by both requests and responses.
package content

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/yourusername/pulse/pkg/pulse/header"
	"github.com/yourusername/pulse/pkg/pulse/pulseerr"
)

// Producer yields the byte stream for a Content the first (and only) time
// it is consumed.
type Producer func(ctx context.Context) (io.ReadCloser, error)

// Content is a lazy, finite, single-shot byte sequence plus a fixed header
// set (Content-Length, Transfer-Encoding, Content-Type, ...). Re-consuming
// fails with pulseerr.ErrStreamAlreadyConsumed.
type Content struct {
	headers  *header.Map
	produce  Producer
	consumed atomic.Bool
}

// New wraps produce with its content headers.
func New(headers *header.Map, produce Producer) *Content {
	if headers == nil {
		headers = header.New()
	}
	return &Content{headers: headers, produce: produce}
}

// FromBytes builds a Content that replays a fixed in-memory buffer exactly
// once.
func FromBytes(headers *header.Map, body []byte) *Content {
	return New(headers, func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(newByteReader(body)), nil
	})
}

// FromReader builds a Content around an existing reader. The caller is
// responsible for ensuring r is only handed to one Content.
func FromReader(headers *header.Map, r io.ReadCloser) *Content {
	return New(headers, func(context.Context) (io.ReadCloser, error) {
		return r, nil
	})
}

// Empty returns a distinguished zero-length Content value. Every call
// returns a fresh instance — Content is single-shot, and since requests
// as ordinary as a GET default to Empty() as their body, a shared
// singleton would only ever be consumable once for the whole process.
func Empty() *Content {
	return New(header.New(), func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(newByteReader(nil)), nil
	})
}

// Headers returns the content-attached header set.
func (c *Content) Headers() *header.Map { return c.headers }

// Consume returns the underlying reader exactly once. Every subsequent
// call fails with pulseerr.ErrStreamAlreadyConsumed.
func (c *Content) Consume(ctx context.Context) (io.ReadCloser, error) {
	if !c.consumed.CompareAndSwap(false, true) {
		return nil, pulseerr.ErrStreamAlreadyConsumed
	}
	return c.produce(ctx)
}

// Drain consumes and discards the entire content, tolerating a stream that
// was already consumed (a no-op in that case) — used by Client.Run to
// guarantee body drain regardless of whether user code touched the body.
func (c *Content) Drain(ctx context.Context) error {
	r, err := c.Consume(ctx)
	if err == pulseerr.ErrStreamAlreadyConsumed {
		return nil
	}
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(io.Discard, r)
	return err
}

type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
