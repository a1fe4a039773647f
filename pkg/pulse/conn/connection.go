// Package conn implements the per-connection HTTP/1.1 request/response
// state machine: one transport, one request at a time, streaming bodies
// via a bounded channel, and the 101 upgrade handoff.
package conn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/pulse/pkg/pulse/codec"
	"github.com/yourusername/pulse/pkg/pulse/content"
	"github.com/yourusername/pulse/pkg/pulse/header"
	"github.com/yourusername/pulse/pkg/pulse/pulseerr"
	"github.com/yourusername/pulse/pkg/pulse/pulsehttp"
	"github.com/yourusername/pulse/pkg/pulse/transport"
)

// idCounter is the process-wide monotonic connection id counter, used
// for diagnostics only.
var idCounter atomic.Uint64

// NextID returns the next connection id.
func NextID() uint64 { return idCounter.Add(1) }

// readChunkSize bounds how many bytes the body pump reads from the socket
// per channel send — it is the "chunk" granularity of the body_queue,
// independent of HTTP chunked-encoding framing.
const readChunkSize = 32 * 1024

// Connection owns one transport and drives one request at a time. The
// zero value is not usable; build with New.
type Connection struct {
	ID        uint64
	tr        *transport.Transport
	br        *bufio.Reader
	bw        *bufio.Writer
	bodyQueueDepth int

	concurrentUses atomic.Int32
	upgraded       atomic.Bool
	destroyed      atomic.Bool

	mu           sync.Mutex
	requestCount uint64
}

// New wraps tr as a Connection. bodyQueueDepth bounds in-flight body
// chunks; 0 selects a default of 4.
func New(tr *transport.Transport, bodyQueueDepth int) *Connection {
	if bodyQueueDepth <= 0 {
		bodyQueueDepth = 4
	}
	return &Connection{
		ID:             NextID(),
		tr:             tr,
		br:             bufio.NewReaderSize(tr, readChunkSize),
		bw:             bufio.NewWriter(tr),
		bodyQueueDepth: bodyQueueDepth,
	}
}

// Closed resolves when the underlying transport is closed, locally or by
// the peer. The pool watches this rather than holding a pointer back
// into the pool's own bookkeeping from the transport.
func (c *Connection) Closed() <-chan struct{} { return c.tr.Closed() }

// Upgraded reports whether this connection has completed an HTTP Upgrade
// and is no longer usable for framed HTTP/1.1 exchanges.
func (c *Connection) Upgraded() bool { return c.upgraded.Load() }

// IsOpen reports whether the transport has not yet closed.
func (c *Connection) IsOpen() bool {
	select {
	case <-c.tr.Closed():
		return false
	default:
		return true
	}
}

// RequestCount returns how many requests have completed on this
// connection, for diagnostics and tests.
func (c *Connection) RequestCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestCount
}

// Close closes the underlying transport directly (used by the pool during
// shutdown and by Send on unrecoverable framing errors).
func (c *Connection) Close() error { return c.tr.Close() }

// Send drives req through the connection: writes the request, reads the
// response head, and arranges body delivery (or the raw upgrade handoff
// for a 101 response). It returns the Response together with a release
// signal that closes exactly once the connection becomes safe to
// reuse — the caller (normally the client facade) is responsible for
// returning the connection to the pool when the release channel closes.
//
// Precondition: no other Send is outstanding on c. Violating this is a
// programming fault and panics via pulseerr.Raise, never returned as an
// ordinary error.
func (c *Connection) Send(req *pulsehttp.Request) (resp *pulsehttp.Response, release <-chan struct{}, err error) {
	if !c.concurrentUses.CompareAndSwap(0, 1) {
		pulseerr.Raise("concurrent_uses", fmt.Sprintf("connection %d already has an outstanding request", c.ID))
	}

	releaseCh := make(chan struct{})
	var releaseOnce sync.Once
	raiseRelease := func() {
		releaseOnce.Do(func() {
			c.concurrentUses.Store(0)
			c.mu.Lock()
			c.requestCount++
			c.mu.Unlock()
			close(releaseCh)
		})
	}

	ctx := req.Context()

	merged := header.MergeRequestWins(req.Content.Headers(), req.Headers)

	if err := codec.WriteRequestHead(c.bw, req.Method, req.Path, req.Query, merged); err != nil {
		c.tr.Close()
		return nil, nil, pulseerr.NewWriteError(err)
	}

	if err := c.writeBody(ctx, req.Content); err != nil {
		c.tr.Close()
		return nil, nil, pulseerr.NewWriteError(err)
	}

	rh, err := codec.ReadResponseHead(c.br)
	if err != nil {
		c.tr.Close()
		return nil, nil, pulseerr.ErrConnectionClosed
	}

	closeAfter := header.ConnectionClose(req.Headers) || header.ConnectionClose(rh.Headers)

	if rh.Status == 101 {
		// The connection is no longer HTTP/1.1 framed; it is destroyed
		// when the upgrade stream ends rather than released to the pool.
		// The release channel here is never closed — the client facade
		// recognizes status 101 and relies on the pool's
		// transport-Closed() watcher for cleanup instead.
		resp = c.buildUpgradeResponse(rh)
		return resp, releaseCh, nil
	}

	resp = c.buildFramedResponse(rh, req.Method, raiseRelease, closeAfter)
	return resp, releaseCh, nil
}

func (c *Connection) writeBody(ctx context.Context, body *content.Content) error {
	r, err := body.Consume(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	if _, err := io.Copy(c.bw, r); err != nil {
		return err
	}
	return c.bw.Flush()
}

// chunk is one element of the body_queue: either a data slice, the empty
// terminal marker (data == nil, err == nil), or a terminal read error.
type chunk struct {
	data []byte
	err  error
}

// buildFramedResponse handles the non-101 case: the response Content
// drains the body queue until the empty terminator, and its finalizer
// (Close) keeps draining past whatever the caller read so the
// connection can be released even if the body was abandoned mid-read.
func (c *Connection) buildFramedResponse(rh *codec.ResponseHead, method string, raiseRelease func(), closeAfter bool) *pulsehttp.Response {
	bodyQueue := make(chan chunk, c.bodyQueueDepth)
	bodyR, readUntilClose := codec.BodyReader(c.br, rh, method)
	if readUntilClose {
		closeAfter = true
	}

	go c.pumpBody(bodyR, bodyQueue, raiseRelease, closeAfter)

	body := content.New(rh.Headers, func(context.Context) (io.ReadCloser, error) {
		return &queueReadCloser{ch: bodyQueue}, nil
	})

	return &pulsehttp.Response{
		Status:  rh.Status,
		Reason:  rh.Reason,
		Headers: rh.Headers,
		Content: body,
		Upgrade: func(io.Reader) (io.ReadCloser, error) {
			return nil, pulseerr.ErrUpgradeRefused
		},
	}
}

// buildUpgradeResponse handles the 101 case. The connection is marked
// upgraded immediately: it is no longer framed HTTP/1.1 from this point
// on, whether or not the caller ever invokes the returned Upgrade
// closure.
func (c *Connection) buildUpgradeResponse(rh *codec.ResponseHead) *pulsehttp.Response {
	c.upgraded.Store(true)

	var used atomic.Bool
	upgradeFn := func(upstream io.Reader) (io.ReadCloser, error) {
		if !used.CompareAndSwap(false, true) {
			return nil, pulseerr.ErrStreamAlreadyConsumed
		}

		// (b) pipe upstream bytes into the transport asynchronously.
		go io.Copy(c.tr, upstream)

		// (c) downstream byte sequence: any bytes already buffered by
		// c.br from reading the 101 head are returned first, since c.br
		// itself is the source.
		pr, pw := io.Pipe()
		go func() {
			_, err := io.Copy(pw, c.br)
			pw.CloseWithError(err)
		}()

		return &upgradeReadCloser{pr: pr, tr: c.tr}, nil
	}

	return &pulsehttp.Response{
		Status:  rh.Status,
		Reason:  rh.Reason,
		Headers: rh.Headers,
		Content: content.Empty(),
		Upgrade: upgradeFn,
	}
}

// upgradeReadCloser is the downstream half of an upgraded connection; its
// finalizer closes the transport, which is what destroys the connection.
// Upgraded connections are destroyed, not pooled, once their stream ends.
type upgradeReadCloser struct {
	pr   *io.PipeReader
	tr   *transport.Transport
	once sync.Once
}

func (u *upgradeReadCloser) Read(p []byte) (int, error) { return u.pr.Read(p) }

func (u *upgradeReadCloser) Close() error {
	u.once.Do(func() {
		u.pr.Close()
		u.tr.Close()
	})
	return nil
}

// pumpBody is the body delivery loop: each inbound chunk is read into a
// pooled scratch buffer, copied into its own slice (so the pooled buffer
// can be reused immediately), and sent into bodyQueue — the next Read
// only happens once that send completes, which is exactly the
// backpressure hook: the socket stalls until the consumer has room.
func (c *Connection) pumpBody(r io.Reader, out chan<- chunk, raiseRelease func(), closeAfter bool) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if cap(buf.B) < readChunkSize {
		buf.B = make([]byte, readChunkSize)
	} else {
		buf.B = buf.B[:readChunkSize]
	}

	for {
		n, err := r.Read(buf.B[:readChunkSize])
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf.B[:n])
			out <- chunk{data: cp}
		}
		if err != nil {
			if err == io.EOF {
				out <- chunk{}
			} else {
				out <- chunk{err: err}
				closeAfter = true
			}
			break
		}
	}

	close(out)
	raiseRelease()
	if closeAfter {
		c.tr.Close()
	}
}

// queueReadCloser adapts bodyQueue to io.ReadCloser, implementing a
// single-reader / drain-on-finalize contract.
type queueReadCloser struct {
	ch    chan chunk
	cur   []byte
	done  bool
	err   error
}

func (q *queueReadCloser) Read(p []byte) (int, error) {
	if q.done {
		if q.err != nil {
			return 0, q.err
		}
		return 0, io.EOF
	}
	for len(q.cur) == 0 {
		c, ok := <-q.ch
		if !ok {
			q.done = true
			return 0, io.EOF
		}
		if c.err != nil {
			q.done = true
			q.err = c.err
			return 0, c.err
		}
		if c.data == nil {
			q.done = true
			return 0, io.EOF
		}
		q.cur = c.data
	}
	n := copy(p, q.cur)
	q.cur = q.cur[n:]
	return n, nil
}

// Close drains any remaining chunks up to the terminal marker so the
// connection's pump goroutine is never left blocked trying to hand off a
// chunk nobody will read.
func (q *queueReadCloser) Close() error {
	if q.done {
		return nil
	}
	for c := range q.ch {
		if c.err != nil || c.data == nil {
			break
		}
	}
	q.done = true
	return nil
}
