package codec

import (
	"bufio"
	"io"
)

// BodyReader returns an io.Reader over a response body identified by rh,
// for a request sent with the given method. It selects among three
// framings: no body at all (204/304/HEAD — reader returns io.EOF
// immediately), chunked, or fixed Content-Length; an absent
// Content-Length with no chunking reads until the peer closes the
// connection (and the connection must not be pooled afterward — the
// caller is expected to treat that case as Connection: close).
func BodyReader(r *bufio.Reader, rh *ResponseHead, requestMethod string) (body io.Reader, readUntilClose bool) {
	if !rh.HasBody(requestMethod) {
		return io.LimitReader(r, 0), false
	}
	if rh.Chunked {
		return newChunkedReader(r, 0), false
	}
	if rh.ContentLength >= 0 {
		return io.LimitReader(r, rh.ContentLength), false
	}
	return r, true
}
