// Package pulsehttp holds the Request/Response value objects shared by
// conn, pool, and the client facade. Kept as its own package (rather
// than living in conn or the top-level client package) so none of the
// collaborators need to import the client facade just to talk about a
// request.
package pulsehttp

import (
	"context"
	"io"

	"github.com/yourusername/pulse/pkg/pulse/content"
	"github.com/yourusername/pulse/pkg/pulse/header"
)

// Request is one outbound HTTP/1.1 request.
type Request struct {
	Method  string
	Path    string
	Query   string
	Headers *header.Map
	Content *content.Content

	// ctx carries the deadline/cancellation honored while the client
	// acquires a connection (pool wait and dial); Send does not apply it
	// while waiting for the response head.
	ctx context.Context
}

// NewRequest builds a Request with empty headers and content.Empty().
func NewRequest(method, path string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Headers: header.New(),
		Content: content.Empty(),
	}
}

// WithContext attaches ctx to the request, returning the same Request for
// chaining.
func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// Context returns the request's context, defaulting to Background.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// UpgradeFunc pipes upstream bytes into the connection and returns a
// stream of downstream bytes read off the same connection, meaningful
// only when Response.Status == 101. Calling it on any other status fails
// with pulseerr.ErrUpgradeRefused.
type UpgradeFunc func(upstream io.Reader) (io.ReadCloser, error)

// Response is one inbound HTTP/1.1 response.
type Response struct {
	Status  int
	Reason  string
	Headers *header.Map
	Content *content.Content

	// Upgrade is armed only when Status == 101; otherwise calling it
	// always fails.
	Upgrade UpgradeFunc
}
