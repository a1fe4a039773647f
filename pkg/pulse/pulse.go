// Package pulse is the client facade: it binds one pool to one authority
// and exposes the caller-facing surface — Do, Get, Post, Upgrade,
// redirect-following, and the Run/RunAndStop helpers that guarantee
// body drain.
package pulse

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/pulse/pkg/pulse/content"
	"github.com/yourusername/pulse/pkg/pulse/header"
	"github.com/yourusername/pulse/pkg/pulse/pool"
	"github.com/yourusername/pulse/pkg/pulse/pulsecfg"
	"github.com/yourusername/pulse/pkg/pulse/pulseerr"
	"github.com/yourusername/pulse/pkg/pulse/pulsehttp"
)

// Client binds one Pool to one authority (host:port:scheme). Build with
// NewClient.
type Client struct {
	cfg        pulsecfg.Config
	pool       *pool.Pool
	hostHeader string
	log        *logrus.Logger
	closed     atomic.Bool
}

// NewClient builds a Client from cfg. It does not dial anything until
// the first request.
func NewClient(cfg pulsecfg.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logrus.New()
	if !cfg.Debug {
		log.SetLevel(logrus.WarnLevel)
	} else {
		log.SetLevel(logrus.DebugLevel)
	}

	return &Client{
		cfg:        cfg,
		pool:       pool.New(cfg.PoolConfig()),
		hostHeader: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		log:        log,
	}, nil
}

// Do acquires a connection, sends req, and arranges for the connection
// to be released back to the pool exactly once the response becomes
// safe to reuse. It never follows redirects — see Fetch for that.
func (cl *Client) Do(req *pulsehttp.Request) (*pulsehttp.Response, error) {
	if cl.closed.Load() {
		return nil, pulseerr.ErrClientAlreadyClosed
	}
	if !req.Headers.Has("Host") {
		return nil, pulseerr.ErrHostHeaderMissing
	}

	cl.log.WithFields(logrus.Fields{
		"method": req.Method, "path": req.Path,
	}).Debug("pulse: sending request")

	c, err := cl.pool.Acquire(req.Context())
	if err != nil {
		return nil, err
	}

	resp, release, err := c.Send(req)
	if err != nil {
		return nil, err
	}

	if resp.Status != 101 {
		go func() {
			<-release
			cl.pool.Release(c)
		}()
	}

	if cl.cfg.Decompress {
		if enc, ok := resp.Headers.Get("Content-Encoding"); ok && enc != "" {
			resp.Content = content.Decompress(resp.Content, enc)
		}
	}

	cl.log.WithFields(logrus.Fields{
		"status": resp.Status, "path": req.Path,
	}).Debug("pulse: received response")

	return resp, nil
}

// Get issues a GET request for path.
func (cl *Client) Get(path string) (*pulsehttp.Response, error) {
	return cl.Fetch(cl.newRequest("GET", path, content.Empty()), true)
}

// Post issues a POST request for path with body as the request content.
// A nil body sends Content.empty.
func (cl *Client) Post(path, contentType string, body io.Reader) (*pulsehttp.Response, error) {
	if body == nil {
		return cl.Fetch(cl.newRequest("POST", path, content.Empty()), true)
	}

	rc, ok := body.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(body)
	}
	hdr := header.New()
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	c := content.FromReader(hdr, rc)
	return cl.Fetch(cl.newRequest("POST", path, c), true)
}

func (cl *Client) newRequest(method, path string, c *content.Content) *pulsehttp.Request {
	req := pulsehttp.NewRequest(method, path)
	req.Content = c
	req.Headers.Set("Host", cl.hostHeader)
	return req
}

// Upgrade issues req with the headers required for an HTTP/1.1 protocol
// upgrade pre-set, and fails fast with pulseerr.ErrUpgradeRefused if the
// server does not reply 101.
func (cl *Client) Upgrade(req *pulsehttp.Request, protocol string) (*pulsehttp.Response, error) {
	if !req.Headers.Has("Host") {
		req.Headers.Set("Host", cl.hostHeader)
	}
	req.Headers.Set("Connection", "Upgrade")
	req.Headers.Set("Upgrade", protocol)

	resp, err := cl.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.Status != 101 {
		resp.Content.Drain(req.Context())
		return nil, pulseerr.ErrUpgradeRefused
	}
	return resp, nil
}

// Stop closes every connection, fails queued waiters, and blocks until
// the pool is fully drained. Idempotent.
func (cl *Client) Stop() error {
	cl.closed.Store(true)
	return cl.pool.Stop()
}

// Stats exposes pool occupancy for diagnostics and tests.
func (cl *Client) Stats() pool.Stats {
	return cl.pool.Stats()
}
