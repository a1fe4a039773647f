// Package transport implements the byte transport collaborator: a duplex
// byte channel with demand-driven reads (auto-read is off — nothing
// reads ahead of what the codec asks for), a close operation, and a
// completion signal for when the channel goes away (locally or from the
// peer).
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"
)

// Options configures a Dialer's transport factory.
type Options struct {
	TCPNoDelay bool
	SendBuf    int // 0 = system default
	RecvBuf    int // 0 = system default
	DialTimeout time.Duration
}

// DefaultOptions returns reasonable defaults for a new Dialer.
func DefaultOptions() Options {
	return Options{TCPNoDelay: true, DialTimeout: 30 * time.Second}
}

// TLSProvider attaches a TLS session to a dialed connection when the
// authority's scheme is "https". A nil provider means plaintext only.
type TLSProvider interface {
	// Handshake wraps conn in a TLS session for host and returns the
	// result, fully handshaken.
	Handshake(ctx context.Context, conn net.Conn, host string) (net.Conn, error)
}

// TLSProviderFunc adapts a function to TLSProvider.
type TLSProviderFunc func(ctx context.Context, conn net.Conn, host string) (net.Conn, error)

func (f TLSProviderFunc) Handshake(ctx context.Context, conn net.Conn, host string) (net.Conn, error) {
	return f(ctx, conn, host)
}

// NewTLSProvider builds a TLSProvider from a *tls.Config (nil uses Go's
// system defaults).
func NewTLSProvider(cfg *tls.Config) TLSProvider {
	return TLSProviderFunc(func(ctx context.Context, conn net.Conn, host string) (net.Conn, error) {
		c := cfg
		if c == nil {
			c = &tls.Config{}
		}
		if c.ServerName == "" {
			c = c.Clone()
			if h, _, err := net.SplitHostPort(host); err == nil {
				c.ServerName = h
			} else {
				c.ServerName = host
			}
		}
		tc := tls.Client(conn, c)
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		return tc, nil
	})
}

// Dialer opens transports to one authority. Unlike net.Dialer it speaks in
// Transport, not net.Conn, so codecs never see the raw socket directly.
type Dialer struct {
	opts Options
	tls  TLSProvider
}

// NewDialer builds a Dialer. tlsProvider may be nil for plaintext-only use.
func NewDialer(opts Options, tlsProvider TLSProvider) *Dialer {
	return &Dialer{opts: opts, tls: tlsProvider}
}

// Dial opens a new Transport to host:port, optionally TLS-wrapped.
func (d *Dialer) Dial(ctx context.Context, hostPort string, useTLS bool) (*Transport, error) {
	nd := &net.Dialer{Timeout: d.opts.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(d.opts.TCPNoDelay)
		if d.opts.SendBuf > 0 {
			tc.SetWriteBuffer(d.opts.SendBuf)
		}
		if d.opts.RecvBuf > 0 {
			tc.SetReadBuffer(d.opts.RecvBuf)
		}
	}
	if useTLS {
		if d.tls == nil {
			d.tls = NewTLSProvider(nil)
		}
		tlsConn, err := d.tls.Handshake(ctx, conn, hostPort)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}
	return newTransport(conn), nil
}

// Transport is the duplex byte channel collaborator. Reads are
// demand-driven: nothing is read from the network until the codec asks
// for it, which is how backpressure propagates down to the socket.
type Transport struct {
	conn   net.Conn
	once   sync.Once
	closed chan struct{}
	closeErrMu sync.Mutex
	closeErr   error
}

func newTransport(conn net.Conn) *Transport {
	return &Transport{conn: conn, closed: make(chan struct{})}
}

// New wraps an already-established net.Conn as a Transport, bypassing
// Dialer entirely. Used by tests that drive a Connection over net.Pipe,
// and by callers that already own a handshaken connection.
func New(conn net.Conn) *Transport { return newTransport(conn) }

// Write sends bytes synchronously on the underlying connection.
func (t *Transport) Write(b []byte) (int, error) {
	n, err := t.conn.Write(b)
	if err != nil {
		t.Close()
	}
	return n, err
}

// Read asks the transport for up to len(p) bytes, satisfying io.Reader so
// codec can layer a *bufio.Reader directly over it. It blocks until at
// least one byte is available, the peer closes the connection, or the
// deadline (if any) expires. Auto-read is off, so nothing is read from
// the network except in response to a call here.
func (t *Transport) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil {
		t.Close()
	}
	return n, err
}

// SetDeadline forwards to the underlying net.Conn. No pulse package calls
// it; Send does not apply context.Context deadlines to the transport.
func (t *Transport) SetDeadline(d time.Time) error { return t.conn.SetDeadline(d) }

// Close closes the transport exactly once and resolves Closed().
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		err = t.conn.Close()
		t.closeErrMu.Lock()
		t.closeErr = err
		t.closeErrMu.Unlock()
		close(t.closed)
	})
	return err
}

// Closed resolves when the transport is closed, locally or by the peer
// (the peer case is only observed the next time a read or write fails;
// Transport itself does not poll).
func (t *Transport) Closed() <-chan struct{} { return t.closed }

// Conn exposes the raw net.Conn underneath the Transport. The upgrade
// handoff does not use it: it writes through the Transport and reads
// through the connection's buffered reader.
func (t *Transport) Conn() net.Conn { return t.conn }
