package pulse

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/pulse/pkg/pulse/pool"
	"github.com/yourusername/pulse/pkg/pulse/pulsecfg"
	"github.com/yourusername/pulse/pkg/pulse/pulseerr"
	"github.com/yourusername/pulse/pkg/pulse/pulsehttp"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return srv, port
}

func newTestClient(t *testing.T, port int, opts ...pulsecfg.Option) *Client {
	t.Helper()
	cfg, err := pulsecfg.New("127.0.0.1", port, false, opts...)
	if err != nil {
		t.Fatalf("pulsecfg.New: %v", err)
	}
	cl, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { cl.Stop() })
	return cl
}

func TestSingleGETReusesConnection(t *testing.T) {
	_, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	})
	cl := newTestClient(t, port, pulsecfg.WithMaxConnections(1))

	resp, err := cl.Get("/a")
	if err != nil {
		t.Fatalf("Get /a: %v", err)
	}
	body, err := readAllAndClose(resp)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if body != "hello" {
		t.Fatalf("body = %q, want hello", body)
	}

	waitForStats(t, cl, func(s pool.Stats) bool { return s.Live == 1 && s.Idle == 1 })

	resp2, err := cl.Get("/b")
	if err != nil {
		t.Fatalf("Get /b: %v", err)
	}
	if _, err := readAllAndClose(resp2); err != nil {
		t.Fatalf("read body: %v", err)
	}

	st := cl.Stats()
	if st.Live != 1 {
		t.Fatalf("Live = %d, want 1 (connection should have been reused)", st.Live)
	}
}

func TestWaiterQueueAndTooManyWaiters(t *testing.T) {
	release := make(chan struct{})
	_, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, "slow")
	})
	cl := newTestClient(t, port, pulsecfg.WithMaxConnections(1), pulsecfg.WithMaxWaiters(1))

	var wg sync.WaitGroup
	results := make(chan error, 3)

	fire := func() {
		defer wg.Done()
		_, err := cl.Get("/slow")
		results <- err
	}

	wg.Add(1)
	go fire()
	time.Sleep(50 * time.Millisecond) // let the first request dispatch and hold the connection

	wg.Add(1)
	go fire()
	time.Sleep(50 * time.Millisecond) // let the second request enqueue as the one allowed waiter

	wg.Add(1)
	go fire()
	time.Sleep(50 * time.Millisecond)

	close(release)
	wg.Wait()
	close(results)

	var tooMany int
	var succeeded int
	for err := range results {
		switch err {
		case nil:
			succeeded++
		case pulseerr.ErrTooManyWaiters:
			tooMany++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if tooMany != 1 {
		t.Fatalf("tooMany = %d, want 1", tooMany)
	}
	if succeeded != 2 {
		t.Fatalf("succeeded = %d, want 2", succeeded)
	}
}

func TestRedirectGETFollowsLocation(t *testing.T) {
	_, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			w.Header().Set("Location", "/b")
			w.WriteHeader(http.StatusFound)
		case "/b":
			fmt.Fprint(w, "final")
		}
	})
	cl := newTestClient(t, port)

	resp, err := cl.Get("/a")
	if err != nil {
		t.Fatalf("Get /a: %v", err)
	}
	body, err := readAllAndClose(resp)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if body != "final" {
		t.Fatalf("body = %q, want final", body)
	}
}

func TestRedirectNonGETFailsAutoRedirectNotSupported(t *testing.T) {
	_, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/b")
		w.WriteHeader(http.StatusFound)
	})
	cl := newTestClient(t, port)

	_, err := cl.Post("/a", "text/plain", nil)
	if err != pulseerr.ErrAutoRedirectNotSupported {
		t.Fatalf("err = %v, want ErrAutoRedirectNotSupported", err)
	}
}

func TestStopFailsQueuedWaiters(t *testing.T) {
	release := make(chan struct{})
	_, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, "ok")
	})
	cl, err := NewClientForTest(t, port, pulsecfg.WithMaxConnections(1), pulsecfg.WithMaxWaiters(4))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := cl.Get("/held")
		results <- err
	}()
	time.Sleep(50 * time.Millisecond)

	waiterErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := cl.Get("/waiting")
		waiterErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	if err := cl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-waiterErr:
		if err != pulseerr.ErrClientAlreadyClosed {
			t.Fatalf("waiter err = %v, want ErrClientAlreadyClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued waiter never failed")
	}

	close(release)
	wg.Wait()

	if st := cl.Stats(); st.Live != 0 {
		t.Fatalf("Live = %d, want 0 after Stop", st.Live)
	}
}

// NewClientForTest builds a Client without registering it for automatic
// Stop in t.Cleanup, since TestStopFailsQueuedWaiters calls Stop itself.
func NewClientForTest(t *testing.T, port int, opts ...pulsecfg.Option) (*Client, error) {
	t.Helper()
	cfg, err := pulsecfg.New("127.0.0.1", port, false, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg)
}

func waitForStats(t *testing.T, cl *Client, ok func(pool.Stats) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok(cl.Stats()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stats never reached expected state")
}

func readAllAndClose(resp *pulsehttp.Response) (string, error) {
	r, err := resp.Content.Consume(context.Background())
	if err != nil {
		return "", err
	}
	defer r.Close()
	var buf [4096]byte
	total := ""
	for {
		n, err := r.Read(buf[:])
		total += string(buf[:n])
		if err != nil {
			break
		}
	}
	return total, nil
}
