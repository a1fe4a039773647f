// Package pool implements a bounded connection pool: a FIFO set of idle
// connections, a FIFO set of waiters bounded by MaxWaiters, and the
// acquire/release/destroy/stop lifecycle.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yourusername/pulse/pkg/pulse/conn"
	"github.com/yourusername/pulse/pkg/pulse/metrics"
	"github.com/yourusername/pulse/pkg/pulse/pulseerr"
	"github.com/yourusername/pulse/pkg/pulse/transport"
)

// HealthChecker probes idle connections: when Acquire takes one from the
// available set, and periodically while it sits there. A connection that
// Release hands directly to a queued waiter is not probed. A nil
// HealthChecker disables probing entirely.
type HealthChecker interface {
	// Check returns an error if c should be destroyed instead of reused.
	Check(ctx context.Context, c *conn.Connection) error
}

// Config configures one Pool. HostPort and UseTLS identify the single
// authority this pool dials; a Pool is always scoped to one authority.
type Config struct {
	HostPort string
	UseTLS   bool

	MaxConnections int
	MaxWaiters     int
	BodyQueueDepth int

	// IOThreads bounds how many dials (TCP connect + TLS handshake) may
	// run concurrently; 0 leaves it unbounded by MaxConnections alone.
	// Useful when MaxConnections is large but a stampede of simultaneous
	// handshakes against one authority is undesirable.
	IOThreads int

	DialerOptions transport.Options
	TLSProvider   transport.TLSProvider

	// MaxIdleTime evicts an available connection that has sat unused this
	// long; 0 disables idle eviction. IdleCheckInterval controls how often
	// the sweep runs; 0 selects a default of MaxIdleTime/4 (min 1s).
	MaxIdleTime       time.Duration
	IdleCheckInterval time.Duration

	HealthChecker HealthChecker

	Metrics *metrics.Collector
}

type waiterResult struct {
	conn *conn.Connection
	err  error
}

// monotonicNow is time.Now, aliased so idle-eviction bookkeeping reads as
// intentional rather than an accidental wall-clock dependency.
var monotonicNow = time.Now

type idleEntry struct {
	c        *conn.Connection
	sinceIdle time.Time
}

// Pool is a bounded, per-authority set of pooled connections. The zero
// value is not usable; build with New.
type Pool struct {
	cfg    Config
	dialer *transport.Dialer

	mu        sync.Mutex
	closed    bool
	available []idleEntry
	waiters   []chan waiterResult
	connected map[*conn.Connection]struct{}
	liveCount int
	pendingDial int

	waiterSem *semaphore.Weighted
	dialSem   *semaphore.Weighted

	connWG sync.WaitGroup // per-connection Closed()-watchers
	bgWG   sync.WaitGroup // idle sweep / health check loops
	stopCh chan struct{}
	stopOnce sync.Once
}

// New builds a Pool. It does not dial anything until Acquire is called.
func New(cfg Config) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1
	}
	if cfg.IdleCheckInterval <= 0 {
		if cfg.MaxIdleTime > 0 {
			cfg.IdleCheckInterval = cfg.MaxIdleTime / 4
		}
		if cfg.IdleCheckInterval < time.Second {
			cfg.IdleCheckInterval = time.Second
		}
	}

	p := &Pool{
		cfg:       cfg,
		dialer:    transport.NewDialer(cfg.DialerOptions, cfg.TLSProvider),
		connected: make(map[*conn.Connection]struct{}),
		waiterSem: semaphore.NewWeighted(int64(maxOrUnbounded(cfg.MaxWaiters))),
		dialSem:   semaphore.NewWeighted(int64(maxOrUnbounded(cfg.IOThreads))),
		stopCh:    make(chan struct{}),
	}

	if cfg.MaxIdleTime > 0 {
		p.bgWG.Add(1)
		go p.idleSweepLoop()
	}
	if cfg.HealthChecker != nil {
		p.bgWG.Add(1)
		go p.healthCheckLoop()
	}

	return p
}

func maxOrUnbounded(n int) int {
	if n <= 0 {
		// an effectively unbounded waiter count; semaphore.Weighted still
		// needs a finite capacity to construct.
		return 1 << 30
	}
	return n
}

// Acquire returns an idle connection or dials a new one, blocking as a
// FIFO waiter when the pool is already at MaxConnections. ctx governs
// both the wait and any dial.
func (p *Pool) Acquire(ctx context.Context) (*conn.Connection, error) {
	for {
		c, dial, err := p.tryAcquireOrEnqueue(ctx)
		if err != nil {
			return nil, err
		}
		if dial {
			c, err = p.dialAndRegister(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		if c != nil {
			if err := p.checkHealth(ctx, c); err != nil {
				// Closing triggers the Closed()-watcher, which performs
				// the actual bookkeeping removal exactly once; calling
				// Destroy directly here would race it.
				c.Close()
				continue
			}
			return c, nil
		}
		// enqueued as a waiter; wait below outside the lock.
		return p.waitForHandoff(ctx)
	}
}

// tryAcquireOrEnqueue pops an available connection, decides to dial, or
// enqueues a waiter channel — all under one lock acquisition. It returns
// at most one of (c, dial==true); when neither, the waiter has been
// enqueued and the caller must call waitForHandoff.
func (p *Pool) tryAcquireOrEnqueue(ctx context.Context) (c *conn.Connection, dial bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, pulseerr.ErrClientAlreadyClosed
	}

	for len(p.available) > 0 {
		entry := p.available[0]
		p.available = p.available[1:]
		if !entry.c.IsOpen() {
			continue
		}
		p.mu.Unlock()
		return entry.c, false, nil
	}

	if p.liveCount+p.pendingDial < p.cfg.MaxConnections {
		p.pendingDial++
		p.mu.Unlock()
		return nil, true, nil
	}

	if !p.waiterSem.TryAcquire(1) {
		p.mu.Unlock()
		return nil, false, pulseerr.ErrTooManyWaiters
	}
	ch := make(chan waiterResult, 1)
	p.waiters = append(p.waiters, ch)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetWaiters(len(p.waiters))
	}
	p.mu.Unlock()

	return nil, false, nil
}

// waitForHandoff blocks on the most recently enqueued waiter channel
// until it is served, the pool stops, or ctx is done. On cancellation it
// removes itself from the waiter queue so the slot is not phantom-held.
func (p *Pool) waitForHandoff(ctx context.Context) (*conn.Connection, error) {
	p.mu.Lock()
	if len(p.waiters) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("pulse: pool: waitForHandoff called with no pending waiter")
	}
	ch := p.waiters[len(p.waiters)-1]
	p.mu.Unlock()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		p.removeWaiter(ch)
		p.waiterSem.Release(1)
		return nil, ctx.Err()
	}
}

func (p *Pool) removeWaiter(ch chan waiterResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetWaiters(len(p.waiters))
	}
}

func (p *Pool) checkHealth(ctx context.Context, c *conn.Connection) error {
	if p.cfg.HealthChecker == nil {
		return nil
	}
	return p.cfg.HealthChecker.Check(ctx, c)
}

// dialAndRegister dials a new connection and registers it with the pool.
// On dial failure it releases the pendingDial slot and returns the error
// to this caller only; queued waiters are not woken.
// Dials are additionally bounded by IOThreads so a burst of simultaneous
// handshakes against one authority cannot be larger than configured.
func (p *Pool) dialAndRegister(ctx context.Context) (*conn.Connection, error) {
	if err := p.dialSem.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		p.pendingDial--
		p.mu.Unlock()
		return nil, err
	}
	defer p.dialSem.Release(1)

	tr, err := p.dialer.Dial(ctx, p.cfg.HostPort, p.cfg.UseTLS)
	p.mu.Lock()
	p.pendingDial--
	p.mu.Unlock()
	if err != nil {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.DialFailed()
		}
		return nil, fmt.Errorf("pulse: dial %s: %w", p.cfg.HostPort, err)
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.DialSucceeded()
	}

	c := conn.New(tr, p.cfg.BodyQueueDepth)

	p.mu.Lock()
	p.connected[c] = struct{}{}
	p.liveCount++
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetLive(p.liveCount)
	}
	p.mu.Unlock()

	p.connWG.Add(1)
	go func() {
		defer p.connWG.Done()
		<-c.Closed()
		p.Destroy(c)
	}()

	return c, nil
}

// Release returns c to the pool once its outstanding request has fully
// drained off the wire. It hands c directly to the oldest waiter when
// one is queued, skipping the available set entirely, otherwise appends
// it to available.
func (p *Pool) Release(c *conn.Connection) {
	if c.Upgraded() {
		// Never released: destroyed when its stream ends instead.
		return
	}
	if !c.IsOpen() {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.SetWaiters(len(p.waiters))
		}
		p.mu.Unlock()
		p.waiterSem.Release(1)
		ch <- waiterResult{conn: c}
		return
	}
	p.available = append(p.available, idleEntry{c: c, sinceIdle: monotonicNow()})
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetIdle(len(p.available))
	}
	p.mu.Unlock()
}

// Destroy removes c from the pool permanently. Called exactly once per
// connection, by the Closed()-watcher goroutine spawned in
// dialAndRegister, which fires exactly once because Transport.Close is
// idempotent. A connection reported destroyed without having been
// registered is a programming fault.
func (p *Pool) Destroy(c *conn.Connection) {
	c.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.connected[c]; !ok {
		pulseerr.Raise("pool.destroy", fmt.Sprintf("connection %d not registered", c.ID))
	}
	delete(p.connected, c)
	p.liveCount--
	for i, e := range p.available {
		if e.c == c {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetLive(p.liveCount)
		p.cfg.Metrics.SetIdle(len(p.available))
	}
}

// Stop closes every tracked connection, fails every queued waiter with
// ClientAlreadyClosed, and blocks until the live connection count reaches
// zero. It is idempotent.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	conns := make([]*conn.Connection, 0, len(p.connected))
	for c := range p.connected {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- waiterResult{err: pulseerr.ErrClientAlreadyClosed}
	}
	for _, c := range conns {
		c.Close()
	}

	p.connWG.Wait()

	p.mu.Lock()
	live := p.liveCount
	p.mu.Unlock()
	if live != 0 {
		pulseerr.Raise("pool.stop", fmt.Sprintf("live_count %d did not reach zero", live))
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.bgWG.Wait()
	return nil
}

// Stats is a point-in-time snapshot for diagnostics and tests.
type Stats struct {
	Live    int
	Idle    int
	Waiters int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Live: p.liveCount, Idle: len(p.available), Waiters: len(p.waiters)}
}

func (p *Pool) idleSweepLoop() {
	defer p.bgWG.Done()
	t := time.NewTicker(p.cfg.IdleCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	cutoff := monotonicNow().Add(-p.cfg.MaxIdleTime)
	p.mu.Lock()
	var keep []idleEntry
	var stale []*conn.Connection
	for _, e := range p.available {
		if e.sinceIdle.Before(cutoff) {
			stale = append(stale, e.c)
		} else {
			keep = append(keep, e)
		}
	}
	p.available = keep
	p.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
}

func (p *Pool) healthCheckLoop() {
	defer p.bgWG.Done()
	interval := p.cfg.IdleCheckInterval
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.healthCheckAvailable()
		}
	}
}

func (p *Pool) healthCheckAvailable() {
	p.mu.Lock()
	entries := make([]idleEntry, len(p.available))
	copy(entries, p.available)
	p.mu.Unlock()

	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.cfg.HealthChecker.Check(ctx, e.c)
		cancel()
		if err != nil {
			p.mu.Lock()
			for i, a := range p.available {
				if a.c == e.c {
					p.available = append(p.available[:i], p.available[i+1:]...)
					break
				}
			}
			p.mu.Unlock()
			e.c.Close()
		}
	}
}
