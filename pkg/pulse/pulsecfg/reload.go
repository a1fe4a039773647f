package pulsecfg

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Mutable is the subset of Config that a live Client may legally pick up
// from a reload: anything that changes the shape of the pool (max
// connections, max waiters, the authority itself) is fixed for the
// pool's lifetime and is never touched by Reloader.
type Mutable struct {
	MaxRedirects      int           `json:"max_redirects"`
	Debug             bool          `json:"debug"`
	Decompress        bool          `json:"decompress"`
	MaxIdleTime       time.Duration `json:"max_idle_time"`
	IdleCheckInterval time.Duration `json:"idle_check_interval"`
}

// Reloader watches a JSON file on disk and applies its contents to the
// mutable fields of a Config, guarded by a mutex so reads from other
// goroutines always see a consistent snapshot.
type Reloader struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Mutable

	onReload func(Mutable)

	done chan struct{}
}

// NewReloader reads path once to seed the initial Mutable snapshot, then
// starts watching it for writes. onReload, if non-nil, is called after
// every successful reload with the new snapshot.
func NewReloader(path string, onReload func(Mutable)) (*Reloader, error) {
	initial, err := readMutable(path)
	if err != nil {
		return nil, fmt.Errorf("pulse: config: initial read of %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("pulse: config: new watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("pulse: config: watch %s: %w", path, err)
	}

	r := &Reloader{
		path:     path,
		watcher:  w,
		current:  initial,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// Current returns the most recently applied Mutable snapshot.
func (r *Reloader) Current() Mutable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Close stops watching and releases the underlying file handle.
func (r *Reloader) Close() error {
	err := r.watcher.Close()
	<-r.done
	return err
}

func (r *Reloader) loop() {
	defer close(r.done)
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			r.reload()
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			// A watch error is non-fatal: keep serving the last good
			// snapshot and wait for the next event.
		}
	}
}

func (r *Reloader) reload() {
	m, err := readMutable(r.path)
	if err != nil {
		// Malformed config on disk never displaces a known-good
		// snapshot — the file may be mid-write.
		return
	}
	r.mu.Lock()
	r.current = m
	r.mu.Unlock()
	if r.onReload != nil {
		r.onReload(m)
	}
}

func readMutable(path string) (Mutable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mutable{}, err
	}
	var m Mutable
	if err := json.Unmarshal(data, &m); err != nil {
		return Mutable{}, err
	}
	return m, nil
}

// Apply overwrites the mutable fields of cfg with m, leaving the
// authority and pool-shape fields untouched.
func (m Mutable) Apply(cfg *Config) {
	cfg.MaxRedirects = m.MaxRedirects
	cfg.Debug = m.Debug
	cfg.Decompress = m.Decompress
	cfg.MaxIdleTime = m.MaxIdleTime
	cfg.IdleCheckInterval = m.IdleCheckInterval
}
