// Package pulsecfg holds the client's configuration surface: the
// authority it dials, the pool bounds, and the ambient options for debug
// logging, redirects, and decompression.
package pulsecfg

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourusername/pulse/pkg/pulse/metrics"
	"github.com/yourusername/pulse/pkg/pulse/pool"
	"github.com/yourusername/pulse/pkg/pulse/transport"
)

// Config is the fully resolved configuration for one Client.
type Config struct {
	Host   string
	Port   int
	UseTLS bool

	MaxConnections int
	MaxWaiters     int
	BodyQueueDepth int

	// IOThreads bounds concurrent in-flight dials against this authority;
	// 0 leaves dialing bounded only by MaxConnections.
	IOThreads int

	MaxIdleTime       time.Duration
	IdleCheckInterval time.Duration
	HealthChecker     pool.HealthChecker

	DialerOptions transport.Options
	TLSProvider   transport.TLSProvider

	// MaxRedirects bounds automatic redirect following; 0 disables
	// following entirely.
	MaxRedirects int

	// Debug turns on structured request/response logging.
	Debug bool

	// Decompress transparently inflates gzip/deflate/br response bodies
	// when set.
	Decompress bool

	MetricsRegisterer prometheus.Registerer
}

// Option mutates a Config during construction.
type Option func(*Config)

// Default returns the baseline configuration: one connection, up to 100
// queued waiters, redirects capped at 10, nothing optional turned on.
func Default(host string, port int, useTLS bool) Config {
	return Config{
		Host:           host,
		Port:           port,
		UseTLS:         useTLS,
		MaxConnections: 1,
		MaxWaiters:     100,
		BodyQueueDepth: 4,
		MaxRedirects:   10,
		DialerOptions:  transport.DefaultOptions(),
	}
}

// New builds a Config for host:port, applying opts over Default.
func New(host string, port int, useTLS bool, opts ...Option) (Config, error) {
	cfg := Default(host, port, useTLS)
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that New would otherwise defer to runtime
// panics deep inside the pool.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("pulse: config: host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("pulse: config: invalid port %d", c.Port)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("pulse: config: max_connections must be positive")
	}
	if c.MaxWaiters < 0 {
		return fmt.Errorf("pulse: config: max_waiters cannot be negative")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("pulse: config: max_redirects cannot be negative")
	}
	return nil
}

func WithMaxConnections(n int) Option { return func(c *Config) { c.MaxConnections = n } }
func WithMaxWaiters(n int) Option     { return func(c *Config) { c.MaxWaiters = n } }
func WithBodyQueueDepth(n int) Option { return func(c *Config) { c.BodyQueueDepth = n } }
func WithIOThreads(n int) Option      { return func(c *Config) { c.IOThreads = n } }
func WithMaxRedirects(n int) Option   { return func(c *Config) { c.MaxRedirects = n } }
func WithDebug(enabled bool) Option   { return func(c *Config) { c.Debug = enabled } }
func WithDecompress(enabled bool) Option {
	return func(c *Config) { c.Decompress = enabled }
}
func WithIdleEviction(maxIdle, checkInterval time.Duration) Option {
	return func(c *Config) {
		c.MaxIdleTime = maxIdle
		c.IdleCheckInterval = checkInterval
	}
}
func WithHealthChecker(hc pool.HealthChecker) Option {
	return func(c *Config) { c.HealthChecker = hc }
}
func WithDialerOptions(opts transport.Options) Option {
	return func(c *Config) { c.DialerOptions = opts }
}
func WithTLSProvider(p transport.TLSProvider) Option {
	return func(c *Config) { c.TLSProvider = p }
}
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) { c.MetricsRegisterer = reg }
}

// NewMetrics builds a metrics.Collector for this config's authority, or
// returns nil when no registerer was configured.
func (c *Config) NewMetrics() *metrics.Collector {
	if c.MetricsRegisterer == nil {
		return nil
	}
	return metrics.NewCollector(c.MetricsRegisterer, fmt.Sprintf("%s:%d", c.Host, c.Port))
}

// PoolConfig projects the subset of Config relevant to pool.Config.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		HostPort:          fmt.Sprintf("%s:%d", c.Host, c.Port),
		UseTLS:            c.UseTLS,
		MaxConnections:    c.MaxConnections,
		MaxWaiters:        c.MaxWaiters,
		BodyQueueDepth:    c.BodyQueueDepth,
		IOThreads:         c.IOThreads,
		MaxIdleTime:       c.MaxIdleTime,
		IdleCheckInterval: c.IdleCheckInterval,
		HealthChecker:     c.HealthChecker,
		DialerOptions:     c.DialerOptions,
		TLSProvider:       c.TLSProvider,
		Metrics:           c.NewMetrics(),
	}
}
