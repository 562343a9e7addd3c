// Package config declares the configuration surface of spec.md §6 and
// loads it from the environment with go-envconfig, the way the retrieval
// pack's envconfig-based services do rather than hand-rolled flag parsing.
package config

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

// Config is the full, enumerated configuration surface of spec.md §6.
// Every field has a zero-config-friendly default applied by Load.
type Config struct {
	// ConnectTimeout bounds how long the Handshake state may be held
	// before the connection is closed with TimedOutError.
	ConnectTimeout time.Duration `env:"RUDP_CONNECT_TIMEOUT, default=30s"`

	// ConnectRetransmissionTimeout is the RTO used for handshake
	// messages, before a connection has any RTT samples of its own.
	ConnectRetransmissionTimeout time.Duration `env:"RUDP_CONNECT_RTO, default=500ms"`

	// SuspendTimeout is the liveness interval; it also bounds the
	// randomized keepalive interval drawn from [0, SuspendTimeout).
	SuspendTimeout time.Duration `env:"RUDP_SUSPEND_TIMEOUT, default=10s"`

	// MaxSuspendDuration is the hard ceiling on residency in Suspended
	// before the connection is closed with TimedOutError.
	MaxSuspendDuration time.Duration `env:"RUDP_MAX_SUSPEND_DURATION, default=60s"`

	// MaxMTUDiscoveryDelay upper-bounds the random MTU-probing start
	// delay used for traffic-analysis resistance.
	MaxMTUDiscoveryDelay time.Duration `env:"RUDP_MAX_MTU_DISCOVERY_DELAY, default=2s"`

	// ConnectCookieRequirementThreshold is the number of in-flight
	// inbound handshakes above which the listener requires a SYN cookie.
	ConnectCookieRequirementThreshold int64 `env:"RUDP_COOKIE_THRESHOLD, default=128"`

	// CookieExpirationInterval is the cookie jar's full rotation period
	// (spec.md §4.7); keys rotate at half this interval.
	CookieExpirationInterval time.Duration `env:"RUDP_COOKIE_EXPIRATION, default=2m"`

	// MaxNumDecoyMessages and MaxDecoyMessageInterval bound the optional
	// decoy-Null traffic-analysis padding emitted before a handshake Syn.
	MaxNumDecoyMessages    int           `env:"RUDP_MAX_DECOY_MESSAGES, default=0"`
	MaxDecoyMessageInterval time.Duration `env:"RUDP_MAX_DECOY_INTERVAL, default=50ms"`

	// GlobalSharedSecret is the default shared secret substituted for a
	// connection that does not specify its own; empty means "use
	// keys.DefaultSharedSecret".
	GlobalSharedSecret string `env:"RUDP_SHARED_SECRET"`

	// MinWorkers and MaxWorkers size the connection manager's worker pool.
	MinWorkers int `env:"RUDP_MIN_WORKERS, default=1"`
	MaxWorkers int `env:"RUDP_MAX_WORKERS, default=8"`

	// MinWindowItems and MaxWindowItems bound the advertised receive
	// window; MaxWindowBytes additionally caps it in bytes.
	MinWindowItems uint32 `env:"RUDP_MIN_WINDOW_ITEMS, default=32"`
	MaxWindowItems uint32 `env:"RUDP_MAX_WINDOW_ITEMS, default=2048"`
	MaxWindowBytes uint32 `env:"RUDP_MAX_WINDOW_BYTES, default=4194304"`

	// BindAddress and BindPort select the listener's bound endpoint;
	// BindPort 0 selects an ephemeral port.
	BindAddress string `env:"RUDP_BIND_ADDRESS, default=0.0.0.0"`
	BindPort    int    `env:"RUDP_BIND_PORT, default=0"`

	// LogLevel feeds internal/applog.SetLevel.
	LogLevel string `env:"RUDP_LOG_LEVEL, default=info"`

	// MetricsAddress, when non-empty, is the address the Prometheus
	// exposition handler listens on.
	MetricsAddress string `env:"RUDP_METRICS_ADDRESS"`
}

// Load reads configuration from the process environment, applying the
// defaults declared in the struct tags above.
func Load(ctx context.Context) (*Config, error) {
	var c Config
	if err := envconfig.Process(ctx, &c); err != nil {
		return nil, errors.Wrap(err, "config: process environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configurations that would produce a non-functional
// connection manager or window.
func (c *Config) Validate() error {
	if c.MinWorkers < 1 {
		return errors.New("config: MinWorkers must be >= 1")
	}
	if c.MaxWorkers < c.MinWorkers {
		return errors.New("config: MaxWorkers must be >= MinWorkers")
	}
	if c.MinWindowItems < 1 {
		return errors.New("config: MinWindowItems must be >= 1")
	}
	if c.MaxWindowItems < c.MinWindowItems {
		return errors.New("config: MaxWindowItems must be >= MinWindowItems")
	}
	return nil
}
