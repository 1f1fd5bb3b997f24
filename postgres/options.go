package postgresfixture

import (
	"crypto/rand"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	defaultImage = "postgres:16-alpine"
	imageEnvName = "KPOSTGRES_IMAGE"

	defaultConnectAttempts = 100
	defaultConnectInterval = 100 * time.Millisecond
	defaultStopTimeout     = 5 * time.Second
)

type config struct {
	image           string
	serverParams    Params
	connectAttempts int
	connectInterval time.Duration
	stopTimeout     time.Duration
	connect         Connector
	random          io.Reader
	logger          *zap.Logger
}

// Option tunes one provisioning call.
type Option func(*config)

// WithImage overrides the server image. The KPOSTGRES_IMAGE environment
// variable takes precedence over the built-in default but not over this
// option.
func WithImage(image string) Option {
	return func(cfg *config) {
		cfg.image = image
	}
}

// WithServerParams overrides the credentials the server container is
// provisioned with.
func WithServerParams(params Params) Option {
	return func(cfg *config) {
		cfg.serverParams = params
	}
}

// WithConnectAttempts bounds the readiness retry loop.
func WithConnectAttempts(attempts int) Option {
	return func(cfg *config) {
		if attempts > 0 {
			cfg.connectAttempts = attempts
		}
	}
}

// WithConnectInterval sets the sleep between readiness attempts.
func WithConnectInterval(interval time.Duration) Option {
	return func(cfg *config) {
		if interval > 0 {
			cfg.connectInterval = interval
		}
	}
}

// WithStopTimeout sets the grace period given to the container on stop.
func WithStopTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.stopTimeout = timeout
		}
	}
}

// WithConnector substitutes the function used to open connections.
func WithConnector(connect Connector) Option {
	return func(cfg *config) {
		if connect != nil {
			cfg.connect = connect
		}
	}
}

// WithRandom substitutes the randomness source used for sandbox identities,
// making generation deterministic in tests.
func WithRandom(random io.Reader) Option {
	return func(cfg *config) {
		if random != nil {
			cfg.random = random
		}
	}
}

// WithLogger sets the logger. Provisioning is silent by default.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

func newConfig(opts []Option) config {
	image := defaultImage
	if img := os.Getenv(imageEnvName); img != "" {
		image = img
	}

	cfg := config{
		image:           image,
		serverParams:    DefaultParams(),
		connectAttempts: defaultConnectAttempts,
		connectInterval: defaultConnectInterval,
		stopTimeout:     defaultStopTimeout,
		connect:         pgxConnector,
		random:          rand.Reader,
		logger:          zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}
