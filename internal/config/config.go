// Package config loads service configuration from the environment.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the telephone service configuration.
type Config struct {
	// NodeID identifies this instance in published events.
	NodeID string `env:"NODE_ID" envDefault:"telephone-0"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`

	// APIAddr is the listen address of the read-only ops API.
	// Empty disables the API server.
	APIAddr string `env:"API_ADDR" envDefault:":8080"`

	// Redis settings for the directory adapter. Empty RedisAddr keeps
	// the in-memory directory.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	Timings Timings
}

// Timings carries every timer and delay of the call lifecycle. All of
// them are hard upper bounds; none retry.
type Timings struct {
	// DialSettle is the pause between joining voice and the dialing tone.
	DialSettle time.Duration `env:"DIAL_SETTLE" envDefault:"1s"`
	// DialToneWait is how long the dialing tone plays before target resolution.
	DialToneWait time.Duration `env:"DIAL_TONE_WAIT" envDefault:"4750ms"`
	// RingTimeout is the no-pickup auto-hangup window.
	RingTimeout time.Duration `env:"RING_TIMEOUT" envDefault:"30s"`
	// PickupGrace is the pause between the pickup tone and live audio.
	PickupGrace time.Duration `env:"PICKUP_GRACE" envDefault:"3s"`
	// HangupDelay lets the hangup tone play before disconnecting.
	HangupDelay time.Duration `env:"HANGUP_DELAY" envDefault:"5s"`
	// SearchDelay is the pause shown between a directory match and dialing.
	SearchDelay time.Duration `env:"SEARCH_DELAY" envDefault:"3s"`
	// SweepInterval is the inactivity supervisor period.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	// IdleThreshold force-closes calls whose voice channel stayed empty this long.
	IdleThreshold time.Duration `env:"IDLE_THRESHOLD" envDefault:"1m"`
	// CallTimeLimit is the hard cap on call duration.
	CallTimeLimit time.Duration `env:"CALL_TIME_LIMIT" envDefault:"24h"`
	// InteractionWindow bounds pending interaction acknowledgements.
	InteractionWindow time.Duration `env:"INTERACTION_WINDOW" envDefault:"30s"`
}

// Load reads the optional env file and parses the environment into a Config.
func Load() (*Config, error) {
	// ENV_FILE points at an alternate dotenv file; absence of any
	// dotenv file is not an error.
	if envfile := os.Getenv("ENV_FILE"); envfile != "" {
		if err := godotenv.Load(envfile); err != nil {
			return nil, err
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := new(Config)
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultTimings returns the production timing defaults.
func DefaultTimings() Timings {
	return Timings{
		DialSettle:        time.Second,
		DialToneWait:      4750 * time.Millisecond,
		RingTimeout:       30 * time.Second,
		PickupGrace:       3 * time.Second,
		HangupDelay:       5 * time.Second,
		SearchDelay:       3 * time.Second,
		SweepInterval:     time.Minute,
		IdleThreshold:     time.Minute,
		CallTimeLimit:     24 * time.Hour,
		InteractionWindow: 30 * time.Second,
	}
}
