package engine

import (
	"time"

	"github.com/facebookgo/clock"
	"gopkg.in/yaml.v3"
)

// Config holds the Registry-wide settings spec.md §A's configuration
// section names: external queue sizing and the BasicHTTP processor's
// client timeout. Loadable from YAML so the demo CLI (cmd/scxmlrt) can
// accept a config file, matching the teacher's own yaml.v3-based config
// loading.
type Config struct {
	ExternalQueueCapacity int           `yaml:"external_queue_capacity"`
	HTTPTimeout           time.Duration `yaml:"http_timeout"`
}

// DefaultConfig returns the Registry's out-of-the-box settings.
func DefaultConfig() Config {
	return Config{
		ExternalQueueCapacity: 64,
		HTTPTimeout:           30 * time.Second,
	}
}

// LoadConfig parses YAML data into a Config, starting from DefaultConfig so
// an omitted field keeps its default rather than zeroing out.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Option configures a Registry at construction, following the same
// functional-option shape as script.WithInline.
type Option func(*Registry)

// WithConfig overrides the Registry's Config.
func WithConfig(cfg Config) Option {
	return func(r *Registry) { r.cfg = cfg }
}

// WithClockFactory overrides how each new Session's Scheduler sources time,
// e.g. to hand every session in a test the same clock.NewMock() so delayed
// <send> behavior is deterministic (spec.md §8's delayed-cancel scenario).
func WithClockFactory(f func() clock.Clock) Option {
	return func(r *Registry) { r.clockFactory = f }
}
