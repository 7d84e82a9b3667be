package interceptz

import (
	"log/slog"

	"github.com/zoobzio/clockz"
)

// Option configures a Dispatcher or Proxy during creation.
type Option func(*config)

// config holds internal configuration shared by Wrap and NewDispatcher.
type config struct {
	clock     clockz.Clock // Time abstraction for deterministic testing
	scheduler Scheduler
	logger    *slog.Logger
	isolate   bool
	ids       bool
}

func newConfig(opts []Option) config {
	cfg := config{
		clock:     clockz.RealClock,
		scheduler: Inline,
		logger:    slog.Default(),
		isolate:   false,
		ids:       true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithClock sets the clock used to stamp Call.Started.
// Default is clockz.RealClock for production use.
// Use a clockz fake clock for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithScheduler sets where settlement callbacks of asynchronous calls run.
// Default is Inline: on the goroutine that settles the source Future.
func WithScheduler(s Scheduler) Option {
	return func(c *config) {
		if s == nil {
			s = Inline
		}
		c.scheduler = s
	}
}

// WithLogger sets the structured logger used to report isolated hook panics.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithHookIsolation recovers panics raised by OnSuccess and OnError.
//
// With isolation on, a panicking callback is logged and the caller receives
// the original outcome. With isolation off (the default) the panic reaches
// the call site for synchronous calls, and rejects the returned Future with
// a *HookPanicError for asynchronous ones.
func WithHookIsolation() Option {
	return func(c *config) {
		c.isolate = true
	}
}

// WithIDs toggles per-call UUID generation for Call.ID. Default is on.
func WithIDs(enabled bool) Option {
	return func(c *config) {
		c.ids = enabled
	}
}
