package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// Isolation is the strength of the boundary a plugin call runs behind.
type Isolation int

// Isolation levels, weakest to strongest.
const (
	// IsolationMinimal runs the call inline. Panics propagate to the
	// caller, which is expected to recover them itself.
	IsolationMinimal Isolation = iota

	// IsolationModerate runs the call inline but converts panics into
	// errors at the sandbox boundary.
	IsolationModerate

	// IsolationStrict runs the call on a dedicated goroutine with panics
	// converted to errors. Until a process-level transport exists this
	// gives the same containment as moderate; the level is the seam where
	// out-of-process execution would slot in.
	IsolationStrict
)

// String returns a string representation of the isolation level.
func (i Isolation) String() string {
	switch i {
	case IsolationMinimal:
		return "minimal"
	case IsolationModerate:
		return "moderate"
	case IsolationStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseIsolation parses an isolation level name. Unknown names fall back
// to strict, the safe default.
func ParseIsolation(s string) Isolation {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return IsolationMinimal
	case "moderate":
		return IsolationModerate
	default:
		return IsolationStrict
	}
}

// Default restart supervision parameters.
const (
	DefaultMaxRestarts  = 3
	DefaultRestartDelay = 500 * time.Millisecond
)

// Runner executes plugin entry calls under an isolation level and
// supervises restarts after crashes.
type Runner struct {
	isolation   Isolation
	maxRestarts uint64
	baseDelay   time.Duration
	log         zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithIsolation sets the isolation level.
func WithIsolation(i Isolation) Option {
	return func(r *Runner) {
		r.isolation = i
	}
}

// WithMaxRestarts sets how many restart attempts Supervise makes after
// the initial failure.
func WithMaxRestarts(n uint64) Option {
	return func(r *Runner) {
		r.maxRestarts = n
	}
}

// WithRestartDelay sets the base delay for restart backoff.
func WithRestartDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.baseDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// NewRunner creates a Runner. The zero configuration is strict isolation
// with the default restart budget.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		isolation:   IsolationStrict,
		maxRestarts: DefaultMaxRestarts,
		baseDelay:   DefaultRestartDelay,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Isolation returns the configured isolation level.
func (r *Runner) Isolation() Isolation {
	return r.isolation
}

// Run executes fn for the named plugin under the configured isolation
// level and returns its error.
func (r *Runner) Run(pluginID string, fn func() error) error {
	switch r.isolation {
	case IsolationMinimal:
		return fn()
	case IsolationModerate:
		return contain(fn)
	default:
		// Strict: dedicated goroutine, joined immediately. In-process this
		// only moves the stack the plugin runs on; real fault isolation
		// needs a subprocess behind the same seam.
		errc := make(chan error, 1)
		go func() {
			errc <- contain(fn)
		}()
		err := <-errc
		if err != nil {
			r.log.Debug().Err(err).Str("plugin", pluginID).Msg("sandboxed call failed")
		}
		return err
	}
}

// Supervise retries start with exponential backoff after a crash, up to
// the restart budget. It returns nil as soon as one attempt succeeds, and
// the last error once the budget is exhausted or the context is done.
func (r *Runner) Supervise(ctx context.Context, pluginID string, start func() error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(r.maxRestarts, retry.NewExponential(r.baseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := r.Run(pluginID, start); err != nil {
			r.log.Warn().
				Err(err).
				Str("plugin", pluginID).
				Int("attempt", attempt).
				Msg("plugin start failed, will retry")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restart budget exhausted after %d attempts: %w", attempt, err)
	}
	return nil
}

// contain converts a panic in fn into an error.
func contain(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
