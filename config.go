package docqueue

import (
	"io"
	"log/slog"
	"time"
)

// DefaultLease is the reservation lease applied by DefaultConfig.
const DefaultLease = 60 * time.Second

// Config holds queue configuration. It is copied into the Client at
// construction and never mutated afterwards.
type Config struct {
	// Connection names the store connection the queue runs on. It is recorded
	// in the failed-job archive.
	Connection string

	// Collection is the name of the job collection.
	Collection string

	// Queue is the logical queue used when an operation is given an empty
	// queue name.
	Queue string

	// Lease is how long a claimed job stays reserved before the next poller's
	// sweep may reclaim it. A Lease <= 0 disables the sweep on the Client;
	// Connector substitutes DefaultLease for zero.
	Lease time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Connection: "mongodb",
		Collection: "jobs",
		Queue:      "default",
		Lease:      DefaultLease,
	}
}

// PushOptions configures how a job is pushed.
type PushOptions struct {
	// Delay postpones availability relative to the time of the push.
	Delay time.Duration

	// AvailableAt makes the job claimable from an absolute time. It wins over
	// Delay when both are set.
	AvailableAt time.Time
}

// PushOption is a functional option for Push.
type PushOption func(*PushOptions)

// WithDelay delays the job by the given duration from now.
func WithDelay(d time.Duration) PushOption {
	return func(o *PushOptions) {
		o.Delay = d
	}
}

// WithAvailableAt makes the job claimable from t.
func WithAvailableAt(t time.Time) PushOption {
	return func(o *PushOptions) {
		o.AvailableAt = t
	}
}

// ResolvePushOptions applies opts and returns the result.
func ResolvePushOptions(opts []PushOption) PushOptions {
	var options PushOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// availableAt returns the epoch second from which a job pushed at now
// becomes claimable.
func (o PushOptions) availableAt(now time.Time) int64 {
	if !o.AvailableAt.IsZero() {
		return o.AvailableAt.Unix()
	}
	if o.Delay > 0 {
		return now.Add(o.Delay).Unix()
	}
	return now.Unix()
}

// Option configures a Client or an Archive.
type Option func(*options)

type options struct {
	clock  func() time.Time
	logger *slog.Logger
}

func defaultOptions() options {
	return options{
		clock:  time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the clock used for every timestamp the queue writes
// or compares against.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
