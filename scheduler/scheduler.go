// Package scheduler spaces pushes for the same logical key over time. It
// computes a run time from a Policy, reserves it in a KeyStateStore and pushes
// the payload so it becomes claimable at that time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mhpenta/docqueue"
	"github.com/robfig/cron/v3"
)

var (
	ErrNilQueue        = errors.New("scheduler: queue must not be nil")
	ErrNilStore        = errors.New("scheduler: key state store must not be nil")
	ErrEmptyJobKey     = errors.New("scheduler: job key must not be empty")
	ErrNegativeMinGap  = errors.New("scheduler: min gap must be >= 0")
	ErrNegativeJitter  = errors.New("scheduler: max jitter must be >= 0")
	ErrNilLocation     = errors.New("scheduler: window location must not be nil")
	ErrInvalidWindow   = errors.New("scheduler: window start/end must satisfy 0 <= start < end <= 24h")
	ErrInvalidSchedule = errors.New("scheduler: invalid cron schedule")
	ErrNilPayload      = errors.New("scheduler: payload must not be nil")
	ErrZeroScheduledAt = errors.New("scheduler: scheduled time must not be zero")
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DailyWindow constrains scheduling to a local time range each day.
// Start is inclusive and End is exclusive.
type DailyWindow struct {
	Start    time.Duration
	End      time.Duration
	Location *time.Location
}

func (w DailyWindow) validate() error {
	if w.Location == nil {
		return ErrNilLocation
	}
	day := 24 * time.Hour
	if w.Start < 0 || w.End <= 0 || w.Start >= w.End || w.End > day {
		return ErrInvalidWindow
	}
	return nil
}

// Policy defines how pushes for one key are spaced and constrained.
type Policy struct {
	// MinGap is the minimum distance between run times of the same key.
	MinGap time.Duration

	// Schedule is an optional five-field cron expression. Run times are
	// moved forward to the next matching minute.
	Schedule string

	// Window restricts run times to a daily time range when non-nil.
	Window *DailyWindow

	// MaxJitter adds a random delay between 0 and MaxJitter.
	MaxJitter time.Duration
}

func (p Policy) validate() (cron.Schedule, error) {
	if p.MinGap < 0 {
		return nil, ErrNegativeMinGap
	}
	if p.MaxJitter < 0 {
		return nil, ErrNegativeJitter
	}
	if p.Window != nil {
		if err := p.Window.validate(); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(p.Schedule) == "" {
		return nil, nil
	}
	sched, err := cronParser.Parse(p.Schedule)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, p.Schedule, err)
	}
	return sched, nil
}

// KeyStateStore atomically updates the most recently scheduled run time for a key.
// Update must be atomic per key across concurrent callers.
type KeyStateStore interface {
	Update(ctx context.Context, key string, fn func(previous time.Time, exists bool) (next time.Time, err error)) (time.Time, error)
}

// PushRequest describes a policy-driven push.
type PushRequest struct {
	// QueueName may be empty to use the queue's default.
	QueueName string
	JobKey    string
	Payload   []byte

	// NotBefore is an optional base time. Zero means now.
	NotBefore time.Time

	Policy Policy

	// Options are forwarded to Push ahead of the computed availability.
	Options []docqueue.PushOption
}

// Scheduler computes policy-based run times and pushes jobs that become
// claimable at them.
type Scheduler struct {
	queue docqueue.Pusher
	store KeyStateStore
	clock func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used for zero-value NotBefore requests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRandSource overrides jitter randomness.
func WithRandSource(src rand.Source) Option {
	return func(s *Scheduler) {
		if src != nil {
			s.rng = rand.New(src)
		}
	}
}

func New(queue docqueue.Pusher, store KeyStateStore, opts ...Option) (*Scheduler, error) {
	if queue == nil {
		return nil, ErrNilQueue
	}
	if store == nil {
		return nil, ErrNilStore
	}

	s := &Scheduler{
		queue: queue,
		store: store,
		clock: time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NextRunAt computes and reserves the next run time for the given key.
func (s *Scheduler) NextRunAt(ctx context.Context, key string, notBefore time.Time, policy Policy) (time.Time, error) {
	if strings.TrimSpace(key) == "" {
		return time.Time{}, ErrEmptyJobKey
	}
	sched, err := policy.validate()
	if err != nil {
		return time.Time{}, err
	}
	if notBefore.IsZero() {
		notBefore = s.clock()
	}

	return s.store.Update(ctx, key, func(previous time.Time, exists bool) (time.Time, error) {
		base := notBefore
		if exists && policy.MinGap > 0 {
			if minByGap := previous.Add(policy.MinGap); minByGap.After(base) {
				base = minByGap
			}
		}

		scheduled := alignToSchedule(base, sched)
		scheduled = alignToWindow(scheduled, policy.Window)
		scheduled = scheduled.Add(s.jitterDelta(policy.MaxJitter, policy.Window, scheduled))
		if scheduled.IsZero() {
			return time.Time{}, ErrZeroScheduledAt
		}
		return scheduled, nil
	})
}

// Push reserves the next run time for request.JobKey and pushes the payload
// with that availability.
func (s *Scheduler) Push(ctx context.Context, request PushRequest) (jobID string, runAt time.Time, err error) {
	if request.Payload == nil {
		return "", time.Time{}, ErrNilPayload
	}

	runAt, err = s.NextRunAt(ctx, request.JobKey, request.NotBefore, request.Policy)
	if err != nil {
		return "", time.Time{}, err
	}

	opts := append([]docqueue.PushOption{}, request.Options...)
	opts = append(opts, docqueue.WithAvailableAt(runAt))

	jobID, err = s.queue.Push(ctx, request.QueueName, request.Payload, opts...)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("scheduler: push failed: %w", err)
	}
	return jobID, runAt, nil
}

// alignToSchedule returns t when it falls on a scheduled minute, otherwise the
// next scheduled minute.
func alignToSchedule(t time.Time, sched cron.Schedule) time.Time {
	if sched == nil {
		return t
	}
	next := sched.Next(t.Add(-time.Nanosecond))
	if next.IsZero() {
		return t
	}
	return next
}

func alignToWindow(t time.Time, window *DailyWindow) time.Time {
	if window == nil {
		return t
	}

	local := t.In(window.Location)
	windowStart, windowEnd := windowBounds(local, *window)

	if local.Before(windowStart) {
		return windowStart
	}
	if !local.Before(windowEnd) {
		return windowStart.Add(24 * time.Hour)
	}
	return local
}

func (s *Scheduler) jitterDelta(maxJitter time.Duration, window *DailyWindow, base time.Time) time.Duration {
	if maxJitter <= 0 {
		return 0
	}

	limit := maxJitter
	if window != nil {
		_, windowEnd := windowBounds(base.In(window.Location), *window)
		remaining := windowEnd.Sub(base)
		if remaining <= 0 {
			return 0
		}
		if limit > remaining {
			limit = remaining
		}
	}

	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return time.Duration(s.rng.Int63n(int64(limit) + 1))
}

func windowBounds(local time.Time, window DailyWindow) (start, end time.Time) {
	year, month, day := local.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, window.Location)
	return dayStart.Add(window.Start), dayStart.Add(window.End)
}
