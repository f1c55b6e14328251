// Package worker runs the poll loop that drives a docqueue.Queue: it claims
// jobs, hands them to a Handler and settles each claim by deleting,
// releasing or archiving the job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mhpenta/docqueue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrMaxAttemptsExceeded = errors.New("worker: job has been attempted too many times")
	ErrJobTimedOut         = errors.New("worker: job timed out")
	ErrJobPanicked         = errors.New("worker: job panicked")
)

const tracerName = "github.com/mhpenta/docqueue/worker"

// Handler processes one claimed job. A nil error acknowledges the job.
type Handler interface {
	Handle(ctx context.Context, job *docqueue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *docqueue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *docqueue.Job) error {
	return f(ctx, job)
}

// FailureLogger records jobs the worker gives up on. *docqueue.Archive
// implements it.
type FailureLogger interface {
	Log(ctx context.Context, connection, queueName string, payload []byte, jobErr error) (string, error)
}

// Config holds worker configuration.
type Config struct {
	// ID identifies the worker in logs and spans. Defaults to a random UUID.
	ID string

	// Connection is recorded on archived failures.
	Connection string

	// Queues are polled in order; the first one with work wins. An empty
	// list polls the queue's default.
	Queues []string

	Concurrency  int
	PollInterval time.Duration // Delay after an empty poll (default: 1s)
	MaxBackoff   time.Duration // Cap for the idle delay, which doubles per empty poll (default: 30s)

	// MaxTries archives a job once it has failed this many attempts. Zero
	// retries forever.
	MaxTries int

	// Backoff delays a failed job before it is claimable again.
	Backoff time.Duration

	// Timeout bounds a single Handle call. Zero means no limit.
	Timeout time.Duration

	// PollRate caps pops per second across all loops. Zero means unlimited.
	PollRate float64
}

// Worker polls a queue and dispatches claimed jobs to a Handler.
type Worker struct {
	queue   docqueue.Queue
	failed  FailureLogger
	handler Handler
	config  Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics records job outcomes and durations.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Worker) {
		if tp != nil {
			w.tracer = tp.Tracer(tracerName)
		}
	}
}

// New returns a Worker. failed may be nil, in which case jobs that exhaust
// MaxTries are deleted without being archived.
func New(queue docqueue.Queue, failed FailureLogger, handler Handler, config Config, opts ...Option) *Worker {
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.MaxBackoff < config.PollInterval {
		config.MaxBackoff = config.PollInterval
	}
	if len(config.Queues) == 0 {
		config.Queues = []string{""}
	}

	w := &Worker{
		queue:   queue,
		failed:  failed,
		handler: handler,
		config:  config,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer(tracerName),
		limiter: rate.NewLimiter(rate.Inf, 1),
		sleep:   sleepContext,
	}
	if config.PollRate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(config.PollRate), 1)
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker_id", config.ID)
	return w
}

// Config returns the resolved configuration.
func (w *Worker) Config() Config {
	return w.config
}

// Run starts Concurrency poll loops and blocks until ctx is canceled. Jobs
// already being handled run to completion and are settled before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting", "concurrency", w.config.Concurrency, "queues", w.config.Queues)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.config.Concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}

	err := g.Wait()
	w.logger.Info("worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	backoff := w.config.PollInterval

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return ctxErr(ctx, err)
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("poll failed", "error", err)
		}
		if processed {
			backoff = w.config.PollInterval
			continue
		}

		if err := w.sleep(ctx, backoff); err != nil {
			return nil
		}
		backoff *= 2
		if backoff > w.config.MaxBackoff {
			backoff = w.config.MaxBackoff
		}
	}
}

// RunOnce claims and processes at most one job, trying each configured queue
// in order. It reports whether a job was processed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	for _, queueName := range w.config.Queues {
		claim, err := w.queue.Pop(ctx, queueName)
		if err != nil {
			w.metrics.poll(queueName, "error")
			return false, fmt.Errorf("failed to pop from %q: %w", queueName, err)
		}

		job, ok := claim.Job()
		if !ok {
			w.metrics.poll(queueName, "empty")
			continue
		}

		w.metrics.poll(queueName, "claimed")
		// Settle the claim even if the poll loop is being shut down.
		w.process(context.WithoutCancel(ctx), job)
		return true, nil
	}
	return false, nil
}

func (w *Worker) process(ctx context.Context, job *docqueue.Job) {
	queueName := job.Queue()
	logger := w.logger.With("queue", queueName, "job_id", job.ID(), "attempts", job.Attempts())

	ctx, span := w.tracer.Start(ctx, "docqueue.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("docqueue.worker_id", w.config.ID),
			attribute.String("docqueue.queue", queueName),
			attribute.String("docqueue.job_id", job.ID()),
			attribute.Int("docqueue.attempts", job.Attempts()),
		),
	)
	defer span.End()

	if w.config.MaxTries > 0 && job.Attempts() > w.config.MaxTries {
		logger.Warn("job exceeded max tries before running")
		span.SetStatus(codes.Error, ErrMaxAttemptsExceeded.Error())
		w.fail(ctx, logger, job, ErrMaxAttemptsExceeded)
		return
	}

	start := time.Now()
	err := w.execute(ctx, job)
	w.metrics.observe(queueName, time.Since(start))

	if err == nil {
		if _, err := w.queue.Delete(ctx, queueName, job.ID()); err != nil {
			logger.Error("failed to delete completed job", "error", err)
			span.RecordError(err)
			return
		}
		w.metrics.outcome(queueName, "succeeded")
		logger.Debug("job completed")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if w.config.MaxTries > 0 && job.Attempts() >= w.config.MaxTries {
		logger.Warn("job failed for the last time", "error", err)
		w.fail(ctx, logger, job, err)
		return
	}

	logger.Info("job failed, releasing", "error", err, "delay", w.config.Backoff)
	if err := w.queue.Release(ctx, queueName, job, w.config.Backoff); err != nil {
		logger.Error("failed to release job", "error", err)
		return
	}
	w.metrics.outcome(queueName, "released")
}

// execute runs the handler with the configured timeout and turns panics into
// errors.
func (w *Worker) execute(ctx context.Context, job *docqueue.Job) (err error) {
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()

		defer func() {
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %v", ErrJobTimedOut, w.config.Timeout)
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	return w.handler.Handle(ctx, job)
}

// fail archives the job and removes it from the queue. Archive errors are
// logged; the job is deleted regardless so it stops being redelivered.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *docqueue.Job, jobErr error) {
	if w.failed != nil {
		if _, err := w.failed.Log(ctx, w.config.Connection, job.Queue(), job.Payload(), jobErr); err != nil {
			logger.Error("failed to archive job", "error", err)
		}
	}
	if _, err := w.queue.Delete(ctx, job.Queue(), job.ID()); err != nil {
		logger.Error("failed to delete failed job", "error", err)
		return
	}
	w.metrics.outcome(job.Queue(), "failed")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
