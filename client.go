package docqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	_ Queue = (*Client)(nil)
	_ Admin = (*Client)(nil)
)

// Client is the queue engine bound to one job collection. It holds no
// mutable state; every operation is a round trip to the store.
type Client struct {
	coll   Collection
	config Config
	clock  func() time.Time
	logger *slog.Logger
}

// New returns a Client over coll. Most callers go through Connector instead.
func New(coll Collection, config Config, opts ...Option) *Client {
	o := applyOptions(opts)
	if strings.TrimSpace(config.Queue) == "" {
		config.Queue = DefaultConfig().Queue
	}
	return &Client{
		coll:   coll,
		config: config,
		clock:  o.clock,
		logger: o.logger.With("connection", config.Connection, "collection", config.Collection),
	}
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.config
}

// ConnectionName returns the store connection name recorded on failures.
func (c *Client) ConnectionName() string {
	return c.config.Connection
}

func (c *Client) queueName(queueName string) string {
	if strings.TrimSpace(queueName) == "" {
		return c.config.Queue
	}
	return queueName
}

func (c *Client) Push(ctx context.Context, queueName string, payload []byte, opts ...PushOption) (string, error) {
	queueName = c.queueName(queueName)
	if err := ValidatePush(queueName, payload); err != nil {
		return "", err
	}

	options := ResolvePushOptions(opts)
	now := c.clock()

	id, err := c.coll.InsertOne(ctx, jobRecord{
		Queue:       queueName,
		Payload:     payload,
		Attempts:    0,
		Reserved:    notReserved,
		ReservedAt:  nil,
		AvailableAt: options.availableAt(now),
		CreatedAt:   now.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}

	c.logger.Debug("job pushed", "queue", queueName, "job_id", id.Hex())
	return id.Hex(), nil
}

// Later pushes a job that becomes claimable at at.
func (c *Client) Later(ctx context.Context, queueName string, at time.Time, payload []byte) (string, error) {
	return c.Push(ctx, queueName, payload, WithAvailableAt(at))
}

// Bulk pushes payloads in order. On a store error it returns the IDs inserted
// so far along with the error.
func (c *Client) Bulk(ctx context.Context, queueName string, payloads [][]byte, opts ...PushOption) ([]string, error) {
	ids := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		id, err := c.Push(ctx, queueName, payload, opts...)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) Pop(ctx context.Context, queueName string) (Claim, error) {
	queueName = c.queueName(queueName)

	if c.config.Lease > 0 {
		if _, err := c.releaseExpired(ctx, queueName); err != nil {
			return Claim{}, err
		}
	}

	rec, err := c.claimNext(ctx, queueName)
	if err != nil {
		return Claim{}, err
	}
	if rec == nil {
		return Claim{}, nil
	}

	c.logger.Debug("job claimed", "queue", queueName, "job_id", rec.ID.Hex(), "attempts", rec.Attempts)
	return Claim{job: newJob(c, *rec)}, nil
}

// releaseExpired resets reservations older than the lease. The filter is
// re-evaluated per document by the store, so a record claimed again in the
// meantime is left alone. reserved_at is rounded up at claim time, so
// comparing it against the floored cutoff never expires a lease early.
func (c *Client) releaseExpired(ctx context.Context, queueName string) (int64, error) {
	expiration := c.clock().Add(-c.config.Lease).Unix()

	swept, err := c.coll.UpdateMany(ctx,
		bson.M{
			fieldQueue:      queueName,
			fieldReserved:   reserved,
			fieldReservedAt: bson.M{"$ne": nil, "$lte": expiration},
		},
		bson.M{
			"$set": bson.M{
				fieldReserved:   notReserved,
				fieldReservedAt: nil,
			},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired reservations: %w", err)
	}
	if swept > 0 {
		c.logger.Info("released expired reservations", "queue", queueName, "swept", swept)
	}
	return swept, nil
}

func (c *Client) claimNext(ctx context.Context, queueName string) (*jobRecord, error) {
	t := c.clock()
	now := t.Unix()

	raw, err := c.coll.FindOneAndUpdate(ctx,
		bson.M{
			fieldQueue:       queueName,
			fieldReserved:    bson.M{"$ne": reserved},
			fieldAvailableAt: bson.M{"$lte": now},
		},
		bson.M{
			"$set": bson.M{
				fieldReserved:   reserved,
				fieldReservedAt: ceilUnix(t),
			},
			"$inc": bson.M{
				fieldAttempts: 1,
			},
		},
		bson.D{{Key: fieldAvailableAt, Value: 1}},
	)
	if err != nil {
		if errors.Is(err, ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	rec, err := decodeJobRecord(raw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ceilUnix returns t in epoch seconds, rounded up to the next whole second.
func ceilUnix(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}

func (c *Client) Release(ctx context.Context, queueName string, job *Job, delay time.Duration) error {
	if job == nil {
		return ErrNilJob
	}
	queueName = c.queueName(queueName)

	_, err := c.coll.UpdateMany(ctx,
		bson.M{fieldID: job.rec.ID},
		c.releaseUpdate(delay),
	)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}

	c.logger.Debug("job released", "queue", queueName, "job_id", job.ID(), "delay", delay)
	return nil
}

func (c *Client) Delete(ctx context.Context, queueName string, jobID string) (int64, error) {
	oid, err := ParseJobID(jobID)
	if err != nil {
		return 0, err
	}
	queueName = c.queueName(queueName)

	deleted, err := c.coll.DeleteMany(ctx, bson.M{fieldID: oid})
	if err != nil {
		return 0, fmt.Errorf("failed to delete job: %w", err)
	}

	c.logger.Debug("job deleted", "queue", queueName, "job_id", jobID, "deleted", deleted)
	return deleted, nil
}

// DeleteAndRelease updates the record in place, so the job keeps its ID and
// attempt count. The update only applies while the record still carries the
// reservation the snapshot was taken from; if the lease expired and another
// poller claimed it, ErrReservationLost is returned and nothing changes.
func (c *Client) DeleteAndRelease(ctx context.Context, queueName string, job *Job, delay time.Duration) error {
	if job == nil {
		return ErrNilJob
	}
	queueName = c.queueName(queueName)

	matched, err := c.coll.UpdateMany(ctx,
		bson.M{
			fieldID:       job.rec.ID,
			fieldReserved: reserved,
			fieldAttempts: job.rec.Attempts,
		},
		c.releaseUpdate(delay),
	)
	if err != nil {
		return fmt.Errorf("failed to release reserved job: %w", err)
	}
	if matched == 0 {
		return ErrReservationLost
	}

	c.logger.Debug("job deleted and released", "queue", queueName, "job_id", job.ID(), "delay", delay)
	return nil
}

func (c *Client) releaseUpdate(delay time.Duration) bson.M {
	return bson.M{
		"$set": bson.M{
			fieldReserved:    notReserved,
			fieldReservedAt:  nil,
			fieldAvailableAt: PushOptions{Delay: delay}.availableAt(c.clock()),
		},
	}
}

func (c *Client) Size(ctx context.Context, queueName string) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, bson.M{fieldQueue: c.queueName(queueName)})
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

func (c *Client) CountReserved(ctx context.Context, queueName string) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, bson.M{
		fieldQueue:    c.queueName(queueName),
		fieldReserved: reserved,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count reserved jobs: %w", err)
	}
	return n, nil
}

func (c *Client) ListJobs(ctx context.Context, queueName string, limit, offset int) ([]*Job, error) {
	raws, err := c.coll.Find(ctx, bson.M{fieldQueue: c.queueName(queueName)}, FindOptions{
		Sort:  bson.D{{Key: fieldAvailableAt, Value: 1}, {Key: fieldID, Value: 1}},
		Skip:  int64(offset),
		Limit: int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		rec, err := decodeJobRecord(raw)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, newJob(c, rec))
	}
	return jobs, nil
}

func (c *Client) Clear(ctx context.Context, queueName string) (int64, error) {
	n, err := c.coll.DeleteMany(ctx, bson.M{fieldQueue: c.queueName(queueName)})
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}
	return n, nil
}

func (c *Client) ReleaseExpired(ctx context.Context, queueName string) (int64, error) {
	if c.config.Lease <= 0 {
		return 0, nil
	}
	return c.releaseExpired(ctx, c.queueName(queueName))
}
