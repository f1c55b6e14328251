package docqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// FailedJob is an archived terminal failure.
type FailedJob struct {
	ID         string
	Connection string
	Queue      string
	Payload    []byte
	Exception  string
	FailedAt   time.Time
}

// Archive is the append-only log of jobs that were given up on. It lives in
// its own collection and keeps no link to the originating job record.
type Archive struct {
	coll   Collection
	clock  func() time.Time
	logger *slog.Logger
}

// NewArchive returns an Archive over coll.
func NewArchive(coll Collection, opts ...Option) *Archive {
	o := applyOptions(opts)
	return &Archive{
		coll:   coll,
		clock:  o.clock,
		logger: o.logger,
	}
}

// Log records a failure and returns the archive ID. Callers should treat an
// error here as something to report, not as the outcome of the job.
func (a *Archive) Log(ctx context.Context, connection, queueName string, payload []byte, jobErr error) (string, error) {
	exception := ""
	if jobErr != nil {
		exception = jobErr.Error()
	}
	if payload == nil {
		payload = []byte{}
	}

	id, err := a.coll.InsertOne(ctx, failedRecord{
		Connection: connection,
		Queue:      queueName,
		Payload:    payload,
		Exception:  exception,
		FailedAt:   a.clock().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive failed job: %w", err)
	}

	a.logger.Info("job archived as failed", "queue", queueName, "failed_id", id.Hex(), "exception", exception)
	return id.Hex(), nil
}

// All returns every failed job, newest first.
func (a *Archive) All(ctx context.Context) ([]FailedJob, error) {
	raws, err := a.coll.Find(ctx, bson.M{}, FindOptions{
		Sort: bson.D{{Key: fieldID, Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]FailedJob, 0, len(raws))
	for _, raw := range raws {
		rec, err := decodeFailedRecord(raw)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, rec.toFailedJob())
	}
	return jobs, nil
}

// Find returns the failed job with the given ID. A missing or unparseable ID
// yields false, not an error.
func (a *Archive) Find(ctx context.Context, id string) (FailedJob, bool, error) {
	oid, err := ParseJobID(id)
	if err != nil {
		return FailedJob{}, false, nil
	}

	raws, err := a.coll.Find(ctx, bson.M{fieldID: oid}, FindOptions{Limit: 1})
	if err != nil {
		return FailedJob{}, false, fmt.Errorf("failed to find failed job: %w", err)
	}
	if len(raws) == 0 {
		return FailedJob{}, false, nil
	}

	rec, err := decodeFailedRecord(raws[0])
	if err != nil {
		return FailedJob{}, false, err
	}
	return rec.toFailedJob(), true, nil
}

// Forget deletes a failed job and reports whether one was removed.
func (a *Archive) Forget(ctx context.Context, id string) (bool, error) {
	oid, err := ParseJobID(id)
	if err != nil {
		return false, nil
	}

	n, err := a.coll.DeleteMany(ctx, bson.M{fieldID: oid})
	if err != nil {
		return false, fmt.Errorf("failed to forget failed job: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of archived failures.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	n, err := a.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count failed jobs: %w", err)
	}
	return n, nil
}

// Flush deletes failures older than olderThan, or all of them when olderThan
// is not positive.
func (a *Archive) Flush(ctx context.Context, olderThan time.Duration) (int64, error) {
	filter := bson.M{}
	if olderThan > 0 {
		filter[fieldFailedAt] = bson.M{"$lte": a.clock().Add(-olderThan).Unix()}
	}

	n, err := a.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to flush failed jobs: %w", err)
	}
	return n, nil
}

// Retry pushes the archived payload back onto its queue and forgets the
// failure. It returns the new job ID.
func (a *Archive) Retry(ctx context.Context, queue Pusher, id string) (string, error) {
	failed, ok, err := a.Find(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrFailedJobNotFound
	}

	jobID, err := queue.Push(ctx, failed.Queue, failed.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to requeue failed job: %w", err)
	}

	if _, err := a.Forget(ctx, id); err != nil {
		return jobID, errors.Join(fmt.Errorf("requeued as %s", jobID), err)
	}

	a.logger.Info("failed job requeued", "queue", failed.Queue, "failed_id", id, "job_id", jobID)
	return jobID, nil
}

func (r failedRecord) toFailedJob() FailedJob {
	return FailedJob{
		ID:         r.ID.Hex(),
		Connection: r.Connection,
		Queue:      r.Queue,
		Payload:    r.Payload,
		Exception:  r.Exception,
		FailedAt:   time.Unix(r.FailedAt, 0),
	}
}
