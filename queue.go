// Package docqueue is a job queue stored as documents in a shared collection.
//
// Any number of independent worker processes may poll the same collection.
// There is no broker: the only mutual exclusion is the store's atomic
// find-and-modify, which flips exactly one claimable document to reserved per
// successful Pop.
//
// # Delivery
//
// Jobs are delivered at-least-once. A reservation is honoured for the
// configured lease; after that the next Pop on the queue sweeps it back to
// claimable, whether or not the original worker is still running. Consumers
// must be idempotent or use Job.Attempts to detect redelivery.
//
// # Ordering
//
// Pop prefers the claimable job with the smallest available_at. Under
// concurrent pollers this is best-effort FIFO only.
package docqueue

import (
	"context"
	"time"
)

// Queue is the producer/consumer surface of the job queue.
// Empty queue names resolve to the configured default queue.
type Queue interface {
	// Push adds a job to the queue and returns its ID.
	Push(ctx context.Context, queueName string, payload []byte, opts ...PushOption) (string, error)

	// Pop sweeps expired reservations and atomically claims the next
	// available job. It never blocks waiting for work.
	Pop(ctx context.Context, queueName string) (Claim, error)

	// Release makes a claimed job claimable again after delay.
	Release(ctx context.Context, queueName string, job *Job, delay time.Duration) error

	// Delete removes a job by ID and returns the number of records removed.
	// Deleting an unknown ID is not an error.
	Delete(ctx context.Context, queueName string, jobID string) (int64, error)

	// DeleteAndRelease ends the current attempt and makes the job claimable
	// again after delay without handing it to anyone in the meantime.
	DeleteAndRelease(ctx context.Context, queueName string, job *Job, delay time.Duration) error
}

// Pusher is the subset of Queue needed to produce jobs.
type Pusher interface {
	Push(ctx context.Context, queueName string, payload []byte, opts ...PushOption) (string, error)
}
