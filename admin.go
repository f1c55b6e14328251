package docqueue

import "context"

// Admin provides operational visibility and maintenance for a queue.
// Client implements both Queue and Admin.
type Admin interface {
	// Size returns the number of records in the queue, reserved or not.
	Size(ctx context.Context, queueName string) (int64, error)

	// CountReserved returns the number of in-flight records in the queue.
	CountReserved(ctx context.Context, queueName string) (int64, error)

	// ListJobs returns records ordered by available_at ASC.
	ListJobs(ctx context.Context, queueName string, limit, offset int) ([]*Job, error)

	// Clear deletes every record in the queue and returns the count removed.
	Clear(ctx context.Context, queueName string) (int64, error)

	// ReleaseExpired runs the lease sweep on demand and returns the number of
	// reservations reset.
	ReleaseExpired(ctx context.Context, queueName string) (int64, error)
}
