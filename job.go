package docqueue

import (
	"bytes"
	"context"
	"time"
)

// Job is an immutable snapshot of a claimed job record. It is not a live
// cursor: acknowledging, releasing or failing the job goes back through the
// Client that produced it.
type Job struct {
	client *Client
	rec    jobRecord
}

func newJob(client *Client, rec jobRecord) *Job {
	rec.Payload = bytes.Clone(rec.Payload)
	if rec.ReservedAt != nil {
		at := *rec.ReservedAt
		rec.ReservedAt = &at
	}
	return &Job{client: client, rec: rec}
}

// ID returns the hex form of the store-assigned identifier.
func (j *Job) ID() string {
	return j.rec.ID.Hex()
}

// Queue returns the logical queue the job belongs to.
func (j *Job) Queue() string {
	return j.rec.Queue
}

// Payload returns a copy of the opaque job payload.
func (j *Job) Payload() []byte {
	return bytes.Clone(j.rec.Payload)
}

// Attempts is the number of claims ever made on the record, including the
// one that produced this snapshot.
func (j *Job) Attempts() int {
	return int(j.rec.Attempts)
}

// IsReserved reports the reserved flag as it was at claim time.
func (j *Job) IsReserved() bool {
	return j.rec.Reserved == reserved
}

// ReservedAt returns the reservation time, or the zero time when the record
// was not reserved.
func (j *Job) ReservedAt() time.Time {
	if j.rec.ReservedAt == nil {
		return time.Time{}
	}
	return time.Unix(*j.rec.ReservedAt, 0)
}

func (j *Job) AvailableAt() time.Time {
	return time.Unix(j.rec.AvailableAt, 0)
}

func (j *Job) CreatedAt() time.Time {
	return time.Unix(j.rec.CreatedAt, 0)
}

// Delete removes the job from its queue.
func (j *Job) Delete(ctx context.Context) error {
	_, err := j.client.Delete(ctx, j.rec.Queue, j.ID())
	return err
}

// Release makes the job claimable again after delay.
func (j *Job) Release(ctx context.Context, delay time.Duration) error {
	return j.client.Release(ctx, j.rec.Queue, j, delay)
}

// DeleteAndRelease ends this attempt and makes the job claimable again after
// delay, provided the reservation is still the one this snapshot was taken from.
func (j *Job) DeleteAndRelease(ctx context.Context, delay time.Duration) error {
	return j.client.DeleteAndRelease(ctx, j.rec.Queue, j, delay)
}

// Claim is the outcome of Pop: either a claimed Job or nothing available.
// The zero Claim is empty.
type Claim struct {
	job *Job
}

// Empty reports whether no job was available.
func (c Claim) Empty() bool {
	return c.job == nil
}

// Job returns the claimed job and true, or nil and false for an empty claim.
func (c Claim) Job() (*Job, bool) {
	return c.job, c.job != nil
}
