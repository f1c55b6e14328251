package docqueue

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Field names of the persisted job and failed-job documents.
const (
	fieldID          = "_id"
	fieldQueue       = "queue"
	fieldPayload     = "payload"
	fieldAttempts    = "attempts"
	fieldReserved    = "reserved"
	fieldReservedAt  = "reserved_at"
	fieldAvailableAt = "available_at"
	fieldCreatedAt   = "created_at"

	fieldConnection = "connection"
	fieldException  = "exception"
	fieldFailedAt   = "failed_at"
)

const (
	notReserved = 0
	reserved    = 1
)

// jobRecord is the stored layout of a queued job. Timestamps are epoch seconds.
type jobRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Queue       string             `bson:"queue"`
	Payload     []byte             `bson:"payload"`
	Attempts    int64              `bson:"attempts"`
	Reserved    int32              `bson:"reserved"`
	ReservedAt  *int64             `bson:"reserved_at"`
	AvailableAt int64              `bson:"available_at"`
	CreatedAt   int64              `bson:"created_at"`
}

var jobRequiredFields = []string{
	fieldID, fieldQueue, fieldPayload, fieldAttempts,
	fieldReserved, fieldAvailableAt, fieldCreatedAt,
}

// failedRecord is the stored layout of an archived failure.
type failedRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Connection string             `bson:"connection"`
	Queue      string             `bson:"queue"`
	Payload    []byte             `bson:"payload"`
	Exception  string             `bson:"exception"`
	FailedAt   int64              `bson:"failed_at"`
}

var failedRequiredFields = []string{
	fieldID, fieldConnection, fieldQueue, fieldPayload, fieldException, fieldFailedAt,
}

func decodeJobRecord(raw bson.Raw) (jobRecord, error) {
	var rec jobRecord
	if err := decodeStrict(raw, jobRequiredFields, &rec); err != nil {
		return jobRecord{}, err
	}
	return rec, nil
}

func decodeFailedRecord(raw bson.Raw) (failedRecord, error) {
	var rec failedRecord
	if err := decodeStrict(raw, failedRequiredFields, &rec); err != nil {
		return failedRecord{}, err
	}
	return rec, nil
}

// decodeStrict refuses documents that lack any of the required fields instead
// of letting them decode to zero values.
func decodeStrict(raw bson.Raw, required []string, out any) error {
	for _, key := range required {
		if _, err := raw.LookupErr(key); err != nil {
			return fmt.Errorf("%w: missing field %q", ErrMalformedRecord, key)
		}
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return nil
}
