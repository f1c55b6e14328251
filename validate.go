package docqueue

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrEmptyQueueName    = errors.New("docqueue: queue name must not be empty")
	ErrEmptyJobID        = errors.New("docqueue: job ID must not be empty")
	ErrInvalidJobID      = errors.New("docqueue: job ID is not a valid object ID")
	ErrNilPayload        = errors.New("docqueue: payload must not be nil")
	ErrNilJob            = errors.New("docqueue: job must not be nil")
	ErrEmptyCollection   = errors.New("docqueue: collection name must not be empty")
	ErrUnknownConnection = errors.New("docqueue: unknown connection")
	ErrMalformedRecord   = errors.New("docqueue: malformed record")
	ErrReservationLost   = errors.New("docqueue: reservation no longer held")
	ErrFailedJobNotFound = errors.New("docqueue: failed job not found")
)

// ValidatePush checks the arguments of a push.
func ValidatePush(queueName string, payload []byte) error {
	if strings.TrimSpace(queueName) == "" {
		return ErrEmptyQueueName
	}
	if payload == nil {
		return ErrNilPayload
	}
	return nil
}

func ValidateQueueName(queueName string) error {
	if strings.TrimSpace(queueName) == "" {
		return ErrEmptyQueueName
	}
	return nil
}

// ParseJobID converts the external string form of a job ID back to the
// store's native identifier.
func ParseJobID(jobID string) (primitive.ObjectID, error) {
	if strings.TrimSpace(jobID) == "" {
		return primitive.NilObjectID, ErrEmptyJobID
	}
	oid, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidJobID
	}
	return oid, nil
}
