package docqueue

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNoDocuments is returned by Collection.FindOneAndUpdate when no document
// matches the filter.
var ErrNoDocuments = errors.New("docqueue: no documents in result")

// Collection is the narrow document-store contract the queue engine needs.
//
// Filters and updates use the MongoDB query language restricted to top-level
// fields: implicit equality and $eq, $ne, $lt, $lte, $gt, $gte, $in, $exists in
// filters; $set, $unset and $inc in updates. Implementations must apply
// FindOneAndUpdate atomically: for a given document, at most one concurrent
// caller may observe a successful match.
type Collection interface {
	// InsertOne stores doc and returns its identifier. A missing _id is
	// assigned by the store.
	InsertOne(ctx context.Context, doc any) (primitive.ObjectID, error)

	// Find returns every document matching filter.
	Find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.Raw, error)

	// FindOneAndUpdate picks the first document matching filter in sort order,
	// applies update and returns the post-update document. It returns
	// ErrNoDocuments when nothing matches.
	FindOneAndUpdate(ctx context.Context, filter, update bson.M, sort bson.D) (bson.Raw, error)

	// UpdateMany applies update to every matching document and returns the
	// number of documents matched.
	UpdateMany(ctx context.Context, filter, update bson.M) (int64, error)

	// DeleteMany removes every matching document and returns the number removed.
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)

	// CountDocuments returns the number of matching documents.
	CountDocuments(ctx context.Context, filter bson.M) (int64, error)
}

// FindOptions controls ordering and paging for Collection.Find.
type FindOptions struct {
	Sort  bson.D
	Skip  int64
	Limit int64
}

// Database hands out named collections of one store connection.
type Database interface {
	Collection(name string) Collection
}
