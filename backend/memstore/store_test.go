package memstore_test

import (
	"context"
	"testing"

	"github.com/mhpenta/docqueue"
	"github.com/mhpenta/docqueue/backend/memstore"
	"github.com/mhpenta/docqueue/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestCollectionConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docqueue.Collection {
		return memstore.NewCollection()
	})
}

func TestDatabaseReturnsSameCollection(t *testing.T) {
	db := memstore.NewDatabase()
	ctx := context.Background()

	_, err := db.Collection("jobs").InsertOne(ctx, bson.M{"queue": "q"})
	require.NoError(t, err)

	n, err := db.Collection("jobs").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = db.Collection("failed_jobs").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailedUpdateLeavesDocumentUntouched(t *testing.T) {
	c := memstore.NewCollection()
	ctx := context.Background()

	id, err := c.InsertOne(ctx, bson.M{"queue": "q", "attempts": "many"})
	require.NoError(t, err)

	_, err = c.UpdateMany(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"reserved": 1}, "$inc": bson.M{"attempts": 1}})
	require.Error(t, err)

	n, err := c.CountDocuments(ctx, bson.M{"reserved": 1})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCanceledContext(t *testing.T) {
	c := memstore.NewCollection()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.InsertOne(ctx, bson.M{"queue": "q"})
	assert.ErrorIs(t, err, context.Canceled)
}
