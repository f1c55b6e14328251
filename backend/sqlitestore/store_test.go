package sqlitestore_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/mhpenta/docqueue"
	"github.com/mhpenta/docqueue/backend/sqlitestore"
	"github.com/mhpenta/docqueue/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func testSetup(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlitestore.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestCollectionConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docqueue.Collection {
		return sqlitestore.New(testSetup(t)).Collection("jobs")
	})
}

func TestCollectionsAreIsolated(t *testing.T) {
	d := sqlitestore.New(testSetup(t))
	ctx := context.Background()

	_, err := d.Collection("jobs").InsertOne(ctx, bson.M{"queue": "q"})
	require.NoError(t, err)

	n, err := d.Collection("failed_jobs").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = d.Collection("jobs").CountDocuments(ctx, bson.M{"queue": "q"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDuplicateIDRejected(t *testing.T) {
	c := sqlitestore.New(testSetup(t)).Collection("jobs")
	ctx := context.Background()

	id, err := c.InsertOne(ctx, bson.M{"queue": "q"})
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, bson.M{"_id": id, "queue": "q"})
	assert.Error(t, err)
}

func TestFailedUpdateRollsBack(t *testing.T) {
	db := testSetup(t)
	c := sqlitestore.New(db).Collection("jobs")
	ctx := context.Background()

	_, err := c.InsertOne(ctx, bson.M{"queue": "q", "attempts": int32(0)})
	require.NoError(t, err)
	_, err = c.InsertOne(ctx, bson.M{"queue": "q", "attempts": "bad"})
	require.NoError(t, err)

	_, err = c.UpdateMany(ctx, bson.M{"queue": "q"}, bson.M{"$inc": bson.M{"attempts": 1}})
	require.Error(t, err)

	n, err := c.CountDocuments(ctx, bson.M{"attempts": 1})
	require.NoError(t, err)
	assert.Zero(t, n, "the whole batch rolls back")
}

func TestCreateSchemaIsRepeatable(t *testing.T) {
	db := testSetup(t)
	require.NoError(t, sqlitestore.CreateSchema(context.Background(), db))
}

func TestQueueColumnFollowsDocument(t *testing.T) {
	db := testSetup(t)
	c := sqlitestore.New(db).Collection("jobs")
	ctx := context.Background()

	id, err := c.InsertOne(ctx, bson.M{"queue": "low", "n": int32(1)})
	require.NoError(t, err)
	_, err = c.InsertOne(ctx, bson.M{"queue": "high", "n": int32(2)})
	require.NoError(t, err)

	var queue string
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT queue FROM docqueue_documents WHERE id = ?", id.Hex()).Scan(&queue))
	assert.Equal(t, "low", queue)

	n, err := c.UpdateMany(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"queue": "high"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT queue FROM docqueue_documents WHERE id = ?", id.Hex()).Scan(&queue))
	assert.Equal(t, "high", queue)

	n, err = c.CountDocuments(ctx, bson.M{"queue": "high"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.CountDocuments(ctx, bson.M{"queue": "low"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNarrowedLoadKeepsFullFilter(t *testing.T) {
	c := sqlitestore.New(testSetup(t)).Collection("jobs")
	ctx := context.Background()

	id, err := c.InsertOne(ctx, bson.M{"queue": "q", "reserved": int32(1)})
	require.NoError(t, err)
	_, err = c.InsertOne(ctx, bson.M{"queue": "q", "reserved": int32(0)})
	require.NoError(t, err)

	_, err = c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "reserved": bson.M{"$ne": 1}},
		bson.M{"$set": bson.M{"reserved": 1}},
		nil,
	)
	assert.ErrorIs(t, err, docqueue.ErrNoDocuments)

	n, err := c.CountDocuments(ctx, bson.M{"queue": "q", "reserved": bson.M{"$ne": 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.CountDocuments(ctx, bson.M{"queue": bson.M{"$in": bson.A{"q"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
