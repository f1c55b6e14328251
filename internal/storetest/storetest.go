// Package storetest is a conformance suite for docqueue.Collection
// implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mhpenta/docqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type item struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Queue    string             `bson:"queue"`
	Rank     int64              `bson:"rank"`
	Reserved int32              `bson:"reserved"`
	Attempts int64              `bson:"attempts"`
}

// Run exercises newCollection against the Collection contract. Each subtest
// gets a fresh, empty collection.
func Run(t *testing.T, newCollection func(t *testing.T) docqueue.Collection) {
	t.Run("InsertAssignsID", func(t *testing.T) {
		c := newCollection(t)
		ctx := context.Background()

		id, err := c.InsertOne(ctx, item{Queue: "q"})
		require.NoError(t, err)
		assert.False(t, id.IsZero())

		docs, err := c.Find(ctx, bson.M{"_id": id}, docqueue.FindOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "q", docs[0].Lookup("queue").StringValue())
	})

	t.Run("InsertKeepsExplicitID", func(t *testing.T) {
		c := newCollection(t)
		ctx := context.Background()

		want := primitive.NewObjectID()
		got, err := c.InsertOne(ctx, item{ID: want, Queue: "q"})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("FindSortSkipLimit", func(t *testing.T) {
		c := newCollection(t)
		ctx := context.Background()

		for _, rank := range []int64{3, 1, 2, 5, 4} {
			_, err := c.InsertOne(ctx, item{Queue: "q", Rank: rank})
			require.NoError(t, err)
		}
		_, err := c.InsertOne(ctx, item{Queue: "other", Rank: 0})
		require.NoError(t, err)

		docs, err := c.Find(ctx, bson.M{"queue": "q"}, docqueue.FindOptions{
			Sort:  bson.D{{Key: "rank", Value: -1}},
			Skip:  1,
			Limit: 3,
		})
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, []int64{4, 3, 2}, ranks(t, docs))
	})

	t.Run("FindOneAndUpdateReturnsPostImage", func(t *testing.T) {
		c := newCollection(t)
		ctx := context.Background()

		_, err := c.InsertOne(ctx, item{Queue: "q", Rank: 2})
		require.NoError(t, err)
		first, err := c.InsertOne(ctx, item{Queue: "q", Rank: 1})
		require.NoError(t, err)

		raw, err := c.FindOneAndUpdate(ctx,
			bson.M{"queue": "q", "reserved": bson.M{"$ne": 1}},
			bson.M{"$set": bson.M{"reserved": 1}, "$inc": bson.M{"attempts": 1}},
			bson.D{{Key: "rank", Value: 1}},
		)
		require.NoError(t, err)

		var got item
		require.NoError(t, bson.Unmarshal(raw, &got))
		assert.Equal(t, first, got.ID)
		assert.Equal(t, int32(1), got.Reserved)
		assert.Equal(t, int64(1), got.Attempts)
	})

	t.Run("FindOneAndUpdateNoMatch", func(t *testing.T) {
		c := newCollection(t)

		_, err := c.FindOneAndUpdate(context.Background(),
			bson.M{"queue": "missing"},
			bson.M{"$set": bson.M{"reserved": 1}},
			nil,
		)
		assert.ErrorIs(t, err, docqueue.ErrNoDocuments)
	})

	t.Run("UpdateManyCountsMatches", func(t *testing.T) {
		c := newCollection(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := c.InsertOne(ctx, item{Queue: "q", Reserved: 1})
			require.NoError(t, err)
		}
		_, err := c.InsertOne(ctx, item{Queue: "q", Reserved: 0})
		require.NoError(t, err)

		n, err := c.UpdateMany(ctx, bson.M{"reserved": 1}, bson.M{"$set": bson.M{"reserved": 0}})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		left, err := c.CountDocuments(ctx, bson.M{"reserved": 1})
		require.NoError(t, err)
		assert.Zero(t, left)
	})

	t.Run("DeleteManyIsIdempotent", func(t *testing.T) {
		c := newCollection(t)
		ctx := context.Background()

		id, err := c.InsertOne(ctx, item{Queue: "q"})
		require.NoError(t, err)

		n, err := c.DeleteMany(ctx, bson.M{"_id": id})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = c.DeleteMany(ctx, bson.M{"_id": id})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ConcurrentFindOneAndUpdateIsExclusive", func(t *testing.T) {
		c := newCollection(t)
		ctx := context.Background()

		const records, pollers = 5, 20
		for i := 0; i < records; i++ {
			_, err := c.InsertOne(ctx, item{Queue: "q", Rank: int64(i)})
			require.NoError(t, err)
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed = make(map[primitive.ObjectID]int)
			errs    []error
		)
		for i := 0; i < pollers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				raw, err := c.FindOneAndUpdate(ctx,
					bson.M{"queue": "q", "reserved": bson.M{"$ne": 1}},
					bson.M{"$set": bson.M{"reserved": 1}},
					bson.D{{Key: "rank", Value: 1}},
				)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if !errors.Is(err, docqueue.ErrNoDocuments) {
						errs = append(errs, err)
					}
					return
				}
				var got item
				if err := bson.Unmarshal(raw, &got); err != nil {
					errs = append(errs, err)
					return
				}
				claimed[got.ID]++
			}()
		}
		wg.Wait()

		require.Empty(t, errs)
		assert.Len(t, claimed, records)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "record %s claimed %d times", id.Hex(), n)
		}
	})
}

func ranks(t *testing.T, docs []bson.Raw) []int64 {
	t.Helper()
	out := make([]int64, 0, len(docs))
	for _, raw := range docs {
		var it item
		require.NoError(t, bson.Unmarshal(raw, &it))
		out = append(out, it.Rank)
	}
	return out
}
