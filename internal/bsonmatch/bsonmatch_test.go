package bsonmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMatchClaimFilter(t *testing.T) {
	filter := bson.M{
		"queue":        "default",
		"reserved":     bson.M{"$ne": 1},
		"available_at": bson.M{"$lte": int64(100)},
	}

	cases := []struct {
		name string
		doc  bson.M
		want bool
	}{
		{"claimable", bson.M{"queue": "default", "reserved": int32(0), "available_at": int64(100)}, true},
		{"reserved", bson.M{"queue": "default", "reserved": int32(1), "available_at": int64(50)}, false},
		{"missing reserved flag", bson.M{"queue": "default", "available_at": int32(10)}, true},
		{"not yet available", bson.M{"queue": "default", "reserved": int32(0), "available_at": int64(101)}, false},
		{"other queue", bson.M{"queue": "emails", "reserved": int32(0), "available_at": int64(1)}, false},
		{"available_at wrong type", bson.M{"queue": "default", "reserved": int32(0), "available_at": "1"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Match(tc.doc, filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchNullSemantics(t *testing.T) {
	filter := bson.M{"reserved_at": bson.M{"$ne": nil, "$lte": int64(10)}}

	ok, err := Match(bson.M{"reserved_at": nil}, filter)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Match(bson.M{}, filter)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Match(bson.M{"reserved_at": int64(10)}, filter)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match(bson.M{}, bson.M{"reserved_at": nil})
	require.NoError(t, err)
	assert.True(t, ok, "nil equality matches missing fields")
}

func TestMatchInAndExists(t *testing.T) {
	doc := bson.M{"queue": "high"}

	ok, err := Match(doc, bson.M{"queue": bson.M{"$in": bson.A{"low", "high"}}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match(doc, bson.M{"queue": bson.M{"$nin": []string{"high"}}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Match(doc, bson.M{"payload": bson.M{"$exists": false}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchRejectsUnsupported(t *testing.T) {
	_, err := Match(bson.M{}, bson.M{"$or": bson.A{}})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Match(bson.M{}, bson.M{"a": bson.M{"$regex": "x"}})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Match(bson.M{}, bson.M{"a.b": 1})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestApplySetIncUnset(t *testing.T) {
	doc := bson.M{"attempts": int32(2), "reserved": int32(0), "tmp": "x"}

	err := Apply(doc, bson.M{
		"$set":   bson.M{"reserved": 1, "reserved_at": int64(42)},
		"$inc":   bson.M{"attempts": 1},
		"$unset": bson.M{"tmp": ""},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), doc["attempts"])
	assert.Equal(t, 1, doc["reserved"])
	assert.Equal(t, int64(42), doc["reserved_at"])
	assert.NotContains(t, doc, "tmp")
}

func TestApplyIncMissingAndFloat(t *testing.T) {
	doc := bson.M{"score": 1.5}
	require.NoError(t, Apply(doc, bson.M{"$inc": bson.M{"attempts": int64(1), "score": 1}}))
	assert.Equal(t, int64(1), doc["attempts"])
	assert.Equal(t, 2.5, doc["score"])
}

func TestApplyRejectsIDAndReplacement(t *testing.T) {
	err := Apply(bson.M{}, bson.M{"$set": bson.M{"_id": primitive.NewObjectID()}})
	assert.ErrorIs(t, err, ErrUnsupported)

	err = Apply(bson.M{}, bson.M{"queue": "x"})
	assert.ErrorIs(t, err, ErrUnsupported)

	err = Apply(bson.M{"q": "s"}, bson.M{"$inc": bson.M{"q": 1}})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSelectSortsAndPages(t *testing.T) {
	docs := []bson.M{
		{"n": int32(3), "q": "a"},
		{"n": int64(1), "q": "a"},
		{"n": int32(2), "q": "b"},
		{"n": int32(1), "q": "a"},
	}

	idx, err := Select(docs, bson.M{"q": "a"}, bson.D{{Key: "n", Value: 1}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 0}, idx, "ties keep insertion order")

	idx, err = Select(docs, bson.M{}, bson.D{{Key: "n", Value: -1}}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, idx)

	idx, err = Select(docs, bson.M{}, nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, idx)

	_, err = Select(docs, bson.M{}, bson.D{{Key: "n", Value: 0}}, 0, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCompareOrdersByClass(t *testing.T) {
	oidA := primitive.NewObjectID()
	oidB := primitive.NewObjectID()

	assert.Negative(t, Compare(nil, 0))
	assert.Negative(t, Compare(1, "a"))
	assert.Zero(t, Compare(int32(7), 7.0))
	assert.Negative(t, Compare(oidA, oidB))
	assert.Negative(t, Compare(false, true))
	assert.True(t, Equal(int64(5), int32(5)))
	assert.False(t, Equal("5", 5))
}
