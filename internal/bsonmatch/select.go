package bsonmatch

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// Select returns the indexes of the documents in docs that match filter,
// ordered by sortSpec and paged by skip/limit. Ties keep insertion order.
// A limit of zero means no limit.
func Select(docs []bson.M, filter bson.M, sortSpec bson.D, skip, limit int64) ([]int, error) {
	keys, err := sortKeys(sortSpec)
	if err != nil {
		return nil, err
	}

	var idx []int
	for i, doc := range docs {
		ok, err := Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			idx = append(idx, i)
		}
	}

	if len(keys) > 0 {
		sort.SliceStable(idx, func(a, b int) bool {
			return less(docs[idx[a]], docs[idx[b]], keys)
		})
	}

	if skip > 0 {
		if skip >= int64(len(idx)) {
			return nil, nil
		}
		idx = idx[skip:]
	}
	if limit > 0 && limit < int64(len(idx)) {
		idx = idx[:limit]
	}
	return idx, nil
}

type sortKey struct {
	field string
	desc  bool
}

func sortKeys(order bson.D) ([]sortKey, error) {
	keys := make([]sortKey, 0, len(order))
	for _, e := range order {
		dir, ok := toInt64(e.Value)
		if !ok || (dir != 1 && dir != -1) {
			return nil, fmt.Errorf("%w: sort direction for %q must be 1 or -1", ErrUnsupported, e.Key)
		}
		keys = append(keys, sortKey{field: e.Key, desc: dir == -1})
	}
	return keys, nil
}

func less(a, b bson.M, keys []sortKey) bool {
	for _, k := range keys {
		c := Compare(a[k.field], b[k.field])
		if c == 0 {
			continue
		}
		if k.desc {
			return c > 0
		}
		return c < 0
	}
	return false
}
