package bsonmatch

import (
	"fmt"
	"math"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Apply mutates doc with update. Supported operators are $set, $unset and
// $inc on top-level fields; _id may not be changed.
func Apply(doc bson.M, update bson.M) error {
	if len(update) == 0 {
		return fmt.Errorf("%w: empty update", ErrUnsupported)
	}
	for op, arg := range update {
		fields, ok := operatorArgs(arg)
		if !ok {
			return fmt.Errorf("%w: %s expects a document", ErrUnsupported, op)
		}
		for field, value := range fields {
			if field == "_id" {
				return fmt.Errorf("%w: _id is immutable", ErrUnsupported)
			}
			if strings.Contains(field, ".") || strings.HasPrefix(field, "$") {
				return fmt.Errorf("%w: field %q", ErrUnsupported, field)
			}
			if err := applyOne(doc, op, field, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyOne(doc bson.M, op, field string, value any) error {
	switch op {
	case "$set":
		doc[field] = value
	case "$unset":
		delete(doc, field)
	case "$inc":
		sum, err := increment(doc[field], value)
		if err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
		doc[field] = sum
	default:
		return fmt.Errorf("%w: update operator %s", ErrUnsupported, op)
	}
	return nil
}

// increment adds by to current. A missing field starts from zero; integer
// sums stay integers.
func increment(current, by any) (any, error) {
	if classOf(by) != classNumber {
		return nil, fmt.Errorf("%w: $inc by non-number", ErrUnsupported)
	}
	if current == nil {
		return by, nil
	}
	if classOf(current) != classNumber {
		return nil, fmt.Errorf("%w: $inc on non-number", ErrUnsupported)
	}

	a, aInt := toInt64(current)
	b, bInt := toInt64(by)
	if aInt && bInt {
		sum := a + b
		_, cur32 := current.(int32)
		if cur32 && sum >= math.MinInt32 && sum <= math.MaxInt32 {
			return int32(sum), nil
		}
		return sum, nil
	}
	return toFloat64(current) + toFloat64(by), nil
}

func operatorArgs(arg any) (map[string]any, bool) {
	switch a := arg.(type) {
	case bson.M:
		return a, true
	case map[string]any:
		return a, true
	case bson.D:
		return a.Map(), true
	default:
		return nil, false
	}
}
