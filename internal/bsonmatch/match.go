package bsonmatch

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrUnsupported is returned for operators and shapes outside the supported
// subset.
var ErrUnsupported = errors.New("bsonmatch: unsupported")

// Match reports whether doc satisfies filter. Supported: top-level field
// equality, $eq, $ne, $lt, $lte, $gt, $gte, $in, $nin and $exists.
func Match(doc bson.M, filter bson.M) (bool, error) {
	for field, cond := range filter {
		if strings.HasPrefix(field, "$") {
			return false, fmt.Errorf("%w: top-level operator %s", ErrUnsupported, field)
		}
		if strings.Contains(field, ".") {
			return false, fmt.Errorf("%w: dotted field %q", ErrUnsupported, field)
		}

		value, present := doc[field]
		ok, err := matchField(value, present, cond)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", field, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchField(value any, present bool, cond any) (bool, error) {
	ops, isOps := operatorDoc(cond)
	if !isOps {
		return matchEq(value, present, cond), nil
	}

	for _, op := range ops {
		ok, err := matchOperator(value, present, op.Key, op.Value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchOperator(value any, present bool, op string, target any) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(value, present, target), nil
	case "$ne":
		return !matchEq(value, present, target), nil
	case "$lt":
		return matchRange(value, present, target, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return matchRange(value, present, target, func(c int) bool { return c <= 0 }), nil
	case "$gt":
		return matchRange(value, present, target, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return matchRange(value, present, target, func(c int) bool { return c >= 0 }), nil
	case "$in":
		return matchIn(value, present, target)
	case "$nin":
		ok, err := matchIn(value, present, target)
		return !ok, err
	case "$exists":
		want, ok := target.(bool)
		if !ok {
			return false, fmt.Errorf("%w: $exists expects a bool", ErrUnsupported)
		}
		return present == want, nil
	default:
		return false, fmt.Errorf("%w: operator %s", ErrUnsupported, op)
	}
}

// matchEq treats a nil target as matching both null and missing fields.
func matchEq(value any, present bool, target any) bool {
	if classOf(target) == classNull {
		return !present || classOf(value) == classNull
	}
	return present && Equal(value, target)
}

func matchRange(value any, present bool, target any, accept func(int) bool) bool {
	if !present || classOf(value) != classOf(target) {
		return false
	}
	return accept(Compare(value, target))
}

func matchIn(value any, present bool, target any) (bool, error) {
	rv := reflect.ValueOf(target)
	if target == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false, fmt.Errorf("%w: $in/$nin expects an array", ErrUnsupported)
	}
	for i := 0; i < rv.Len(); i++ {
		if matchEq(value, present, rv.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

// operatorDoc returns cond as an ordered operator list when every key starts
// with '$'.
func operatorDoc(cond any) (bson.D, bool) {
	var d bson.D
	switch c := cond.(type) {
	case primitive.M:
		d = mapToD(c)
	case map[string]any:
		d = mapToD(c)
	case primitive.D:
		d = c
	default:
		return nil, false
	}
	if len(d) == 0 {
		return nil, false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return d, true
}

func mapToD(m map[string]any) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}
