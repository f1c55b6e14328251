// Package bsonmatch evaluates the subset of the MongoDB query and update
// language used by the queue engine against decoded documents. It backs the
// stores that keep documents outside of MongoDB.
package bsonmatch

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Comparison classes in BSON sort order. Values of different classes never
// satisfy a range operator; they only order by class.
const (
	classNull = iota + 1
	classNumber
	classString
	classObject
	classArray
	classBinary
	classObjectID
	classBool
	classDate
	classOther
)

func classOf(v any) int {
	switch v.(type) {
	case nil, primitive.Undefined, primitive.Null:
		return classNull
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return classNumber
	case string, primitive.Symbol:
		return classString
	case primitive.M, map[string]any, primitive.D:
		return classObject
	case primitive.A, []any:
		return classArray
	case []byte, primitive.Binary:
		return classBinary
	case primitive.ObjectID:
		return classObjectID
	case bool:
		return classBool
	case primitive.DateTime, time.Time:
		return classDate
	default:
		return classOther
	}
}

// Compare orders a and b the way MongoDB sorts mixed values: first by type
// class, then by value within the class.
func Compare(a, b any) int {
	ca, cb := classOf(a), classOf(b)
	if ca != cb {
		return ca - cb
	}

	switch ca {
	case classNull:
		return 0
	case classNumber:
		return compareNumbers(a, b)
	case classString:
		return strings.Compare(toString(a), toString(b))
	case classBinary:
		return bytes.Compare(toBytes(a), toBytes(b))
	case classObjectID:
		x, y := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(x[:], y[:])
	case classBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case classDate:
		return compareInt64(toMillis(a), toMillis(b))
	default:
		if reflect.DeepEqual(a, b) {
			return 0
		}
		return 1
	}
}

// Equal reports whether a and b are the same value. Numbers compare by value
// across integer and float types.
func Equal(a, b any) bool {
	if classOf(a) != classOf(b) {
		return false
	}
	return Compare(a, b) == 0
}

func compareNumbers(a, b any) int {
	ai, aInt := toInt64(a)
	bi, bInt := toInt64(b)
	if aInt && bInt {
		return compareInt64(ai, bi)
	}
	af, bf := toFloat64(a), toFloat64(b)
	switch {
	case math.IsNaN(af) && math.IsNaN(bf):
		return 0
	case math.IsNaN(af) || af < bf:
		return -1
	case math.IsNaN(bf) || af > bf:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) float64 {
	if i, ok := toInt64(v); ok {
		return float64(i)
	}
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return math.NaN()
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case primitive.Symbol:
		return string(s)
	default:
		return ""
	}
}

func toBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case primitive.Binary:
		return b.Data
	default:
		return nil
	}
}

func toMillis(v any) int64 {
	switch t := v.(type) {
	case primitive.DateTime:
		return int64(t)
	case time.Time:
		return t.UnixMilli()
	default:
		return 0
	}
}
