package configdict

import (
	"fmt"
	"math"
	"sort"
)

// Tuple is an ordered, immutable sequence of scalars. Accessors always hand
// out copies so callers cannot mutate a record through a returned tuple.
type Tuple []any

// Strings builds a Tuple of strings.
func Strings(values ...string) Tuple {
	out := make(Tuple, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Ints builds a Tuple of integers.
func Ints(values ...int) Tuple {
	out := make(Tuple, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (t Tuple) clone() Tuple {
	if t == nil {
		return Tuple{}
	}
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

type kind int

const (
	kindNull kind = iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindTuple
	kindDict
)

func (k kind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindBool:
		return "bool"
	case kindInt:
		return "int"
	case kindFloat:
		return "float"
	case kindString:
		return "string"
	case kindTuple:
		return "tuple"
	case kindDict:
		return "dict"
	default:
		return "unknown"
	}
}

// kindOf reports the kind of an already normalized, resolved value.
func kindOf(v any) kind {
	switch v.(type) {
	case bool:
		return kindBool
	case int:
		return kindInt
	case float64:
		return kindFloat
	case string:
		return kindString
	case Tuple:
		return kindTuple
	case *ConfigDict:
		return kindDict
	default:
		return kindNull
	}
}

// normalize converts v into one of the representations a record stores.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int, float64:
		return x, nil
	case int8:
		return int(x), nil
	case int16:
		return int(x), nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint8:
		return int(x), nil
	case uint16:
		return int(x), nil
	case uint32:
		return int(x), nil
	case float32:
		return float64(x), nil
	case Tuple:
		return normalizeTuple(x)
	case []any:
		return normalizeTuple(x)
	case []string:
		return Strings(x...), nil
	case []int:
		return Ints(x...), nil
	case []float64:
		out := make(Tuple, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, nil
	case *ConfigDict:
		if x == nil {
			return nil, fmt.Errorf("%w: nil *ConfigDict", ErrUnsupportedType)
		}
		return x.Clone(), nil
	case *Ref:
		if x == nil || x.root == nil {
			return nil, fmt.Errorf("%w: unbound reference", ErrUnsupportedType)
		}
		return x, nil
	case map[string]any:
		return fromMap(x)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func normalizeTuple(values []any) (Tuple, error) {
	out := make(Tuple, len(values))
	for i, v := range values {
		n, err := normalize(v)
		if err != nil {
			return nil, err
		}
		switch kindOf(n) {
		case kindTuple, kindDict:
			return nil, fmt.Errorf("%w: tuple element %d is a %s", ErrUnsupportedType, i, kindOf(n))
		}
		if _, ok := n.(*Ref); ok {
			return nil, fmt.Errorf("%w: tuple element %d is a reference", ErrUnsupportedType, i)
		}
		out[i] = n
	}
	return out, nil
}

func fromMap(m map[string]any) (*ConfigDict, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := newDict()
	for _, k := range keys {
		if err := out.setLocal(k, m[k]); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	return out, nil
}

// coerceNumber converts integral floats to int for int fields and ints to
// float for float fields. Floats outside the int range stay floats so the
// assignment fails the kind check. Anything else is returned unchanged.
func coerceNumber(current kind, next any) any {
	switch current {
	case kindFloat:
		if i, ok := next.(int); ok {
			return float64(i)
		}
	case kindInt:
		if f, ok := next.(float64); ok && f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int(f)
		}
	}
	return next
}
