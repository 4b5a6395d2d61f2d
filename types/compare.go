package types

import "strings"

// typeOrder assigns a canonical cross-type ordering rank, shared by
// map key ordering and list sort/compare builtins. Previously these
// two call sites disagreed (map.go ranked by a hand-picked
// INT/OBJ/FLOAT/ERR/STR sequence, builtins/lists.go ranked by raw
// TypeCode ordinal) — Compare is now the single source of truth for
// both, closing the spec's "minor inconsistency" open question.
func typeOrder(v Value) int {
	switch v.(type) {
	case IntValue:
		return 0
	case ObjValue:
		return 1
	case FloatValue:
		return 2
	case ErrValue:
		return 3
	case StrValue:
		return 4
	case SymValue:
		return 5
	case ListValue:
		return 6
	case MapValue:
		return 7
	case BinValue:
		return 8
	case WaifValue:
		return 9
	case LambdaValue:
		return 10
	default:
		return 11
	}
}

// Compare imposes a total order over Var values. Within FloatValue,
// NaN is the well-defined maximum (greater than +Inf and every other
// float): this is the single ordering rule used by both map-key
// ordering (MapValue) and list sort()/compare() builtins.
func Compare(a, b Value) int {
	ao, bo := typeOrder(a), typeOrder(b)
	if ao != bo {
		return ao - bo
	}
	switch av := a.(type) {
	case IntValue:
		bv := b.(IntValue)
		switch {
		case av.Val < bv.Val:
			return -1
		case av.Val > bv.Val:
			return 1
		default:
			return 0
		}
	case ObjValue:
		bv := b.(ObjValue)
		switch {
		case av.id < bv.id:
			return -1
		case av.id > bv.id:
			return 1
		default:
			return 0
		}
	case FloatValue:
		bv := b.(FloatValue)
		return compareFloat(av.Val, bv.Val)
	case ErrValue:
		bv := b.(ErrValue)
		switch {
		case av.code < bv.code:
			return -1
		case av.code > bv.code:
			return 1
		default:
			return 0
		}
	case StrValue:
		bv := b.(StrValue)
		return strings.Compare(strings.ToLower(av.val), strings.ToLower(bv.val))
	case SymValue:
		bv := b.(SymValue)
		return strings.Compare(strings.ToLower(av.name), strings.ToLower(bv.name))
	case BinValue:
		bv := b.(BinValue)
		la, lb := len(av.data), len(bv.data)
		n := la
		if lb < n {
			n = lb
		}
		for i := 0; i < n; i++ {
			if av.data[i] != bv.data[i] {
				return int(av.data[i]) - int(bv.data[i])
			}
		}
		return la - lb
	case ListValue:
		bv := b.(ListValue)
		la, lb := av.Len(), bv.Len()
		n := la
		if lb < n {
			n = lb
		}
		for i := 0; i < n; i++ {
			if c := Compare(av.Get(i), bv.Get(i)); c != 0 {
				return c
			}
		}
		return la - lb
	default:
		// MapValue, WaifValue, LambdaValue have no natural ordering
		// below identity; treat as equal unless pointer-distinct.
		if a.Equal(b) {
			return 0
		}
		return strings.Compare(a.String(), b.String())
	}
}

// compareFloat totalizes float64 ordering with NaN as the maximum
// element (greater than +Inf), so NaN participates in sort without
// the "NaN never equal/less/greater" trap leaving it stuck in place.
func compareFloat(a, b float64) int {
	aNaN, bNaN := a != a, b != b
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
