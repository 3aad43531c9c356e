// Package value implements the tagged-union scalar that flows through the
// codec, the tag cache, history, and the alarm evaluator. Tag values arrive
// as dynamically typed JSON over the HTTP API and as raw register/bit arrays
// off the wire — a single Go type has to represent both without resorting
// to bare `any` and type-switching at every call site.
package value

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind identifies which branch of Value is populated.
type Kind int

const (
	KindBool Kind = iota
	KindI64
	KindU64
	KindF64
	KindStr
	KindVec
)

// Value is a closed tagged union over the scalar types a Tag can hold.
// Exactly one field is meaningful, selected by Kind; Vec holds element
// Values for multi-register reads (read_amount > 1).
type Value struct {
	Kind Kind
	B    bool
	I    int64
	U    uint64
	F    float64
	S    string
	Vec  []Value
}

func Bool(b bool) Value       { return Value{Kind: KindBool, B: b} }
func I64(i int64) Value       { return Value{Kind: KindI64, I: i} }
func U64(u uint64) Value      { return Value{Kind: KindU64, U: u} }
func F64(f float64) Value     { return Value{Kind: KindF64, F: f} }
func Str(s string) Value      { return Value{Kind: KindStr, S: s} }
func VecOf(vs ...Value) Value { return Value{Kind: KindVec, Vec: vs} }

// AsFloat returns the value's numeric projection for ordered comparisons.
// Bool projects to 0/1; Str and Vec have no numeric projection.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindBool:
		if v.B {
			return 1, true
		}
		return 0, true
	case KindI64:
		return float64(v.I), true
	case KindU64:
		return float64(v.U), true
	case KindF64:
		return v.F, true
	default:
		return 0, false
	}
}

// Equal reports whether two values represent the same scalar, comparing
// across the numeric kinds (I64/U64/F64) by numeric value rather than by
// Kind identity, since a decoded int32 and a JSON trigger_value of 10.0
// must compare equal.
func Equal(a, b Value) bool {
	if a.Kind == KindStr && b.Kind == KindStr {
		return a.S == b.S
	}
	if a.Kind == KindBool && b.Kind == KindBool {
		return a.B == b.B
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if aok && bok {
		return af == bf
	}
	if a.Kind == KindVec && b.Kind == KindVec {
		if len(a.Vec) != len(b.Vec) {
			return false
		}
		for i := range a.Vec {
			if !Equal(a.Vec[i], b.Vec[i]) {
				return false
			}
		}
		return true
	}
	// Cross-type comparison (e.g. string vs number): never equal.
	return false
}

// Less reports a < b for ordered comparisons (greater_than/less_than alarm
// operators). Cross-type or non-orderable comparisons return (false, false)
// so the caller can treat the predicate as "not triggered" per spec.
func Less(a, b Value) (result bool, orderable bool) {
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if !aok || !bok {
		return false, false
	}
	return af < bf, true
}

// Greater reports a > b, same orderability rules as Less.
func Greater(a, b Value) (result bool, orderable bool) {
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if !aok || !bok {
		return false, false
	}
	return af > bf, true
}

// MarshalJSON renders Value the way a dynamic JSON scalar would look to an
// HTTP client: a bare bool/number/string, or an array for Vec.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.B)
	case KindI64:
		return json.Marshal(v.I)
	case KindU64:
		return json.Marshal(v.U)
	case KindF64:
		if math.IsNaN(v.F) || math.IsInf(v.F, 0) {
			return json.Marshal(nil)
		}
		return json.Marshal(v.F)
	case KindStr:
		return json.Marshal(v.S)
	case KindVec:
		return json.Marshal(v.Vec)
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON accepts a bare JSON scalar or array and classifies it into
// the nearest Value kind: whole numbers become I64 (or U64 if they overflow
// int64), fractional numbers become F64.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny classifies a decoded JSON value (bool/float64/string/[]any/nil)
// into a Value. Used both by UnmarshalJSON and by call sites that already
// hold a json.Unmarshal'd `any` (e.g. AlarmConfig.TriggerValue).
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Value{Kind: KindStr, S: ""}
	case bool:
		return Bool(t)
	case float64:
		if t == math.Trunc(t) && t >= math.MinInt64 && t < math.MaxInt64 {
			return I64(int64(t))
		}
		if t == math.Trunc(t) && t >= 0 && t < math.MaxUint64 {
			return U64(uint64(t))
		}
		return F64(t)
	case string:
		return Str(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromAny(e)
		}
		return VecOf(vs...)
	default:
		return Str(fmt.Sprintf("%v", t))
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindI64:
		return fmt.Sprintf("%d", v.I)
	case KindU64:
		return fmt.Sprintf("%d", v.U)
	case KindF64:
		return fmt.Sprintf("%g", v.F)
	case KindStr:
		return v.S
	case KindVec:
		return fmt.Sprintf("%v", v.Vec)
	default:
		return ""
	}
}
