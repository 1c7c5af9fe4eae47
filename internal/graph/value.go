package graph

import (
	"encoding/json"
	"math"
)

// ValueKind tags what a port carries.
type ValueKind uint8

const (
	KindUndefined ValueKind = iota
	KindNumber
	KindBool
)

// Value is the payload of one output port.
type Value struct {
	Kind ValueKind
	Num  float64
	Bool bool

	// series is the full history behind a numeric value, aligned with the
	// snapshot bars, so downstream indicators and crossovers can use it.
	series []float64
}

// Undefined is the zero Value.
var Undefined = Value{}

// Number wraps f; NaN and infinities become Undefined.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Undefined
	}
	return Value{Kind: KindNumber, Num: f}
}

// Boolean wraps b.
func Boolean(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

func seriesValue(series []float64) Value {
	if len(series) == 0 {
		return Undefined
	}
	v := Number(series[len(series)-1])
	if v.Kind == KindNumber {
		v.series = series
	}
	return v
}

// Defined reports whether v carries anything.
func (v Value) Defined() bool { return v.Kind != KindUndefined }

// Float returns the numeric payload.
func (v Value) Float() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// Truthy applies the strict boolean policy: only boolean true or the
// number exactly 1 count as true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num == 1
	}
	return false
}

// previous returns the value one bar earlier when history is available.
func (v Value) previous() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	if len(v.series) < 2 {
		// constants have no history and hold their value
		if v.series == nil {
			return v.Num, true
		}
		return 0, false
	}
	p := v.series[len(v.series)-2]
	if math.IsNaN(p) {
		return 0, false
	}
	return p, true
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	}
	return []byte("null"), nil
}

func (v Value) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
