// Package indicators implements the technical indicators used by strategy
// graphs. Every series function returns a slice aligned with its input;
// entries that cannot be computed yet are NaN.
package indicators

import "math"

// Undefined marks an entry that has no value yet.
var Undefined = math.NaN()

// IsDefined reports whether v carries a value.
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

// Last returns the final element of values, or Undefined when empty.
func Last(values []float64) float64 {
	if len(values) == 0 {
		return Undefined
	}
	return values[len(values)-1]
}

func undefinedSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = Undefined
	}
	return out
}

func firstDefined(values []float64) int {
	for i, v := range values {
		if IsDefined(v) {
			return i
		}
	}
	return len(values)
}

// SMA is the simple moving average. Windows that contain an undefined
// entry are undefined.
func SMA(values []float64, period int) []float64 {
	out := undefinedSeries(len(values))
	if period <= 0 {
		return out
	}

	sum := 0.0
	missing := 0
	for i, v := range values {
		if IsDefined(v) {
			sum += v
		} else {
			missing++
		}
		if i >= period {
			old := values[i-period]
			if IsDefined(old) {
				sum -= old
			} else {
				missing--
			}
		}
		if i >= period-1 && missing == 0 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average seeded with the SMA of the first
// period values.
func EMA(values []float64, period int) []float64 {
	return emaFrom(values, period, firstDefined(values))
}

func emaFrom(values []float64, period, start int) []float64 {
	out := undefinedSeries(len(values))
	if period <= 0 || start+period > len(values) {
		return out
	}

	seed := 0.0
	for _, v := range values[start : start+period] {
		seed += v
	}
	prev := seed / float64(period)
	out[start+period-1] = prev

	k := 2.0 / float64(period+1)
	for i := start + period; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}
