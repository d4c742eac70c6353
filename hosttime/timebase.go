package hosttime

import (
	"math"
	"math/bits"
)

// Timebase describes a platform tick in nanoseconds as Numer/Denom, the way
// mach_timebase_info does. Nanoseconds is the identity timebase.
type Timebase struct {
	Numer uint32
	Denom uint32
}

var Nanoseconds = Timebase{Numer: 1, Denom: 1}

// ToNanos converts ticks to nanoseconds with a 128-bit intermediate product.
// Results that do not fit in 64 bits saturate.
func (tb Timebase) ToNanos(ticks uint64) uint64 {
	return mulDiv(ticks, uint64(tb.Numer), uint64(tb.Denom))
}

// FromNanos converts nanoseconds to ticks.
func (tb Timebase) FromNanos(ns uint64) uint64 {
	return mulDiv(ns, uint64(tb.Denom), uint64(tb.Numer))
}

func mulDiv(v, mul, div uint64) uint64 {
	if div == 0 || mul == div {
		return v
	}
	hi, lo := bits.Mul64(v, mul)
	if hi >= div {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, div)
	return q
}

// AddSigned adds a signed nanosecond delta to t, saturating at 0 and
// MaxUint64 instead of wrapping.
func AddSigned(t uint64, d int64) uint64 {
	if d >= 0 {
		sum, carry := bits.Add64(t, uint64(d), 0)
		if carry != 0 {
			return math.MaxUint64
		}
		return sum
	}
	neg := uint64(-(d + 1)) + 1 // |d| without overflowing on MinInt64
	if neg > t {
		return 0
	}
	return t - neg
}

// Diff returns a − b as a signed delta, saturating at the int64 range.
func Diff(a, b uint64) int64 {
	if a >= b {
		d := a - b
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := b - a
	if d > uint64(math.MaxInt64)+1 {
		return math.MinInt64
	}
	return -int64(d-1) - 1
}

// NanosToSamples converts a nanosecond delta to a sample count at the given
// rate, rounded to the nearest sample and clamped to the int64 range.
func NanosToSamples(deltaNs int64, sampleRate float64) int64 {
	v := math.Round(float64(deltaNs) * sampleRate / 1e9)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// SamplesToNanos is the inverse of NanosToSamples, truncated.
func SamplesToNanos(samples int64, sampleRate float64) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(float64(samples) * 1e9 / sampleRate)
}
