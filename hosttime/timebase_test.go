package hosttime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimebaseConversion(t *testing.T) {
	// 125/3 is the classic Apple silicon timebase
	tb := Timebase{Numer: 125, Denom: 3}
	assert.Equal(t, uint64(125_000), tb.ToNanos(3_000))
	assert.Equal(t, uint64(3_000), tb.FromNanos(125_000))

	// product overflows 64 bits but the quotient does not
	big := uint64(1) << 62
	assert.Equal(t, big/3*125+(big%3)*125/3, tb.ToNanos(big))

	assert.Equal(t, uint64(math.MaxUint64), tb.ToNanos(math.MaxUint64))
	assert.Equal(t, uint64(42), Nanoseconds.ToNanos(42))
}

func TestAddSignedSaturates(t *testing.T) {
	assert.Equal(t, uint64(15), AddSigned(10, 5))
	assert.Equal(t, uint64(5), AddSigned(10, -5))
	assert.Equal(t, uint64(0), AddSigned(10, -50))
	assert.Equal(t, uint64(0), AddSigned(10, math.MinInt64))
	assert.Equal(t, uint64(math.MaxUint64), AddSigned(math.MaxUint64-1, 10))
}

func TestDiff(t *testing.T) {
	assert.Equal(t, int64(5), Diff(15, 10))
	assert.Equal(t, int64(-5), Diff(10, 15))
	assert.Equal(t, int64(math.MaxInt64), Diff(math.MaxUint64, 0))
	assert.Equal(t, int64(math.MinInt64), Diff(0, math.MaxUint64))
}

func TestAddSignedInvertsDiff(t *testing.T) {
	for _, pair := range [][2]uint64{{0, 0}, {1000, 10}, {10, 1000}, {1 << 40, 1 << 50}} {
		d := Diff(pair[0], pair[1])
		assert.Equal(t, pair[0], AddSigned(pair[1], d))
	}
}

func TestNanosToSamples(t *testing.T) {
	assert.Equal(t, int64(44100), NanosToSamples(int64(time.Second), 44100))
	// 10ms at 44.1k is 441 samples exactly
	assert.Equal(t, int64(441), NanosToSamples(int64(10*time.Millisecond), 44100))
	// half a sample rounds away from zero
	assert.Equal(t, int64(1), NanosToSamples(11338, 44100))
	assert.Equal(t, int64(-441), NanosToSamples(-int64(10*time.Millisecond), 44100))
	assert.Equal(t, int64(0), NanosToSamples(0, 44100))
}

func TestFakeClockAfterFunc(t *testing.T) {
	c := Fake(1000)
	var order []int
	c.AfterFunc(20*time.Nanosecond, func() { order = append(order, 2) })
	c.AfterFunc(10*time.Nanosecond, func() { order = append(order, 1) })
	stopped := c.AfterFunc(15*time.Nanosecond, func() { order = append(order, 99) })
	require.True(t, stopped.Stop())
	require.False(t, stopped.Stop())
	assert.Equal(t, 2, c.Pending())

	c.Advance(5 * time.Nanosecond)
	assert.Empty(t, order)

	c.Advance(20 * time.Nanosecond)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, uint64(1025), c.Now())
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClockChainedTimers(t *testing.T) {
	c := Fake(1)
	fired := 0
	c.AfterFunc(time.Nanosecond, func() {
		fired++
		c.AfterFunc(0, func() { fired++ })
	})
	c.Advance(time.Nanosecond)
	assert.Equal(t, 2, fired)
}

func TestRealClockNeverZero(t *testing.T) {
	c := Real()
	a := c.Now()
	b := c.Now()
	assert.NotZero(t, a)
	assert.GreaterOrEqual(t, b, a)
}
