package clocksync

import (
	"sort"

	"github.com/pkg/errors"

	"go-syncstart/hosttime"
)

// estimator collects beacon samples for one connection. Not safe for
// concurrent use; the engine guards it.
type estimator struct {
	want          int
	outlierFactor float64
	samples       []ClockSample
}

func newEstimator(want int, outlierFactor float64) *estimator {
	if want < 1 {
		want = 1
	}
	return &estimator{
		want:          want,
		outlierFactor: outlierFactor,
		samples:       make([]ClockSample, 0, want),
	}
}

// add records a reply. slaveSend and receipt are local times, masterReply
// is the master's clock when it answered.
func (e *estimator) add(slaveSend, receipt, masterReply uint64) ClockSample {
	rtt := hosttime.Diff(receipt, slaveSend)
	if rtt < 0 {
		rtt = 0
	}
	s := ClockSample{
		LocalReceipt: receipt,
		RemoteTime:   masterReply,
		Latency:      rtt / 2,
		RoundTrip:    rtt,
	}
	e.samples = append(e.samples, s)
	return s
}

func (e *estimator) done() bool {
	return len(e.samples) >= e.want
}

// finalize picks the offset from the tightest round trip and keeps the
// largest one-way latency as the safety margin. With three or more samples,
// round trips longer than outlierFactor times the median are dropped first.
func (e *estimator) finalize() (ClockOffset, error) {
	if len(e.samples) == 0 {
		return ClockOffset{}, errors.New("no clock samples")
	}
	kept := e.samples
	if e.outlierFactor > 0 && len(kept) >= 3 {
		rtts := make([]int64, len(kept))
		for i, s := range kept {
			rtts[i] = s.RoundTrip
		}
		sort.Slice(rtts, func(i, j int) bool { return rtts[i] < rtts[j] })
		limit := float64(rtts[len(rtts)/2]) * e.outlierFactor
		filtered := make([]ClockSample, 0, len(kept))
		for _, s := range kept {
			if float64(s.RoundTrip) <= limit {
				filtered = append(filtered, s)
			}
		}
		if len(filtered) > 0 {
			kept = filtered
		}
	}

	best := kept[0]
	worst := int64(0)
	for _, s := range kept {
		if s.RoundTrip < best.RoundTrip {
			best = s
		}
		if s.Latency > worst {
			worst = s.Latency
		}
	}
	return ClockOffset{
		Offset:           best.Offset(),
		WorstCaseLatency: worst,
		Samples:          len(kept),
	}, nil
}

func (e *estimator) reset() {
	e.samples = e.samples[:0]
}
