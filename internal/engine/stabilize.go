package engine

import (
	"math"
	"sort"
	"time"
)

// sampleWindow retains a bounded sliding window of throughput samples,
// tracks per-tick rates for the stabilization heuristic, and resolves byte
// counts at configured window boundaries by linear interpolation between
// the two bracketing samples. Boundaries are resolved online so retention
// stays bounded regardless of phase length.
type sampleWindow struct {
	cfg   StabilizationConfig
	marks []byteMark

	samples []ThroughputSample
	rates   []float64

	consecutive int
	stable      bool

	last     ThroughputSample
	haveAny  bool
	produced int
}

type byteMark struct {
	at       time.Duration
	bytes    int64
	resolved bool
}

func newSampleWindow(cfg StabilizationConfig, marks []time.Duration) *sampleWindow {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultStabilization().Lookback
	}
	if cfg.Deltas <= 0 {
		cfg.Deltas = DefaultStabilization().Deltas
	}
	if cfg.StableTicks <= 0 {
		cfg.StableTicks = DefaultStabilization().StableTicks
	}
	sorted := make([]time.Duration, len(marks))
	copy(sorted, marks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	w := &sampleWindow{cfg: cfg}
	for _, at := range sorted {
		if at == 0 {
			w.marks = append(w.marks, byteMark{at: 0, resolved: true})
			continue
		}
		w.marks = append(w.marks, byteMark{at: at})
	}
	return w
}

// add records one aggregation point and returns the derived sample. The
// elapsed values must be strictly increasing.
func (w *sampleWindow) add(now time.Time, elapsed time.Duration, bytes int64) ThroughputSample {
	sample := ThroughputSample{Timestamp: now, Elapsed: elapsed, Bytes: bytes}

	if w.haveAny && elapsed > w.last.Elapsed {
		dt := (elapsed - w.last.Elapsed).Seconds()
		sample.InstantBps = float64(bytes-w.last.Bytes) * 8 / dt
		w.pushRate(sample.InstantBps)
	}
	w.resolveMarks(sample)

	w.samples = append(w.samples, sample)
	if len(w.samples) > w.cfg.Lookback {
		w.samples = w.samples[1:]
	}
	w.last = sample
	w.haveAny = true
	w.produced++
	return sample
}

// Stable reports whether the coefficient of variation across recent rates
// has stayed under the threshold long enough. Once reached it latches.
func (w *sampleWindow) Stable() bool {
	return w.stable
}

// BytesAt returns the interpolated cumulative byte count at the given
// boundary, if the phase has progressed past it.
func (w *sampleWindow) BytesAt(at time.Duration) (int64, bool) {
	for _, m := range w.marks {
		if m.at == at {
			return m.bytes, m.resolved
		}
	}
	return 0, false
}

// Len reports how many samples were produced over the whole phase, not
// just those retained.
func (w *sampleWindow) Len() int {
	return w.produced
}

func (w *sampleWindow) pushRate(bps float64) {
	w.rates = append(w.rates, bps)
	if len(w.rates) > w.cfg.Lookback {
		w.rates = w.rates[1:]
	}
	if len(w.rates) < w.cfg.Deltas {
		return
	}
	recent := w.rates[len(w.rates)-w.cfg.Deltas:]
	if coefVariation(recent) <= w.cfg.MaxCV {
		w.consecutive++
	} else {
		w.consecutive = 0
	}
	if w.consecutive >= w.cfg.StableTicks {
		w.stable = true
	}
}

func (w *sampleWindow) resolveMarks(sample ThroughputSample) {
	for i := range w.marks {
		m := &w.marks[i]
		if m.resolved || sample.Elapsed < m.at {
			continue
		}
		if !w.haveAny || sample.Elapsed == m.at {
			m.bytes = sample.Bytes
			m.resolved = true
			continue
		}
		m.bytes = interpolateBytes(w.last, sample, m.at)
		m.resolved = true
	}
}

func interpolateBytes(prev, cur ThroughputSample, at time.Duration) int64 {
	span := cur.Elapsed - prev.Elapsed
	if span <= 0 {
		return cur.Bytes
	}
	frac := float64(at-prev.Elapsed) / float64(span)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return prev.Bytes + int64(math.Round(frac*float64(cur.Bytes-prev.Bytes)))
}

func coefVariation(values []float64) float64 {
	if len(values) < 2 {
		return math.Inf(1)
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean <= 0 {
		return math.Inf(1)
	}
	var m2 float64
	for _, v := range values {
		d := v - mean
		m2 += d * d
	}
	stddev := math.Sqrt(m2 / float64(len(values)-1))
	return stddev / mean
}
