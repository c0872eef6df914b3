package latency

import (
	"math"
	"sort"
	"time"
)

// Stats summarizes one prober run. Failed probes are excluded from the
// duration figures and counted in Failures only.
type Stats struct {
	Min      time.Duration
	Max      time.Duration
	Avg      time.Duration
	Median   time.Duration
	Jitter   time.Duration
	Samples  int
	Failures int
}

func computeStats(rtts []time.Duration, failures int) *Stats {
	stats := &Stats{
		Samples:  len(rtts),
		Failures: failures,
	}
	if len(rtts) == 0 {
		return stats
	}

	sorted := make([]time.Duration, len(rtts))
	copy(sorted, rtts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	stats.Min = sorted[0]
	stats.Max = sorted[len(sorted)-1]
	stats.Median = median(sorted)

	var sum float64
	for _, rtt := range rtts {
		sum += float64(rtt)
	}
	mean := sum / float64(len(rtts))
	stats.Avg = time.Duration(mean)

	if len(rtts) > 1 {
		var m2 float64
		for _, rtt := range rtts {
			d := float64(rtt) - mean
			m2 += d * d
		}
		stats.Jitter = time.Duration(math.Sqrt(m2 / float64(len(rtts)-1)))
	}
	return stats
}

func median(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
