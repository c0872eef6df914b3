package latency

import (
	"math"
	"sync"
	"time"
)

// Sampler collects RTT samples at a fixed rate on its own schedule. It is
// used for live latency under load, running alongside a transfer phase with
// its own connection.
type Sampler struct {
	rate int

	mu    sync.Mutex
	count int
	mean  float64
	m2    float64
	min   time.Duration
	max   time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSampler creates a sampler firing rate times per second.
func NewSampler(rate int) *Sampler {
	if rate <= 0 {
		rate = 1
	}
	return &Sampler{
		rate:   rate,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins sampling using the provided ping function. Errors and
// non-positive RTTs are skipped.
func (s *Sampler) Start(ping func() (time.Duration, error)) {
	interval := time.Second / time.Duration(s.rate)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(s.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				rtt, err := ping()
				if err != nil || rtt <= 0 {
					continue
				}
				s.add(rtt)
			}
		}
	}()
}

// Stop ends sampling and waits for the loop to exit.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

// Stats returns the statistics accumulated so far. Median is not tracked by
// the streaming accumulator and is reported as the mean.
func (s *Sampler) Stats() *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return &Stats{}
	}
	mean := time.Duration(s.mean)
	var stddev time.Duration
	if s.count > 1 {
		stddev = time.Duration(math.Sqrt(s.m2 / float64(s.count-1)))
	}
	return &Stats{
		Min:     s.min,
		Max:     s.max,
		Avg:     mean,
		Median:  mean,
		Jitter:  stddev,
		Samples: s.count,
	}
}

func (s *Sampler) add(rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || rtt < s.min {
		s.min = rtt
	}
	if s.count == 0 || rtt > s.max {
		s.max = rtt
	}
	value := float64(rtt)
	s.count++
	delta := value - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (value - s.mean)
}
