package main

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Stats accumulates request outcomes across workers.
type Stats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	statuses  map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		statuses:  make(map[int]int64),
	}
}

// Record counts one request. Transport failures carry err and no status.
func (s *Stats) Record(d time.Duration, status int, cacheHit bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.statuses[status]++
	s.mu.Unlock()
}

// Report prints the summary and returns the request count.
func (s *Stats) Report(w io.Writer, duration time.Duration) int64 {
	total := s.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", s.success.Load())
	fmt.Fprintf(w, "Errors:          %d\n", s.errors.Load())
	fmt.Fprintf(w, "Cache Hits:      %d\n", s.cacheHits.Load())
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(s.errors.Load())/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	statuses := maps.Clone(s.statuses)
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", sum/time.Duration(len(latencies)))
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(w, "P%-2.0f:    %s\n", p, percentile(latencies, p))
		}
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	for _, code := range slices.Sorted(maps.Keys(statuses)) {
		fmt.Fprintf(w, "  %d: %d\n", code, statuses[code])
	}
	return total
}

// percentile uses the nearest-rank method on sorted latencies.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
