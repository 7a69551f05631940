// Package observability tracks per-benchmark outcome counters for the
// end-of-batch report.
package observability

import (
	"sync"
	"time"
)

// SweepStats accumulates run outcomes across one batch.
type SweepStats struct {
	mu     sync.RWMutex
	counts map[string]*BenchmarkStats
	order  []string // first-recorded order, so reports are deterministic
}

// BenchmarkStats holds outcome counters for one benchmark.
type BenchmarkStats struct {
	Benchmark     string
	Probes        int64
	Recorded      int64
	RunFailed     int64
	NoArtifact    int64
	BytesRecorded int64
	Duration      time.Duration
	Aborted       bool
	AbortReason   string
}

// NewSweepStats creates an empty outcome tracker.
func NewSweepStats() *SweepStats {
	return &SweepStats{
		counts: make(map[string]*BenchmarkStats),
	}
}

// get returns the counters for a benchmark, creating them on first use.
// Caller must hold the write lock.
func (s *SweepStats) get(benchmark string) *BenchmarkStats {
	stats, exists := s.counts[benchmark]
	if !exists {
		stats = &BenchmarkStats{Benchmark: benchmark}
		s.counts[benchmark] = stats
		s.order = append(s.order, benchmark)
	}
	return stats
}

// AddProbes counts size-search probe runs.
func (s *SweepStats) AddProbes(benchmark string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(benchmark).Probes += int64(n)
}

// RecordTrace counts one trace entering the registry.
func (s *SweepStats) RecordTrace(benchmark string, sizeBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.get(benchmark)
	stats.Recorded++
	stats.BytesRecorded += sizeBytes
}

// RecordRunFailure counts one run skipped for a non-zero exit.
func (s *SweepStats) RecordRunFailure(benchmark string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(benchmark).RunFailed++
}

// RecordNoArtifact counts one run skipped because no trace appeared.
func (s *SweepStats) RecordNoArtifact(benchmark string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(benchmark).NoArtifact++
}

// MarkAborted flags a benchmark whose sweep was cut short.
func (s *SweepStats) MarkAborted(benchmark, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.get(benchmark)
	stats.Aborted = true
	stats.AbortReason = reason
}

// SetDuration records how long a benchmark's sweep took.
func (s *SweepStats) SetDuration(benchmark string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(benchmark).Duration = d
}

// Snapshot returns a copy of all benchmark counters in first-recorded order.
func (s *SweepStats) Snapshot() []BenchmarkStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BenchmarkStats, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.counts[name])
	}
	return out
}

// Totals sums the counters across all benchmarks.
func (s *SweepStats) Totals() (recorded, skipped, aborted int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stats := range s.counts {
		recorded += stats.Recorded
		skipped += stats.RunFailed + stats.NoArtifact
		if stats.Aborted {
			aborted++
		}
	}
	return recorded, skipped, aborted
}
