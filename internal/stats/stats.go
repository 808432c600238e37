// Package stats keeps lock-free in-memory counters for the node. They back
// the /stats endpoint and reset on restart; durable time series belong to
// the Prometheus registry, not here.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats accumulates counters across all request handlers. All counters are
// updated with atomics so hot paths never contend on a lock.
type Stats struct {
	// 64-bit fields first to keep atomic alignment on 32-bit platforms.
	writesTotal      uint64
	writesSucceeded  uint64
	writesFailed     uint64
	readsTotal       uint64
	readErrors       uint64
	listsTotal       uint64
	bytesWritten     uint64
	bytesRead        uint64
	validationRuns   uint64
	validationPassed uint64
	validationFailed uint64
	writeNanosTotal  uint64
	lastWriteNanos   uint64

	startTime time.Time

	// Fixed at construction; only the pointed-to values mutate, so the map
	// itself is read-only and safe for concurrent access.
	targetFailures map[string]*uint64
}

// NewStats creates counters for the given target IDs. Failures against
// targets not listed here are counted in the aggregate but not per target.
func NewStats(targetIDs []string) *Stats {
	failures := make(map[string]*uint64, len(targetIDs))
	for _, id := range targetIDs {
		failures[id] = new(uint64)
	}
	return &Stats{
		startTime:      time.Now(),
		targetFailures: failures,
	}
}

// RecordWrite counts one coordinated write and its latency.
func (s *Stats) RecordWrite(success bool, elapsed time.Duration, bytes int64) {
	atomic.AddUint64(&s.writesTotal, 1)
	if success {
		atomic.AddUint64(&s.writesSucceeded, 1)
	} else {
		atomic.AddUint64(&s.writesFailed, 1)
	}
	if bytes > 0 {
		atomic.AddUint64(&s.bytesWritten, uint64(bytes))
	}
	nanos := uint64(elapsed.Nanoseconds())
	atomic.AddUint64(&s.writeNanosTotal, nanos)
	atomic.StoreUint64(&s.lastWriteNanos, nanos)
}

// RecordTargetFailure counts one failed attempt against a single target.
func (s *Stats) RecordTargetFailure(targetID string) {
	if counter, ok := s.targetFailures[targetID]; ok {
		atomic.AddUint64(counter, 1)
	}
}

// RecordRead counts one routed read.
func (s *Stats) RecordRead(success bool, bytes int64) {
	atomic.AddUint64(&s.readsTotal, 1)
	if !success {
		atomic.AddUint64(&s.readErrors, 1)
		return
	}
	if bytes > 0 {
		atomic.AddUint64(&s.bytesRead, uint64(bytes))
	}
}

// RecordList counts one directory listing.
func (s *Stats) RecordList() {
	atomic.AddUint64(&s.listsTotal, 1)
}

// RecordValidation counts one completed consistency scenario run.
func (s *Stats) RecordValidation(passed bool) {
	atomic.AddUint64(&s.validationRuns, 1)
	if passed {
		atomic.AddUint64(&s.validationPassed, 1)
	} else {
		atomic.AddUint64(&s.validationFailed, 1)
	}
}

// Snapshot is a point-in-time copy of all counters, shaped for JSON.
type Snapshot struct {
	StartTime        time.Time         `json:"start_time"`
	UptimeSeconds    float64           `json:"uptime_seconds"`
	WritesTotal      uint64            `json:"writes_total"`
	WritesSucceeded  uint64            `json:"writes_succeeded"`
	WritesFailed     uint64            `json:"writes_failed"`
	ReadsTotal       uint64            `json:"reads_total"`
	ReadErrors       uint64            `json:"read_errors"`
	ListsTotal       uint64            `json:"lists_total"`
	BytesWritten     uint64            `json:"bytes_written"`
	BytesRead        uint64            `json:"bytes_read"`
	ValidationRuns   uint64            `json:"validation_runs"`
	ValidationPassed uint64            `json:"validation_passed"`
	ValidationFailed uint64            `json:"validation_failed"`
	AvgWriteMs       float64           `json:"avg_write_ms"`
	LastWriteMs      float64           `json:"last_write_ms"`
	TargetFailures   map[string]uint64 `json:"target_failures"`
}

// Snapshot returns current counter values. Counters are read individually,
// so a snapshot taken under concurrent load is approximate, not a
// consistent cut.
func (s *Stats) Snapshot() Snapshot {
	writes := atomic.LoadUint64(&s.writesTotal)
	totalNanos := atomic.LoadUint64(&s.writeNanosTotal)

	var avgMs float64
	if writes > 0 {
		avgMs = float64(totalNanos) / float64(writes) / float64(time.Millisecond)
	}

	failures := make(map[string]uint64, len(s.targetFailures))
	for id, counter := range s.targetFailures {
		failures[id] = atomic.LoadUint64(counter)
	}

	return Snapshot{
		StartTime:        s.startTime,
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
		WritesTotal:      writes,
		WritesSucceeded:  atomic.LoadUint64(&s.writesSucceeded),
		WritesFailed:     atomic.LoadUint64(&s.writesFailed),
		ReadsTotal:       atomic.LoadUint64(&s.readsTotal),
		ReadErrors:       atomic.LoadUint64(&s.readErrors),
		ListsTotal:       atomic.LoadUint64(&s.listsTotal),
		BytesWritten:     atomic.LoadUint64(&s.bytesWritten),
		BytesRead:        atomic.LoadUint64(&s.bytesRead),
		ValidationRuns:   atomic.LoadUint64(&s.validationRuns),
		ValidationPassed: atomic.LoadUint64(&s.validationPassed),
		ValidationFailed: atomic.LoadUint64(&s.validationFailed),
		AvgWriteMs:       avgMs,
		LastWriteMs:      float64(atomic.LoadUint64(&s.lastWriteNanos)) / float64(time.Millisecond),
		TargetFailures:   failures,
	}
}
