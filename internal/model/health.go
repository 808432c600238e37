package model

import "time"

// HealthRecord is one cached probe verdict for a target. Records are
// TTL-bounded: readers may see a stale record while a refresh runs in the
// background.
type HealthRecord struct {
	TargetID     string
	Healthy      bool
	CheckedAt    time.Time
	ProbeLatency time.Duration
	Err          string
}

// Fresh reports whether the record is within ttl of now.
func (h HealthRecord) Fresh(now time.Time, ttl time.Duration) bool {
	if h.CheckedAt.IsZero() {
		return false
	}
	return now.Sub(h.CheckedAt) <= ttl
}
