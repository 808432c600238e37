package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// WritePolicy decides which targets must succeed for a write to count as
// successful overall.
type WritePolicy string

const (
	// PolicyRequireAll succeeds only when every target succeeds.
	PolicyRequireAll WritePolicy = "require_all"
	// PolicyRequireLocal succeeds when the local target succeeds; the
	// shared target is written best-effort. This is the default.
	PolicyRequireLocal WritePolicy = "require_local"
	// PolicyRequireAny succeeds when at least one target succeeds.
	PolicyRequireAny WritePolicy = "require_any"
)

// ParsePolicy normalizes a policy string, mapping the empty string to the
// default and accepting short aliases.
func ParsePolicy(s string) (WritePolicy, error) {
	switch s {
	case "", "require_local", "local":
		return PolicyRequireLocal, nil
	case "require_all", "all":
		return PolicyRequireAll, nil
	case "require_any", "any":
		return PolicyRequireAny, nil
	default:
		return "", fmt.Errorf("unknown write policy %q", s)
	}
}

// Mandatory reports whether a target with the given role must succeed under
// this policy.
func (p WritePolicy) Mandatory(role Role) bool {
	switch p {
	case PolicyRequireAll:
		return true
	case PolicyRequireLocal:
		return role == RoleLocal
	default:
		return false
	}
}

// MetadataPair is one caller-supplied metadata entry.
type MetadataPair struct {
	Key   string
	Value string
}

// Metadata preserves the order metadata keys arrived in, which a plain Go
// map would lose across the JSON boundary.
type Metadata []MetadataPair

// Get returns the value for a key and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	for _, p := range m {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Set replaces the value for key in place, or appends the pair when the key
// is new, and returns the updated slice.
func (m Metadata) Set(key, value string) Metadata {
	for i, p := range m {
		if p.Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, MetadataPair{Key: key, Value: value})
}

// MarshalJSON renders the metadata as a JSON object in insertion order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected JSON object, got %v", tok)
	}
	out := Metadata{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("metadata: non-string key %v", keyTok)
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("metadata: value for %q must be a string: %w", key, err)
		}
		out = append(out, MetadataPair{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// WriteRequest is one inbound write. Immutable once submitted; repeated
// writes to the same key overwrite (last writer wins, no versioning).
type WriteRequest struct {
	Key         string
	Content     []byte
	Metadata    Metadata
	RequestedAt time.Time
}

// AttemptOutcome is the terminal state of the final attempt against one target.
type AttemptOutcome string

const (
	OutcomeSuccess          AttemptOutcome = "success"
	OutcomeTimeout          AttemptOutcome = "timeout"
	OutcomeIOError          AttemptOutcome = "io_error"
	OutcomeSkippedUnhealthy AttemptOutcome = "skipped_unhealthy"
)

// WriteAttempt records the final attempt against a single target.
type WriteAttempt struct {
	TargetID     string
	Attempt      int
	StartedAt    time.Time
	Duration     time.Duration
	Outcome      AttemptOutcome
	Err          string
	BytesWritten int64
}

// AggregateResult is the coordinator's verdict for one write across all
// targets. OverallSuccess is true only when every target the policy
// mandates reached OutcomeSuccess.
type AggregateResult struct {
	Key            string
	PerTarget      map[string]WriteAttempt
	OverallSuccess bool
	Policy         WritePolicy
	Elapsed        time.Duration
}

// BatchItem is one entry of a batch write.
type BatchItem struct {
	Key      string
	Content  []byte
	Metadata Metadata
}

// BatchResult summarizes a batch write run.
type BatchResult struct {
	Total      int
	Succeeded  int
	Failed     int
	Errors     []string
	Elapsed    time.Duration
	Throughput float64
}

// BackfillResult summarizes a local-to-shared recovery pass.
type BackfillResult struct {
	Scanned int
	Synced  int
	Errors  []string
	Elapsed time.Duration
}
