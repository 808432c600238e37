package model

import (
	"bytes"
	"encoding/json"
)

// Envelope is the on-disk JSON document for writes that carry metadata.
// Metadata-free writes persist the raw content bytes untouched, which is
// what makes read-back byte equality usable by the consistency validator
// and the recovery sync: they write without metadata and already know the
// exact stored bytes.
type Envelope struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Payload returns the exact bytes to persist for this request: the raw
// content when no metadata is attached, otherwise the indented JSON
// envelope. Encoding happens once per coordinated write so every target
// receives identical bytes.
func (r *WriteRequest) Payload() ([]byte, error) {
	if len(r.Metadata) == 0 {
		return r.Content, nil
	}

	env := Envelope{Content: string(r.Content), Metadata: r.Metadata}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
