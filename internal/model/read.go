package model

import "time"

// ReadResult is a successful read with its provenance.
type ReadResult struct {
	Key          string
	Content      []byte
	SourceTarget string
	BytesRead    int64
}

// FileInfo is one list entry.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	Dir     bool
}
