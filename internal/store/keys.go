package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/corebank/dualmount/internal/errors"
)

const (
	// MaxKeySize bounds the relative path length.
	MaxKeySize = 1024

	// probeArtifactPrefix marks health probe temp files so listings and
	// recovery walks can skip them.
	probeArtifactPrefix = ".health_check"
)

// ValidateKey checks that a key is a usable relative path: non-empty,
// bounded, free of control characters and null bytes, not absolute, and
// not escaping the target root through parent references.
func ValidateKey(key string) error {
	if key == "" {
		return errors.InvalidArgument("key cannot be empty", nil)
	}
	if len(key) > MaxKeySize {
		return errors.InvalidArgument(fmt.Sprintf("key exceeds maximum size of %d bytes", MaxKeySize), nil)
	}
	if strings.Contains(key, "\x00") {
		return errors.InvalidArgument("key cannot contain null bytes", nil)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return errors.InvalidArgument("key cannot contain control characters", nil)
		}
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return errors.InvalidArgument(fmt.Sprintf("key must be relative: %s", key), nil)
	}
	clean := filepath.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return errors.InvalidArgument(fmt.Sprintf("key escapes the target root: %s", key), nil)
	}
	return nil
}

// SafeJoin resolves key under root, rejecting traversal outside it.
func SafeJoin(root, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	joined := filepath.Join(root, key)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.InvalidArgument(fmt.Sprintf("key escapes the target root: %s", key), err)
	}
	return joined, nil
}

// IsProbeArtifact reports whether a file name is a health probe leftover.
func IsProbeArtifact(name string) bool {
	return strings.HasPrefix(filepath.Base(name), probeArtifactPrefix)
}
