package store

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/model"
)

// FSTarget is a TargetStore backed by one mounted directory root. It fsyncs
// every write so an acknowledged byte is on the mount, not in the page
// cache. Writes go directly to the final path: the roots are network
// mounts where rename offers no atomicity, and the contract is
// last-writer-wins anyway.
type FSTarget struct {
	target model.Target
	logger *zap.Logger
}

// NewFSTarget creates a filesystem store for the target and ensures its
// root directory exists.
func NewFSTarget(target model.Target, logger *zap.Logger) (*FSTarget, error) {
	if target.ID == "" {
		return nil, errors.InvalidArgument("target id is required", nil)
	}
	if target.RootPath == "" {
		return nil, errors.InvalidArgument(fmt.Sprintf("target %s has no root path", target.ID), nil)
	}
	if !target.Role.Valid() {
		return nil, errors.InvalidArgument(fmt.Sprintf("target %s has invalid role %q", target.ID, target.Role), nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(target.RootPath, 0o755); err != nil {
		return nil, errors.TargetUnreachable(target.ID, err)
	}

	logger.Info("target store initialized",
		zap.String("target_id", target.ID),
		zap.String("root_path", target.RootPath),
		zap.String("role", string(target.Role)))

	return &FSTarget{target: target, logger: logger}, nil
}

// Target returns the static identity this store writes to.
func (f *FSTarget) Target() model.Target {
	return f.target
}

// Write persists data under key, creating parent directories as needed and
// overwriting any previous content.
func (f *FSTarget) Write(ctx context.Context, key string, data []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path, err := SafeJoin(f.target.RootPath, key)
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(path); dir != filepath.Clean(f.target.RootPath) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, f.writeFault("mkdir", key, err)
		}
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, f.writeFault("open", key, err)
	}

	n, err := file.Write(data)
	if err != nil {
		file.Close()
		return int64(n), f.writeFault("write", key, err)
	}

	// Force the bytes out to the mount before acknowledging.
	if err := file.Sync(); err != nil {
		file.Close()
		return int64(n), f.writeFault("sync", key, err)
	}

	if err := file.Close(); err != nil {
		return int64(n), f.writeFault("close", key, err)
	}

	return int64(n), nil
}

// Read returns the stored bytes for key.
func (f *FSTarget) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := SafeJoin(f.target.RootPath, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, f.readFault(key, err)
	}

	return data, nil
}

// Stat returns metadata for key without reading its content.
func (f *FSTarget) Stat(ctx context.Context, key string) (model.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return model.FileInfo{}, err
	}

	path, err := SafeJoin(f.target.RootPath, key)
	if err != nil {
		return model.FileInfo{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return model.FileInfo{}, f.readFault(key, err)
	}

	fi := model.FileInfo{
		Name:    key,
		ModTime: info.ModTime(),
		Dir:     info.IsDir(),
	}
	if !info.IsDir() {
		fi.Size = info.Size()
	}
	return fi, nil
}

// List walks the target under prefix and returns every entry, files and
// directories, with names relative to the walked prefix. Health probe
// artifacts are excluded. Every call is a fresh walk, so a listing taken
// during concurrent writes is a snapshot, not a cursor.
func (f *FSTarget) List(ctx context.Context, prefix string) ([]model.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := f.target.RootPath
	if prefix != "" {
		joined, err := SafeJoin(f.target.RootPath, prefix)
		if err != nil {
			return nil, err
		}
		start = joined
	}

	// The walk start must be a directory. A root that degraded into
	// anything else is a mount fault, not an empty listing.
	info, err := os.Stat(start)
	if err != nil {
		return nil, f.readFault(prefix, err)
	}
	if !info.IsDir() {
		return nil, errors.IOError(
			fmt.Sprintf("list %s on target %s", prefix, f.target.ID),
			fmt.Errorf("%s is not a directory", start))
	}

	var out []model.FileInfo
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == start {
			return nil
		}
		if IsProbeArtifact(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(start, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			// Entry vanished between walk and stat; the next walk sees
			// the current state.
			return nil
		}

		fi := model.FileInfo{
			Name:    filepath.ToSlash(rel),
			ModTime: info.ModTime(),
			Dir:     d.IsDir(),
		}
		if !d.IsDir() {
			fi.Size = info.Size()
		}
		out = append(out, fi)
		return nil
	})
	if err != nil {
		return nil, f.readFault(prefix, err)
	}

	return out, nil
}

// Remove deletes the file for key. Missing keys are not an error.
func (f *FSTarget) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := SafeJoin(f.target.RootPath, key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return f.writeFault("remove", key, err)
	}
	return nil
}

// Probe verifies the target accepts a full round-trip: write a marker file
// under the root, read it back, compare bytes, remove it. The marker name
// carries the probe artifact prefix so listings and recovery walks skip
// leftovers from failed probes.
func (f *FSTarget) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%d_%s.tmp", probeArtifactPrefix, time.Now().UnixNano(), uuid.New().String())
	path := filepath.Join(f.target.RootPath, name)
	payload := []byte(fmt.Sprintf("probe %s %d", f.target.ID, time.Now().UnixNano()))

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return errors.TargetUnreachable(f.target.ID, err)
	}

	read, err := os.ReadFile(path)
	if err != nil {
		os.Remove(path)
		return errors.TargetUnreachable(f.target.ID, err)
	}

	if !bytes.Equal(read, payload) {
		os.Remove(path)
		return errors.IOError(fmt.Sprintf("probe round-trip mismatch on target %s", f.target.ID), nil)
	}

	if err := os.Remove(path); err != nil {
		return errors.IOError(fmt.Sprintf("probe cleanup failed on target %s", f.target.ID), err)
	}

	return nil
}

// writeFault classifies a write-side failure. A missing or unreadable root
// means the mount itself is gone. ENOENT during a write is an I/O fault,
// not a missing key: the directory tree vanished mid-flight.
func (f *FSTarget) writeFault(op, key string, err error) error {
	if _, statErr := os.Stat(f.target.RootPath); statErr != nil {
		return errors.TargetUnreachable(f.target.ID, err)
	}
	if os.IsPermission(err) {
		return errors.TargetUnreachable(f.target.ID, err)
	}
	return errors.IOError(fmt.Sprintf("%s %s on target %s", op, key, f.target.ID), err)
}

// readFault classifies a read-side failure, distinguishing a missing key
// on a live mount from a dead mount.
func (f *FSTarget) readFault(key string, err error) error {
	if _, statErr := os.Stat(f.target.RootPath); statErr != nil {
		return errors.TargetUnreachable(f.target.ID, err)
	}
	switch {
	case os.IsPermission(err):
		return errors.TargetUnreachable(f.target.ID, err)
	case os.IsNotExist(err):
		return errors.NotFound(key)
	default:
		return errors.IOError(fmt.Sprintf("read %s on target %s", key, f.target.ID), err)
	}
}
