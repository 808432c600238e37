package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/model"
)

func newTestTarget(t *testing.T, role model.Role) *FSTarget {
	t.Helper()
	target := model.Target{
		ID:       "test-" + string(role),
		RootPath: t.TempDir(),
		Role:     role,
	}
	fst, err := NewFSTarget(target, zap.NewNop())
	require.NoError(t, err)
	return fst
}

func TestFSTarget_WriteReadRoundTrip(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)
	ctx := context.Background()

	content := []byte(`{"account":"satellite","amount":120}`)
	n, err := fst.Write(ctx, "transactions/tx-1.json", content)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)

	read, err := fst.Read(ctx, "transactions/tx-1.json")
	require.NoError(t, err)
	assert.Equal(t, content, read)
}

func TestFSTarget_OverwriteLastWriterWins(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)
	ctx := context.Background()

	_, err := fst.Write(ctx, "doc.txt", []byte("first version with more bytes"))
	require.NoError(t, err)

	second := []byte("second")
	_, err = fst.Write(ctx, "doc.txt", second)
	require.NoError(t, err)

	read, err := fst.Read(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, second, read)

	fi, err := fst.Stat(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(second)), fi.Size)
}

func TestFSTarget_ReadMissing(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)

	_, err := fst.Read(context.Background(), "nope.txt")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestFSTarget_StatMissing(t *testing.T) {
	fst := newTestTarget(t, model.RoleShared)

	_, err := fst.Stat(context.Background(), "nope.txt")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestFSTarget_WriteUnreachableRoot(t *testing.T) {
	fst := newTestTarget(t, model.RoleShared)
	require.NoError(t, os.RemoveAll(fst.Target().RootPath))

	_, err := fst.Write(context.Background(), "orphan.txt", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTargetUnreachable))
}

func TestFSTarget_ReadUnreachableRoot(t *testing.T) {
	fst := newTestTarget(t, model.RoleShared)
	require.NoError(t, os.RemoveAll(fst.Target().RootPath))

	_, err := fst.Read(context.Background(), "orphan.txt")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTargetUnreachable))
}

func TestFSTarget_WriteRejectsTraversal(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)

	_, err := fst.Write(context.Background(), "../escape.txt", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestFSTarget_WriteCanceledContext(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fst.Write(ctx, "late.txt", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTimeout, errors.Classify(err))
}

func TestFSTarget_List(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)
	ctx := context.Background()

	_, err := fst.Write(ctx, "a.txt", []byte("aa"))
	require.NoError(t, err)
	_, err = fst.Write(ctx, "sub/b.txt", []byte("bbb"))
	require.NoError(t, err)

	// Drop a probe leftover directly; listings must never surface it.
	artifact := filepath.Join(fst.Target().RootPath, ".health_check_99.tmp")
	require.NoError(t, os.WriteFile(artifact, []byte("probe"), 0o644))

	files, err := fst.List(ctx, "")
	require.NoError(t, err)

	names := make(map[string]model.FileInfo, len(files))
	for _, fi := range files {
		names[fi.Name] = fi
	}

	require.Len(t, files, 3)
	assert.Contains(t, names, "a.txt")
	assert.Contains(t, names, "sub")
	assert.Contains(t, names, "sub/b.txt")
	assert.NotContains(t, names, ".health_check_99.tmp")

	assert.False(t, names["a.txt"].Dir)
	assert.Equal(t, int64(2), names["a.txt"].Size)
	assert.True(t, names["sub"].Dir)
	assert.Equal(t, int64(0), names["sub"].Size)
	assert.Equal(t, int64(3), names["sub/b.txt"].Size)
}

func TestFSTarget_ListPrefix(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)
	ctx := context.Background()

	_, err := fst.Write(ctx, "reports/q1.json", []byte("{}"))
	require.NoError(t, err)
	_, err = fst.Write(ctx, "other/x.json", []byte("{}"))
	require.NoError(t, err)

	files, err := fst.List(ctx, "reports")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "q1.json", files[0].Name)
}

func TestFSTarget_ListMissingPrefix(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)

	_, err := fst.List(context.Background(), "no/such/dir")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestFSTarget_ListRootNotDirectory(t *testing.T) {
	fst := newTestTarget(t, model.RoleShared)
	require.NoError(t, os.RemoveAll(fst.Target().RootPath))
	require.NoError(t, os.WriteFile(fst.Target().RootPath, []byte("not a directory"), 0o644))

	// A root degraded into a regular file is a fault, not an empty listing.
	_, err := fst.List(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeIOError))
}

func TestFSTarget_RemoveMissingIsNoop(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)
	assert.NoError(t, fst.Remove(context.Background(), "never-existed.txt"))
}

func TestFSTarget_Probe(t *testing.T) {
	fst := newTestTarget(t, model.RoleLocal)
	ctx := context.Background()

	require.NoError(t, fst.Probe(ctx))

	// The probe cleans up its marker.
	entries, err := os.ReadDir(fst.Target().RootPath)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFSTarget_ProbeUnreachableRoot(t *testing.T) {
	fst := newTestTarget(t, model.RoleShared)
	require.NoError(t, os.RemoveAll(fst.Target().RootPath))

	err := fst.Probe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTargetUnreachable))
}

func TestNewFSTarget_Validation(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewFSTarget(model.Target{RootPath: t.TempDir(), Role: model.RoleLocal}, logger)
	assert.Error(t, err)

	_, err = NewFSTarget(model.Target{ID: "x", Role: model.RoleLocal}, logger)
	assert.Error(t, err)

	_, err = NewFSTarget(model.Target{ID: "x", RootPath: t.TempDir(), Role: "elsewhere"}, logger)
	assert.Error(t, err)
}
