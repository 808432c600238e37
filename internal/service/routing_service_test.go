package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/stats"
	"github.com/corebank/dualmount/internal/store"
)

func newRouter(stores []store.TargetStore, st *stats.Stats) *RoutingService {
	return NewRoutingService(stores, nil, st, nil, RoutingOptions{AttemptTimeout: time.Second}, zap.NewNop())
}

// seedFile writes raw bytes straight onto a target root, bypassing the
// coordinator, to shape divergent target states.
func seedFile(t *testing.T, root, key, content string) {
	t.Helper()
	path := filepath.Join(root, key)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRouting_ReadPrefersLocal(t *testing.T) {
	local, shared := newPairStores(t)
	seedFile(t, local.Target().RootPath, "doc.json", "local copy")
	seedFile(t, shared.Target().RootPath, "doc.json", "shared copy")

	st := stats.NewStats([]string{"local-efs", "corebank-efs"})
	router := newRouter([]store.TargetStore{local, shared}, st)

	res, err := router.Read(context.Background(), "doc.json", "")
	require.NoError(t, err)

	assert.Equal(t, "local copy", string(res.Content))
	assert.Equal(t, "local-efs", res.SourceTarget)
	assert.Equal(t, int64(len("local copy")), res.BytesRead)

	snap := st.Snapshot()
	assert.Equal(t, uint64(1), snap.ReadsTotal)
	assert.Equal(t, uint64(0), snap.ReadErrors)
}

func TestRouting_ReadFallsBackToShared(t *testing.T) {
	local, shared := newPairStores(t)
	seedFile(t, shared.Target().RootPath, "only-shared.json", "from corebank")

	router := newRouter([]store.TargetStore{local, shared}, nil)

	res, err := router.Read(context.Background(), "only-shared.json", "")
	require.NoError(t, err)

	assert.Equal(t, "from corebank", string(res.Content))
	assert.Equal(t, "corebank-efs", res.SourceTarget)
}

func TestRouting_ReadExplicitRolePinsTarget(t *testing.T) {
	local, shared := newPairStores(t)
	seedFile(t, local.Target().RootPath, "pinned.json", "local only")

	router := newRouter([]store.TargetStore{local, shared}, nil)
	ctx := context.Background()

	res, err := router.Read(ctx, "pinned.json", model.RoleLocal)
	require.NoError(t, err)
	assert.Equal(t, "local only", string(res.Content))

	// The shared role must not fall back to the local copy.
	_, err = router.Read(ctx, "pinned.json", model.RoleShared)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = router.Read(ctx, "pinned.json", model.Role("remote"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestRouting_ReadMissingEverywhere(t *testing.T) {
	local, shared := newPairStores(t)
	st := stats.NewStats([]string{"local-efs", "corebank-efs"})
	router := newRouter([]store.TargetStore{local, shared}, st)

	_, err := router.Read(context.Background(), "ghost.json", "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	// Per-target reasons ride along for the caller.
	var ce *errors.CoordError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Details, "local-efs")
	assert.Contains(t, ce.Details, "corebank-efs")

	assert.Equal(t, uint64(1), st.Snapshot().ReadErrors)
}

func TestRouting_ReadInvalidKey(t *testing.T) {
	local, shared := newPairStores(t)
	router := newRouter([]store.TargetStore{local, shared}, nil)

	_, err := router.Read(context.Background(), "../outside.json", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	_, err = router.Read(context.Background(), "", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestRouting_ReadTimeoutOnHungTarget(t *testing.T) {
	hung := newStallStore("corebank-efs", model.RoleShared)
	router := NewRoutingService(
		[]store.TargetStore{hung}, nil, nil, nil,
		RoutingOptions{AttemptTimeout: 30 * time.Millisecond}, zap.NewNop(),
	)

	start := time.Now()
	_, err := router.Read(context.Background(), "slow.json", model.RoleShared)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	var ce *errors.CoordError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Details["corebank-efs"], "timed out")
	assert.Less(t, elapsed, 2*time.Second)

	close(hung.block)
}

func TestRouting_ReadServesCoordinatedEnvelope(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}

	coord := newCoordinator(stores, nil, nil, fastOptions())
	router := newRouter(stores, nil)

	req := &model.WriteRequest{
		Key:      "audit/entry.json",
		Content:  []byte("audited"),
		Metadata: model.Metadata{{Key: "written_by", Value: "savings"}},
	}
	agg, err := coord.Write(context.Background(), req, model.PolicyRequireAll)
	require.NoError(t, err)
	require.True(t, agg.OverallSuccess)

	res, err := router.Read(context.Background(), "audit/entry.json", "")
	require.NoError(t, err)

	// Reads return stored bytes as-is, envelope included.
	onDisk, err := os.ReadFile(filepath.Join(local.Target().RootPath, "audit/entry.json"))
	require.NoError(t, err)
	assert.Equal(t, onDisk, res.Content)
	assert.Equal(t, agg.PerTarget["local-efs"].BytesWritten, res.BytesRead)
}

func TestRouting_ListReturnsFirstTargetListing(t *testing.T) {
	local, shared := newPairStores(t)
	seedFile(t, local.Target().RootPath, "inbox/a.json", "a")
	seedFile(t, local.Target().RootPath, "inbox/b.json", "bb")
	seedFile(t, shared.Target().RootPath, "inbox/c.json", "ccc")

	st := stats.NewStats([]string{"local-efs", "corebank-efs"})
	router := newRouter([]store.TargetStore{local, shared}, st)
	ctx := context.Background()

	files, err := router.List(ctx, "inbox", "")
	require.NoError(t, err)
	require.Len(t, files, 2)

	names := []string{files[0].Name, files[1].Name}
	assert.Contains(t, names, "a.json")
	assert.Contains(t, names, "b.json")

	// Pinning the shared role lists the other side of the pair.
	files, err = router.List(ctx, "inbox", model.RoleShared)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "c.json", files[0].Name)

	assert.Equal(t, uint64(2), st.Snapshot().ListsTotal)
}

func TestRouting_ListFallsBackWhenTargetFails(t *testing.T) {
	local, shared := newPairStores(t)
	seedFile(t, shared.Target().RootPath, "ledger/x.json", "x")
	breakRoot(t, local.Target().RootPath)

	router := newRouter([]store.TargetStore{local, shared}, nil)

	files, err := router.List(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger/x.json"}, fileNames(files))
}

// fileNames extracts the names of the non-directory entries.
func fileNames(files []model.FileInfo) []string {
	var names []string
	for _, f := range files {
		if !f.Dir {
			names = append(names, f.Name)
		}
	}
	return names
}

func TestRouting_ListHealthyTargetFirst(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}
	seedFile(t, shared.Target().RootPath, "ledger/y.json", "y")

	breakRoot(t, local.Target().RootPath)
	monitor := probedMonitor(t, stores)
	require.False(t, monitor.Healthy("local-efs"))

	router := NewRoutingService(stores, monitor, nil, nil, RoutingOptions{AttemptTimeout: time.Second}, zap.NewNop())

	files, err := router.List(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger/y.json"}, fileNames(files))
}

func TestRouting_ListInvalidRole(t *testing.T) {
	local, shared := newPairStores(t)
	router := newRouter([]store.TargetStore{local, shared}, nil)

	_, err := router.List(context.Background(), "", model.Role("remote"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}
