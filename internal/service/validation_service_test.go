package service

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/stats"
	"github.com/corebank/dualmount/internal/store"
)

// replicateAfter copies every data file under src into dst once, after d,
// simulating cross-domain propagation delay. transform rewrites the copied
// bytes, letting tests stage stale replicas.
func replicateAfter(t *testing.T, src, dst string, d time.Duration, transform func([]byte) []byte) {
	t.Helper()
	go func() {
		time.Sleep(d)
		_ = filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if transform != nil {
				data = transform(data)
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			target := filepath.Join(dst, rel)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.WriteFile(target, data, 0o644)
		})
	}()
}

func newValidator(stores []store.TargetStore, st *stats.Stats, opts ValidationOptions) *ValidationService {
	coord := newCoordinator(stores, nil, nil, fastOptions())
	router := newRouter(stores, nil)
	return NewValidationService(coord, router, st, nil, clock.WallClock, opts, zap.NewNop())
}

func TestValidation_ScenarioPassesAfterPropagation(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}

	st := stats.NewStats([]string{"local-efs", "corebank-efs"})
	svc := newValidator(stores, st, ValidationOptions{
		PollInterval:   30 * time.Millisecond,
		MaxWait:        3 * time.Second,
		AttemptTimeout: 500 * time.Millisecond,
	})

	replicateAfter(t, local.Target().RootPath, shared.Target().RootPath, 120*time.Millisecond, nil)

	sc := model.Scenario{Name: "local-to-shared", WriterRole: model.RoleLocal, ReaderRole: model.RoleShared}
	report := svc.RunScenario(context.Background(), sc)

	assert.True(t, report.Passed)
	assert.Equal(t, model.ScenarioPassed, report.State)
	assert.True(t, strings.HasPrefix(report.Key, "consistency-checks/local-to-shared/"), report.Key)
	assert.GreaterOrEqual(t, report.Attempts, 1)
	assert.Greater(t, report.WriteLatency, time.Duration(0))
	assert.Greater(t, report.FirstReadLatency, time.Duration(0))
	assert.Empty(t, report.Err)

	snap := st.Snapshot()
	assert.Equal(t, uint64(1), snap.ValidationRuns)
	assert.Equal(t, uint64(1), snap.ValidationPassed)
}

func TestValidation_SameRoleVisibleImmediately(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}

	// Zero scenario durations fall back to the service options.
	svc := newValidator(stores, nil, ValidationOptions{
		PollInterval:   20 * time.Millisecond,
		MaxWait:        2 * time.Second,
		AttemptTimeout: 500 * time.Millisecond,
	})

	sc := model.Scenario{Name: "local-roundtrip", WriterRole: model.RoleLocal, ReaderRole: model.RoleLocal}
	report := svc.RunScenario(context.Background(), sc)

	assert.True(t, report.Passed)
	assert.Equal(t, model.ScenarioPassed, report.State)
	assert.Equal(t, 1, report.Attempts, "same-volume read should land on the first poll")
}

func TestValidation_WriteFailureShortCircuits(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}
	breakRoot(t, shared.Target().RootPath)

	st := stats.NewStats([]string{"local-efs", "corebank-efs"})
	svc := newValidator(stores, st, ValidationOptions{
		PollInterval:   20 * time.Millisecond,
		MaxWait:        2 * time.Second,
		AttemptTimeout: 500 * time.Millisecond,
	})

	sc := model.Scenario{Name: "shared-to-local", WriterRole: model.RoleShared, ReaderRole: model.RoleLocal}
	report := svc.RunScenario(context.Background(), sc)

	assert.False(t, report.Passed)
	assert.Equal(t, model.ScenarioWriteFailed, report.State)
	assert.Equal(t, 0, report.Attempts, "a failed write must not be polled for")
	assert.Zero(t, report.FirstReadLatency)
	assert.NotEmpty(t, report.Err)

	assert.Equal(t, uint64(1), st.Snapshot().ValidationFailed)
}

func TestValidation_TimesOutWhenNeverVisible(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}

	svc := newValidator(stores, nil, ValidationOptions{
		PollInterval:   40 * time.Millisecond,
		MaxWait:        300 * time.Millisecond,
		AttemptTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	sc := model.Scenario{Name: "local-to-shared", WriterRole: model.RoleLocal, ReaderRole: model.RoleShared}
	report := svc.RunScenario(context.Background(), sc)
	elapsed := time.Since(start)

	assert.False(t, report.Passed)
	assert.Equal(t, model.ScenarioTimedOut, report.State)
	assert.GreaterOrEqual(t, report.Attempts, 1)
	assert.Contains(t, report.Err, "not consistent within")
	assert.Less(t, elapsed, 3*time.Second)
}

func TestValidation_StaleReplicaKeepsPolling(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}

	svc := newValidator(stores, nil, ValidationOptions{
		PollInterval:   50 * time.Millisecond,
		MaxWait:        time.Second,
		AttemptTimeout: 200 * time.Millisecond,
	})

	// The replica arrives quickly but with the wrong bytes, as if an older
	// write was still propagating.
	replicateAfter(t, local.Target().RootPath, shared.Target().RootPath, 50*time.Millisecond, func([]byte) []byte {
		return []byte("stale bytes")
	})

	sc := model.Scenario{Name: "local-to-shared", WriterRole: model.RoleLocal, ReaderRole: model.RoleShared}
	report := svc.RunScenario(context.Background(), sc)

	assert.False(t, report.Passed)
	assert.Equal(t, model.ScenarioTimedOut, report.State)
	assert.Greater(t, report.Attempts, 1, "a visible but stale replica must keep the poll loop going")
	assert.Greater(t, report.FirstReadLatency, time.Duration(0))
}

func TestValidation_InvalidRolesFailWithoutWriting(t *testing.T) {
	local, shared := newPairStores(t)
	svc := newValidator([]store.TargetStore{local, shared}, nil, ValidationOptions{})

	sc := model.Scenario{Name: "broken", WriterRole: model.Role("remote"), ReaderRole: model.RoleLocal}
	report := svc.RunScenario(context.Background(), sc)

	assert.False(t, report.Passed)
	assert.Equal(t, model.ScenarioWriteFailed, report.State)
	assert.Empty(t, report.Key)
	assert.NotEmpty(t, report.Err)
}

func TestValidation_SuiteKeepsInputOrder(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}

	svc := newValidator(stores, nil, ValidationOptions{
		PollInterval:   20 * time.Millisecond,
		MaxWait:        2 * time.Second,
		AttemptTimeout: 200 * time.Millisecond,
		Concurrency:    2,
	})

	scenarios := []model.Scenario{
		{Name: "first", WriterRole: model.RoleLocal, ReaderRole: model.RoleLocal},
		{Name: "second", WriterRole: model.RoleLocal, ReaderRole: model.RoleShared, MaxWait: 150 * time.Millisecond},
		{Name: "third", WriterRole: model.RoleShared, ReaderRole: model.RoleShared},
	}

	reports := svc.RunSuite(context.Background(), scenarios)
	require.Len(t, reports, 3)

	for i, report := range reports {
		require.NotNil(t, report)
		assert.Equal(t, scenarios[i].Name, report.Scenario.Name)
	}

	assert.True(t, reports[0].Passed)
	assert.False(t, reports[1].Passed)
	assert.Equal(t, model.ScenarioTimedOut, reports[1].State)
	assert.True(t, reports[2].Passed)
}

func TestValidation_SuiteSequential(t *testing.T) {
	local, shared := newPairStores(t)
	stores := []store.TargetStore{local, shared}

	svc := newValidator(stores, nil, ValidationOptions{
		PollInterval:   20 * time.Millisecond,
		MaxWait:        2 * time.Second,
		AttemptTimeout: 200 * time.Millisecond,
		Concurrency:    1,
	})

	scenarios := []model.Scenario{
		{Name: "a", WriterRole: model.RoleLocal, ReaderRole: model.RoleLocal},
		{Name: "b", WriterRole: model.RoleShared, ReaderRole: model.RoleShared},
	}

	reports := svc.RunSuite(context.Background(), scenarios)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Passed)
	assert.True(t, reports[1].Passed)

	// Each run writes a distinct probe key.
	assert.NotEqual(t, reports[0].Key, reports[1].Key)
}
