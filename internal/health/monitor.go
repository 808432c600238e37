// Package health probes storage targets with write/read/remove round trips
// and caches the verdicts so request paths never wait on a slow mount.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/metrics"
	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/store"
)

const (
	defaultProbeTimeout  = 3 * time.Second
	defaultProbeInterval = 15 * time.Second
	defaultTTL           = 15 * time.Second
)

// Config holds health monitor configuration.
type Config struct {
	// ProbeTimeout bounds one probe round trip against one target.
	ProbeTimeout time.Duration
	// ProbeInterval is the background probe cycle period.
	ProbeInterval time.Duration
	// TTL is how long a cached verdict is served before a background
	// refresh is triggered.
	TTL time.Duration
}

// Monitor tracks target health. Cached verdicts are returned immediately;
// stale entries trigger a deduplicated background probe rather than making
// the caller wait.
type Monitor struct {
	stores []store.TargetStore
	byID   map[string]store.TargetStore

	probeTimeout  time.Duration
	probeInterval time.Duration
	ttl           time.Duration

	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	records map[string]model.HealthRecord

	// Collapses concurrent refreshes of the same target into one probe.
	refresh singleflight.Group

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   int32
}

// NewMonitor creates a health monitor over the given targets.
func NewMonitor(stores []store.TargetStore, cfg Config, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byID := make(map[string]store.TargetStore, len(stores))
	for _, st := range stores {
		byID[st.Target().ID] = st
	}

	return &Monitor{
		stores:        stores,
		byID:          byID,
		probeTimeout:  cfg.ProbeTimeout,
		probeInterval: cfg.ProbeInterval,
		ttl:           cfg.TTL,
		clock:         clk,
		metrics:       m,
		logger:        logger,
		records:       make(map[string]model.HealthRecord, len(stores)),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Targets returns the monitored targets in registration order.
func (m *Monitor) Targets() []model.Target {
	targets := make([]model.Target, 0, len(m.stores))
	for _, st := range m.stores {
		targets = append(targets, st.Target())
	}
	return targets
}

// Probe runs one probe against the named target and records the verdict.
func (m *Monitor) Probe(ctx context.Context, targetID string) (model.HealthRecord, error) {
	st, ok := m.byID[targetID]
	if !ok {
		return model.HealthRecord{}, errors.InvalidArgument(fmt.Sprintf("unknown target %q", targetID), nil)
	}
	return m.probeStore(ctx, st), nil
}

// ProbeAll probes every target concurrently and returns the fresh verdicts.
func (m *Monitor) ProbeAll(ctx context.Context) map[string]model.HealthRecord {
	results := make([]model.HealthRecord, len(m.stores))

	var wg sync.WaitGroup
	for i, st := range m.stores {
		wg.Add(1)
		go func(i int, st store.TargetStore) { // Capture loop variables
			defer wg.Done()
			results[i] = m.probeStore(ctx, st)
		}(i, st)
	}
	wg.Wait()

	out := make(map[string]model.HealthRecord, len(results))
	for _, rec := range results {
		out[rec.TargetID] = rec
	}
	return out
}

// probeStore runs one bounded probe and records the verdict. The probe call
// runs in its own goroutine so a mount hung inside a syscall cannot stall
// the verdict past the timeout; the goroutine is abandoned if it never
// returns.
func (m *Monitor) probeStore(ctx context.Context, st store.TargetStore) model.HealthRecord {
	target := st.Target()

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := m.clock.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- st.Probe(probeCtx)
	}()

	var probeErr error
	select {
	case probeErr = <-errCh:
	case <-probeCtx.Done():
		probeErr = errors.Timeout("health probe "+target.ID, m.probeTimeout, probeCtx.Err())
	}

	latency := m.clock.Now().Sub(start)
	rec := model.HealthRecord{
		TargetID:     target.ID,
		Healthy:      probeErr == nil,
		CheckedAt:    m.clock.Now(),
		ProbeLatency: latency,
	}

	if probeErr != nil {
		rec.Err = probeErr.Error()
		m.logger.Warn("Health probe failed",
			zap.String("target", target.ID),
			zap.Duration("latency", latency),
			zap.Error(probeErr))
	} else {
		m.logger.Debug("Health probe succeeded",
			zap.String("target", target.ID),
			zap.Duration("latency", latency))
	}

	if m.metrics != nil {
		m.metrics.RecordProbe(target.ID, rec.Healthy, latency)
		m.metrics.SetTargetHealthy(target.ID, rec.Healthy)
	}

	m.mu.Lock()
	m.records[target.ID] = rec
	m.mu.Unlock()

	return rec
}

// GetCached returns the last recorded verdict without blocking. A stale
// verdict is still returned, but a background refresh is kicked off so the
// next caller sees a fresh one.
func (m *Monitor) GetCached(targetID string) (model.HealthRecord, bool) {
	m.mu.RLock()
	rec, ok := m.records[targetID]
	m.mu.RUnlock()

	if !ok {
		return model.HealthRecord{}, false
	}

	if !rec.Fresh(m.clock.Now(), m.ttl) {
		if st, known := m.byID[targetID]; known {
			go func() {
				_, _, _ = m.refresh.Do(targetID, func() (interface{}, error) {
					return m.probeStore(context.Background(), st), nil
				})
			}()
		}
	}
	return rec, true
}

// Healthy reports whether writes should be attempted against the target.
// A target that has never been probed is assumed reachable; only a recorded
// unhealthy verdict causes skips.
func (m *Monitor) Healthy(targetID string) bool {
	rec, ok := m.GetCached(targetID)
	if !ok {
		return true
	}
	return rec.Healthy
}

// Snapshot returns the current verdict for every registered target. Targets
// never probed appear with a zero CheckedAt and Healthy false.
func (m *Monitor) Snapshot() map[string]model.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]model.HealthRecord, len(m.stores))
	for _, st := range m.stores {
		id := st.Target().ID
		if rec, ok := m.records[id]; ok {
			out[id] = rec
		} else {
			out[id] = model.HealthRecord{TargetID: id}
		}
	}
	return out
}

// AllHealthy reports whether every registered target has a recorded healthy
// verdict. Unknown counts as unhealthy here: readiness is conservative even
// though the write path is optimistic.
func (m *Monitor) AllHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, st := range m.stores {
		rec, ok := m.records[st.Target().ID]
		if !ok || !rec.Healthy {
			return false
		}
	}
	return true
}

// Start launches the background probe loop. Safe to call once; later calls
// are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		atomic.StoreInt32(&m.started, 1)
		go m.loop(ctx)
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return
		case <-m.stopCh:
			m.logger.Info("Health monitor stopped")
			return
		case <-m.clock.After(m.probeInterval):
			m.ProbeAll(ctx)
		}
	}
}

// Stop terminates the background loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if atomic.LoadInt32(&m.started) == 1 {
			<-m.doneCh
		}
	})
}
