package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/health"
	"github.com/corebank/dualmount/internal/metrics"
	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/stats"
	"github.com/corebank/dualmount/internal/store"
)

// roleFallback is the read priority when no explicit role is requested: the
// local mount is authoritative for this node, the shared mount is the
// cross-domain copy.
var roleFallback = []model.Role{model.RoleLocal, model.RoleShared}

// RoutingOptions tunes the read router.
type RoutingOptions struct {
	// AttemptTimeout bounds one read or list attempt against one target.
	AttemptTimeout time.Duration
}

// RoutingService resolves reads and listings to a target: an explicit role
// restricts the candidates, otherwise targets are tried in [local, shared]
// order and the first hit wins.
type RoutingService struct {
	stores  []store.TargetStore
	monitor *health.Monitor
	stats   *stats.Stats
	metrics *metrics.Metrics
	opts    RoutingOptions
	logger  *zap.Logger
}

// NewRoutingService creates a new read router.
func NewRoutingService(
	stores []store.TargetStore,
	monitor *health.Monitor,
	st *stats.Stats,
	m *metrics.Metrics,
	opts RoutingOptions,
	logger *zap.Logger,
) *RoutingService {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingService{
		stores:  stores,
		monitor: monitor,
		stats:   st,
		metrics: m,
		opts:    opts,
		logger:  logger,
	}
}

// candidates returns the stores to try, in priority order. An empty role
// expands to the [local, shared] fallback chain.
func (s *RoutingService) candidates(role model.Role) []store.TargetStore {
	if role != "" {
		var out []store.TargetStore
		for _, st := range s.stores {
			if st.Target().Role == role {
				out = append(out, st)
			}
		}
		return out
	}

	var out []store.TargetStore
	for _, r := range roleFallback {
		for _, st := range s.stores {
			if st.Target().Role == r {
				out = append(out, st)
			}
		}
	}
	return out
}

// Read returns the content for key from the first target that has it. A
// read immediately after a write may see only the targets that had already
// completed; callers that need read-after-write must pin the role they
// wrote through.
func (s *RoutingService) Read(ctx context.Context, key string, role model.Role) (*model.ReadResult, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}
	if role != "" && !role.Valid() {
		return nil, errors.InvalidArgument(fmt.Sprintf("unknown target role %q", role), nil)
	}

	targets := s.candidates(role)
	if len(targets) == 0 {
		return nil, errors.InvalidArgument(fmt.Sprintf("no targets with role %q", role), nil)
	}

	perTarget := make(map[string]string, len(targets))
	for _, st := range targets {
		id := st.Target().ID

		data, err := s.readTarget(ctx, st, key)
		if err != nil {
			perTarget[id] = err.Error()
			if s.metrics != nil {
				s.metrics.RecordRead(id, false)
			}
			s.logger.Debug("Read miss",
				zap.String("target", id),
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		if s.stats != nil {
			s.stats.RecordRead(true, int64(len(data)))
		}
		if s.metrics != nil {
			s.metrics.RecordRead(id, true)
		}
		return &model.ReadResult{
			Key:          key,
			Content:      data,
			SourceTarget: id,
			BytesRead:    int64(len(data)),
		}, nil
	}

	if s.stats != nil {
		s.stats.RecordRead(false, 0)
	}

	err := errors.NotFound(key)
	for id, msg := range perTarget {
		err = err.WithDetail(id, msg)
	}
	return nil, err
}

// List walks the resolved target under prefix. Without an explicit role,
// targets with a healthy verdict are tried first, then the rest in the same
// [local, shared] order; the first successful walk wins.
func (s *RoutingService) List(ctx context.Context, prefix string, role model.Role) ([]model.FileInfo, error) {
	if role != "" && !role.Valid() {
		return nil, errors.InvalidArgument(fmt.Sprintf("unknown target role %q", role), nil)
	}

	targets := s.candidates(role)
	if len(targets) == 0 {
		return nil, errors.InvalidArgument(fmt.Sprintf("no targets with role %q", role), nil)
	}

	if s.stats != nil {
		s.stats.RecordList()
	}

	ordered := targets
	if role == "" && s.monitor != nil {
		healthy := make([]store.TargetStore, 0, len(targets))
		var rest []store.TargetStore
		for _, st := range targets {
			if s.monitor.Healthy(st.Target().ID) {
				healthy = append(healthy, st)
			} else {
				rest = append(rest, st)
			}
		}
		ordered = append(healthy, rest...)
	}

	var lastErr error
	for _, st := range ordered {
		files, err := s.listTarget(ctx, st, prefix)
		if err != nil {
			lastErr = err
			s.logger.Warn("List failed, falling back",
				zap.String("target", st.Target().ID),
				zap.String("prefix", prefix),
				zap.Error(err))
			continue
		}
		return files, nil
	}
	return nil, lastErr
}

// readTarget performs one bounded read attempt; the store call runs in its
// own goroutine so a hung mount cannot stall past the deadline.
func (s *RoutingService) readTarget(ctx context.Context, st store.TargetStore, key string) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
	defer cancel()

	type readResult struct {
		data []byte
		err  error
	}
	resCh := make(chan readResult, 1)
	go func() {
		data, err := st.Read(readCtx, key)
		resCh <- readResult{data: data, err: err}
	}()

	select {
	case res := <-resCh:
		return res.data, res.err
	case <-readCtx.Done():
		return nil, errors.Timeout(
			fmt.Sprintf("read %s from %s", key, st.Target().ID),
			s.opts.AttemptTimeout,
			readCtx.Err(),
		)
	}
}

func (s *RoutingService) listTarget(ctx context.Context, st store.TargetStore, prefix string) ([]model.FileInfo, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
	defer cancel()

	type listResult struct {
		files []model.FileInfo
		err   error
	}
	resCh := make(chan listResult, 1)
	go func() {
		files, err := st.List(listCtx, prefix)
		resCh <- listResult{files: files, err: err}
	}()

	select {
	case res := <-resCh:
		return res.files, res.err
	case <-listCtx.Done():
		return nil, errors.Timeout(
			fmt.Sprintf("list %s on %s", prefix, st.Target().ID),
			s.opts.AttemptTimeout,
			listCtx.Err(),
		)
	}
}
