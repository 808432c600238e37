package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/health"
	"github.com/corebank/dualmount/internal/metrics"
	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/stats"
	"github.com/corebank/dualmount/internal/store"
	"github.com/corebank/dualmount/internal/util/workerpool"
)

// CoordinatorOptions tunes the write coordinator.
type CoordinatorOptions struct {
	DefaultPolicy  model.WritePolicy
	AttemptTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	OverallTimeout time.Duration
}

// CoordinatorService fans one write out to every configured target in
// parallel, retries transient per-target failures with exponential backoff,
// and reduces the per-target outcomes into one aggregate verdict under the
// requested success policy.
type CoordinatorService struct {
	stores  []store.TargetStore
	monitor *health.Monitor
	stats   *stats.Stats
	metrics *metrics.Metrics
	pool    *workerpool.Pool
	clock   clock.Clock
	opts    CoordinatorOptions
	logger  *zap.Logger
}

// NewCoordinatorService creates a new write coordinator.
func NewCoordinatorService(
	stores []store.TargetStore,
	monitor *health.Monitor,
	st *stats.Stats,
	m *metrics.Metrics,
	pool *workerpool.Pool,
	clk clock.Clock,
	opts CoordinatorOptions,
	logger *zap.Logger,
) *CoordinatorService {
	if opts.DefaultPolicy == "" {
		opts.DefaultPolicy = model.PolicyRequireLocal
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 200 * time.Millisecond
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = 2 * time.Second
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CoordinatorService{
		stores:  stores,
		monitor: monitor,
		stats:   st,
		metrics: m,
		pool:    pool,
		clock:   clk,
		opts:    opts,
		logger:  logger,
	}
}

// Write coordinates one write across all targets. The error return covers
// invalid input only; per-target failures and the policy verdict live in
// the AggregateResult.
func (s *CoordinatorService) Write(ctx context.Context, req *model.WriteRequest, policy model.WritePolicy) (*model.AggregateResult, error) {
	payload, err := s.preparePayload(req)
	if err != nil {
		return nil, err
	}
	if policy == "" {
		policy = s.opts.DefaultPolicy
	}
	return s.writeTargets(ctx, req.Key, payload, s.stores, policy)
}

// WriteRole coordinates a write against the targets of a single role. Every
// selected target must succeed; the validator and the backfill sync use this
// to address one side of the mount pair.
func (s *CoordinatorService) WriteRole(ctx context.Context, req *model.WriteRequest, role model.Role) (*model.AggregateResult, error) {
	if !role.Valid() {
		return nil, errors.InvalidArgument(fmt.Sprintf("unknown target role %q", role), nil)
	}

	payload, err := s.preparePayload(req)
	if err != nil {
		return nil, err
	}

	var targets []store.TargetStore
	for _, st := range s.stores {
		if st.Target().Role == role {
			targets = append(targets, st)
		}
	}
	if len(targets) == 0 {
		return nil, errors.InvalidArgument(fmt.Sprintf("no targets with role %q", role), nil)
	}

	return s.writeTargets(ctx, req.Key, payload, targets, model.PolicyRequireAll)
}

// preparePayload validates the request and encodes the stored bytes once so
// every target receives identical content.
func (s *CoordinatorService) preparePayload(req *model.WriteRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.InvalidArgument("write request is required", nil)
	}
	if err := store.ValidateKey(req.Key); err != nil {
		return nil, err
	}
	// Empty content is a legitimate write; absent content is not.
	if req.Content == nil {
		return nil, errors.InvalidArgument("write content must not be nil", nil)
	}
	payload, err := req.Payload()
	if err != nil {
		return nil, errors.Internal("failed to encode write payload", err)
	}
	return payload, nil
}

// writeTargets runs the parallel fan-out and reduces the outcomes.
func (s *CoordinatorService) writeTargets(
	ctx context.Context,
	key string,
	payload []byte,
	targets []store.TargetStore,
	policy model.WritePolicy,
) (*model.AggregateResult, error) {
	start := s.clock.Now()

	overallCtx, cancel := context.WithTimeout(ctx, s.opts.OverallTimeout)
	defer cancel()

	s.logger.Info("Coordinating write",
		zap.String("key", key),
		zap.String("policy", string(policy)),
		zap.Int("targets", len(targets)),
		zap.Int("payload_bytes", len(payload)))

	results := make(map[string]model.WriteAttempt, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(overallCtx)
	for _, st := range targets {
		st := st // Capture loop variable
		g.Go(func() error {
			attempt := s.writeTarget(gctx, st, key, payload, policy)
			// Don't return error, collect the attempt
			mu.Lock()
			results[st.Target().ID] = attempt
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	// Wait for every target to settle or the overall deadline, whichever
	// comes first. Goroutines still in flight at the deadline are abandoned
	// and their targets reported as timed out.
	select {
	case <-done:
	case <-overallCtx.Done():
	}

	mu.Lock()
	perTarget := make(map[string]model.WriteAttempt, len(targets))
	for id, attempt := range results {
		perTarget[id] = attempt
	}
	mu.Unlock()

	for _, st := range targets {
		id := st.Target().ID
		if _, ok := perTarget[id]; !ok {
			perTarget[id] = model.WriteAttempt{
				TargetID: id,
				Outcome:  model.OutcomeTimeout,
				Err:      errors.Timeout("write "+key, s.opts.OverallTimeout, overallCtx.Err()).Error(),
			}
		}
	}

	overall := s.evaluatePolicy(targets, perTarget, policy)
	elapsed := s.clock.Now().Sub(start)

	var successBytes int64
	for _, attempt := range perTarget {
		if attempt.Outcome == model.OutcomeSuccess {
			successBytes += attempt.BytesWritten
		}
		if attempt.Outcome == model.OutcomeIOError || attempt.Outcome == model.OutcomeTimeout {
			if s.stats != nil {
				s.stats.RecordTargetFailure(attempt.TargetID)
			}
		}
		if s.metrics != nil {
			s.metrics.RecordWriteAttempt(attempt.TargetID, string(attempt.Outcome), attempt.BytesWritten)
		}
	}
	if s.stats != nil {
		s.stats.RecordWrite(overall, elapsed, successBytes)
	}
	if s.metrics != nil {
		s.metrics.RecordWrite(string(policy), overall, elapsed)
	}

	s.logger.Info("Write completed",
		zap.String("key", key),
		zap.String("policy", string(policy)),
		zap.Bool("success", overall),
		zap.Duration("elapsed", elapsed))

	return &model.AggregateResult{
		Key:            key,
		PerTarget:      perTarget,
		OverallSuccess: overall,
		Policy:         policy,
		Elapsed:        elapsed,
	}, nil
}

// evaluatePolicy reduces per-target outcomes into the aggregate verdict.
func (s *CoordinatorService) evaluatePolicy(
	targets []store.TargetStore,
	perTarget map[string]model.WriteAttempt,
	policy model.WritePolicy,
) bool {
	anySuccess := false
	hasMandatory := false
	allMandatory := true

	for _, st := range targets {
		target := st.Target()
		ok := perTarget[target.ID].Outcome == model.OutcomeSuccess
		if ok {
			anySuccess = true
		}
		if policy.Mandatory(target.Role) {
			hasMandatory = true
			if !ok {
				allMandatory = false
			}
		}
	}

	if policy == model.PolicyRequireAny {
		return anySuccess
	}
	// A policy whose mandatory role is absent from the selected targets
	// cannot be satisfied.
	return hasMandatory && allMandatory
}

// writeTarget runs the retry loop against a single target and reports the
// final attempt. Non-mandatory targets with a recorded unhealthy verdict
// are skipped without touching the mount; mandatory targets are always
// attempted so a stale verdict cannot veto the policy.
func (s *CoordinatorService) writeTarget(
	ctx context.Context,
	st store.TargetStore,
	key string,
	payload []byte,
	policy model.WritePolicy,
) model.WriteAttempt {
	target := st.Target()
	started := s.clock.Now()

	if !policy.Mandatory(target.Role) && s.monitor != nil && !s.monitor.Healthy(target.ID) {
		s.logger.Info("Skipping unhealthy target",
			zap.String("target", target.ID),
			zap.String("key", key))
		return model.WriteAttempt{
			TargetID:  target.ID,
			StartedAt: started,
			Outcome:   model.OutcomeSkippedUnhealthy,
			Err:       "target marked unhealthy, write skipped",
		}
	}

	var (
		bytesWritten int64
		attempts     int
		lastErr      error
	)

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			n, werr := s.attemptWrite(ctx, st, key, payload)
			if werr != nil {
				lastErr = werr
				return werr
			}
			bytesWritten = n
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Retryable(errors.CodeOf(err))
		},
		NotifyFunc: func(lastError error, attempt int) {
			s.logger.Warn("Write attempt failed",
				zap.String("target", target.ID),
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Error(lastError))
		},
		Attempts:    s.opts.MaxRetries,
		Delay:       s.opts.RetryBaseDelay,
		MaxDelay:    s.opts.RetryMaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       s.clock,
		Stop:        ctx.Done(),
	})

	duration := s.clock.Now().Sub(started)

	if err != nil {
		finalErr := lastErr
		if finalErr == nil {
			finalErr = err
		}
		outcome := model.OutcomeIOError
		if errors.CodeOf(finalErr) == errors.ErrCodeTimeout {
			outcome = model.OutcomeTimeout
		}
		return model.WriteAttempt{
			TargetID:  target.ID,
			Attempt:   attempts,
			StartedAt: started,
			Duration:  duration,
			Outcome:   outcome,
			Err:       finalErr.Error(),
		}
	}

	return model.WriteAttempt{
		TargetID:     target.ID,
		Attempt:      attempts,
		StartedAt:    started,
		Duration:     duration,
		Outcome:      model.OutcomeSuccess,
		BytesWritten: bytesWritten,
	}
}

// attemptWrite performs one bounded write attempt. The store call runs in
// its own goroutine so a mount hung inside a syscall cannot stall the
// attempt past its deadline.
func (s *CoordinatorService) attemptWrite(ctx context.Context, st store.TargetStore, key string, payload []byte) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
	defer cancel()

	type writeResult struct {
		n   int64
		err error
	}
	resCh := make(chan writeResult, 1)
	go func() {
		n, err := st.Write(attemptCtx, key, payload)
		resCh <- writeResult{n: n, err: err}
	}()

	select {
	case res := <-resCh:
		return res.n, res.err
	case <-attemptCtx.Done():
		return 0, errors.Timeout(
			fmt.Sprintf("write %s to %s", key, st.Target().ID),
			s.opts.AttemptTimeout,
			attemptCtx.Err(),
		)
	}
}

// WriteBatch runs many writes through the shared worker pool and summarizes
// the outcomes. Item failures never abort the batch.
func (s *CoordinatorService) WriteBatch(ctx context.Context, items []model.BatchItem, policy model.WritePolicy) (*model.BatchResult, error) {
	if len(items) == 0 {
		return nil, errors.InvalidArgument("batch contains no items", nil)
	}
	if policy == "" {
		policy = s.opts.DefaultPolicy
	}

	start := s.clock.Now()
	result := &model.BatchResult{Total: len(items)}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, item := range items {
		i, item := i, item // Capture loop variables
		wg.Add(1)

		task := workerpool.Task{
			ID:  fmt.Sprintf("batch-%d-%s", i, item.Key),
			Ctx: ctx,
			Run: func(taskCtx context.Context) error {
				defer wg.Done()

				req := &model.WriteRequest{
					Key:         item.Key,
					Content:     item.Content,
					Metadata:    item.Metadata,
					RequestedAt: s.clock.Now(),
				}
				agg, err := s.Write(taskCtx, req, policy)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					result.Failed++
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Key, err))
				case !agg.OverallSuccess:
					result.Failed++
					perr := errors.PolicyUnsatisfied(string(agg.Policy), "one or more required targets failed")
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Key, perr))
				default:
					result.Succeeded++
				}
				return err
			},
		}

		if err := s.pool.SubmitWithContext(ctx, task); err != nil {
			wg.Done()
			mu.Lock()
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Key, err))
			mu.Unlock()
		}
	}
	wg.Wait()

	result.Elapsed = s.clock.Now().Sub(start)
	if secs := result.Elapsed.Seconds(); secs > 0 {
		result.Throughput = float64(result.Succeeded) / secs
	}

	s.logger.Info("Batch write completed",
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", result.Elapsed))

	return result, nil
}

// Targets returns the coordinated targets in configuration order.
func (s *CoordinatorService) Targets() []model.Target {
	targets := make([]model.Target, 0, len(s.stores))
	for _, st := range s.stores {
		targets = append(targets, st.Target())
	}
	return targets
}
