package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/metrics"
	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/stats"
)

// ContentReader is the read side of a validation scenario. The local read
// router satisfies it directly; PeerReader satisfies it over HTTP for polls
// that must happen from the other side of the trust boundary.
type ContentReader interface {
	Read(ctx context.Context, key string, role model.Role) (*model.ReadResult, error)
}

// probeDocument is the content a scenario writes. The fresh nonce per run
// makes byte-equality a meaningful propagation check.
type probeDocument struct {
	Scenario  string `json:"scenario"`
	Nonce     string `json:"nonce"`
	WrittenAt string `json:"written_at"`
}

// ValidationOptions tunes the consistency validator.
type ValidationOptions struct {
	PollInterval   time.Duration
	MaxWait        time.Duration
	AttemptTimeout time.Duration
	Concurrency    int
}

// ValidationService runs write-then-poll consistency scenarios: write a
// probe through the targets of one role, then poll reads through another
// role until the exact bytes appear or the scenario times out.
type ValidationService struct {
	coordinator *CoordinatorService
	reader      ContentReader
	stats       *stats.Stats
	metrics     *metrics.Metrics
	clock       clock.Clock
	opts        ValidationOptions
	logger      *zap.Logger
}

// NewValidationService creates a new consistency validator.
func NewValidationService(
	coordinator *CoordinatorService,
	reader ContentReader,
	st *stats.Stats,
	m *metrics.Metrics,
	clk clock.Clock,
	opts ValidationOptions,
	logger *zap.Logger,
) *ValidationService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 2 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationService{
		coordinator: coordinator,
		reader:      reader,
		stats:       st,
		metrics:     m,
		clock:       clk,
		opts:        opts,
		logger:      logger,
	}
}

// RunScenario executes one scenario and always returns a report; failures
// are states, not errors.
func (s *ValidationService) RunScenario(ctx context.Context, sc model.Scenario) *model.ScenarioReport {
	maxWait := sc.MaxWait
	if maxWait <= 0 {
		maxWait = s.opts.MaxWait
	}
	pollInterval := sc.PollInterval
	if pollInterval <= 0 {
		pollInterval = s.opts.PollInterval
	}

	report := &model.ScenarioReport{Scenario: sc, State: model.ScenarioPending}

	if !sc.WriterRole.Valid() || !sc.ReaderRole.Valid() {
		report.State = model.ScenarioWriteFailed
		report.Err = fmt.Sprintf("scenario %s: writer and reader roles must be local or shared", sc.Name)
		s.record(sc, false)
		return report
	}

	key := fmt.Sprintf("consistency-checks/%s/%d-%s.json", sc.Name, s.clock.Now().UnixNano(), uuid.New().String())
	report.Key = key

	doc := probeDocument{
		Scenario:  sc.Name,
		Nonce:     uuid.New().String(),
		WrittenAt: s.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		report.State = model.ScenarioWriteFailed
		report.Err = err.Error()
		s.record(sc, false)
		return report
	}

	// Metadata-free write: the stored bytes are exactly the payload, so the
	// poll compares bytes without a read-back through the writer.
	req := &model.WriteRequest{Key: key, Content: payload, RequestedAt: s.clock.Now()}

	report.State = model.ScenarioWriting
	writeStart := s.clock.Now()
	agg, err := s.coordinator.WriteRole(ctx, req, sc.WriterRole)
	report.WriteLatency = s.clock.Now().Sub(writeStart)

	if err != nil || !agg.OverallSuccess {
		report.State = model.ScenarioWriteFailed
		if err != nil {
			report.Err = err.Error()
		} else {
			report.Err = fmt.Sprintf("write through %s targets failed", sc.WriterRole)
		}
		s.logger.Warn("Validation write failed",
			zap.String("scenario", sc.Name),
			zap.String("key", key),
			zap.String("error", report.Err))
		s.record(sc, false)
		return report
	}

	report.State = model.ScenarioPolling
	pollStart := s.clock.Now()
	deadline := pollStart.Add(maxWait)

	for {
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 || ctx.Err() != nil {
			break
		}

		attemptTimeout := s.opts.AttemptTimeout
		if remaining < attemptTimeout {
			attemptTimeout = remaining
		}

		report.Attempts++
		pollCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		res, rerr := s.reader.Read(pollCtx, key, sc.ReaderRole)
		cancel()

		if rerr == nil {
			if report.FirstReadLatency == 0 {
				report.FirstReadLatency = s.clock.Now().Sub(pollStart)
			}
			if bytes.Equal(res.Content, payload) {
				report.State = model.ScenarioPassed
				report.Passed = true
				s.logger.Info("Validation scenario passed",
					zap.String("scenario", sc.Name),
					zap.String("key", key),
					zap.Int("attempts", report.Attempts),
					zap.Duration("write_latency", report.WriteLatency),
					zap.Duration("first_read_latency", report.FirstReadLatency))
				s.record(sc, true)
				return report
			}
			// Key visible but content stale: a concurrent writer or partial
			// propagation. Keep polling.
		}

		sleep := pollInterval
		if rem := deadline.Sub(s.clock.Now()); rem < sleep {
			sleep = rem
		}
		if sleep > 0 {
			select {
			case <-s.clock.After(sleep):
			case <-ctx.Done():
			}
		}
	}

	report.State = model.ScenarioTimedOut
	report.Err = errors.ValidationTimeout(sc.Name, maxWait).Error()
	s.logger.Warn("Validation scenario timed out",
		zap.String("scenario", sc.Name),
		zap.String("key", key),
		zap.Int("attempts", report.Attempts),
		zap.Duration("max_wait", maxWait))
	s.record(sc, false)
	return report
}

// RunSuite executes scenarios with at most Concurrency in flight and
// returns reports in input order.
func (s *ValidationService) RunSuite(ctx context.Context, scenarios []model.Scenario) []*model.ScenarioReport {
	reports := make([]*model.ScenarioReport, len(scenarios))

	if s.opts.Concurrency == 1 {
		for i, sc := range scenarios {
			reports[i] = s.RunScenario(ctx, sc)
		}
		return reports
	}

	sem := semaphore.NewWeighted(int64(s.opts.Concurrency))
	var wg sync.WaitGroup
	for i, sc := range scenarios {
		i, sc := i, sc // Capture loop variables
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				reports[i] = &model.ScenarioReport{
					Scenario: sc,
					State:    model.ScenarioPending,
					Err:      err.Error(),
				}
				return
			}
			defer sem.Release(1)
			reports[i] = s.RunScenario(ctx, sc)
		}()
	}
	wg.Wait()

	return reports
}

func (s *ValidationService) record(sc model.Scenario, passed bool) {
	if s.stats != nil {
		s.stats.RecordValidation(passed)
	}
	if s.metrics != nil {
		s.metrics.RecordValidation(sc.Name, passed)
	}
}
