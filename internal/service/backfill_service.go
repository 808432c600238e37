package service

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/store"
)

// BackfillOptions tunes the recovery pass.
type BackfillOptions struct {
	AttemptTimeout time.Duration
}

// BackfillService copies files present on the local target but absent from a
// shared target. It is one-shot recovery after a degraded write window, not
// a replication protocol: existing shared copies are never overwritten, so a
// newer shared-side version always wins.
type BackfillService struct {
	local  store.TargetStore
	shared []store.TargetStore
	clock  clock.Clock
	opts   BackfillOptions
	logger *zap.Logger
}

// NewBackfillService selects the first local target as the source and every
// shared target as a destination.
func NewBackfillService(stores []store.TargetStore, clk clock.Clock, opts BackfillOptions, logger *zap.Logger) (*BackfillService, error) {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc := &BackfillService{clock: clk, opts: opts, logger: logger}
	for _, st := range stores {
		switch st.Target().Role {
		case model.RoleLocal:
			if svc.local == nil {
				svc.local = st
			}
		case model.RoleShared:
			svc.shared = append(svc.shared, st)
		}
	}
	if svc.local == nil {
		return nil, errors.InvalidArgument("backfill requires a local target", nil)
	}
	if len(svc.shared) == 0 {
		return nil, errors.InvalidArgument("backfill requires at least one shared target", nil)
	}
	return svc, nil
}

// Run scans the local tree and copies missing keys to the shared targets.
// Per-file failures are collected, never fatal; the error return covers only
// a failed scan of the source.
func (s *BackfillService) Run(ctx context.Context) (*model.BackfillResult, error) {
	start := s.clock.Now()
	s.logger.Info("Backfill started", zap.String("source", s.local.Target().ID))

	var files []model.FileInfo
	err := s.bounded(ctx, "backfill scan", func(opCtx context.Context) error {
		var listErr error
		files, listErr = s.local.List(opCtx, "")
		return listErr
	})
	if err != nil {
		return nil, err
	}

	result := &model.BackfillResult{}
	for _, f := range files {
		if f.Dir {
			continue
		}
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("backfill aborted: %v", ctx.Err()))
			break
		}

		key := f.Name
		result.Scanned++

		// Read lazily: most keys already exist on the shared side.
		var data []byte

		for _, dst := range s.shared {
			dstID := dst.Target().ID

			err := s.bounded(ctx, fmt.Sprintf("stat %s on %s", key, dstID), func(opCtx context.Context) error {
				_, statErr := dst.Stat(opCtx, key)
				return statErr
			})
			if err == nil {
				continue
			}
			if !errors.IsCode(err, errors.ErrCodeNotFound) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s on %s: %v", key, dstID, err))
				continue
			}

			if data == nil {
				err := s.bounded(ctx, fmt.Sprintf("read %s from %s", key, s.local.Target().ID), func(opCtx context.Context) error {
					var readErr error
					data, readErr = s.local.Read(opCtx, key)
					return readErr
				})
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, err))
					break
				}
			}

			err = s.bounded(ctx, fmt.Sprintf("write %s to %s", key, dstID), func(opCtx context.Context) error {
				_, writeErr := dst.Write(opCtx, key, data)
				return writeErr
			})
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s on %s: %v", key, dstID, err))
				continue
			}

			result.Synced++
			s.logger.Debug("Backfilled file",
				zap.String("key", key),
				zap.String("target", dstID),
				zap.Int("bytes", len(data)))
		}
	}

	result.Elapsed = s.clock.Now().Sub(start)
	s.logger.Info("Backfill completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("synced", result.Synced),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", result.Elapsed))

	return result, nil
}

// bounded runs one store call in its own goroutine so a hung mount cannot
// stall the pass past the per-call deadline.
func (s *BackfillService) bounded(ctx context.Context, op string, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(opCtx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-opCtx.Done():
		return errors.Timeout(op, s.opts.AttemptTimeout, opCtx.Err())
	}
}
