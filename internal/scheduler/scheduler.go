package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codestreak/backend/internal/config"
	"github.com/codestreak/backend/internal/platform"
	"github.com/codestreak/backend/internal/streak"
)

const (
	defaultWorkers  = 4
	defaultPageSize = 100
)

var (
	errMissingStore      = errors.New("streak store is required")
	errMissingReconciler = errors.New("reconciler is required")
)

// WarningNotifier delivers the read-only day-end reminder.
type WarningNotifier interface {
	PendingWarning(ctx context.Context, contact string, plat platform.Platform)
}

// Config bundles the scheduler's collaborators and timing knobs.
type Config struct {
	Store           *streak.Store
	Reconciler      *streak.Reconciler
	Notifier        WarningNotifier
	Clock           func() time.Time
	Location        *time.Location
	Logger          *zap.Logger
	FinalizeAt      config.WallClock
	WarningAt       config.WallClock
	InstantInterval time.Duration
	Workers         int
	PageSize        int
}

// Scheduler drives the reconciliation sweeps: a daily finalization pass, a
// frequent instant-credit pass, a day-end warning pass and a one-off startup
// pass. All four share the same paginated iteration over tracked accounts.
type Scheduler struct {
	store           *streak.Store
	reconciler      *streak.Reconciler
	notifier        WarningNotifier
	clock           func() time.Time
	location        *time.Location
	logger          *zap.Logger
	finalizeAt      config.WallClock
	warningAt       config.WallClock
	instantInterval time.Duration
	workers         int
	pageSize        int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New validates dependencies and constructs the scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Reconciler == nil {
		return nil, errMissingReconciler
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	interval := cfg.InstantInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		store:           cfg.Store,
		reconciler:      cfg.Reconciler,
		notifier:        cfg.Notifier,
		clock:           clock,
		location:        location,
		logger:          logger,
		finalizeAt:      cfg.FinalizeAt,
		warningAt:       cfg.WarningAt,
		instantInterval: interval,
		workers:         workers,
		pageSize:        pageSize,
		stopCh:          make(chan struct{}),
	}, nil
}

// Start launches the recurring sweeps.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(3)
	go s.runDaily(ctx, s.finalizeAt, "finalization", func(runCtx context.Context) {
		s.ReconcileSweep(runCtx, streak.ModeScheduled)
	})
	go s.runEvery(ctx, s.instantInterval, "instant_credit", func(runCtx context.Context) {
		s.ReconcileSweep(runCtx, streak.ModeInstantCredit)
	})
	go s.runDaily(ctx, s.warningAt, "warning", s.WarningSweep)
}

// Stop halts the recurring sweeps and waits for in-flight ones to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunStartup performs the forced catch-up pass for days missed while the
// service was down. Call it once before Start.
func (s *Scheduler) RunStartup(ctx context.Context) {
	s.logger.Info("running startup reconciliation sweep")
	s.ReconcileSweep(ctx, streak.ModeForced)
}

func (s *Scheduler) runDaily(ctx context.Context, at config.WallClock, name string, run func(context.Context)) {
	defer s.wg.Done()
	for {
		now := s.clock().In(s.location)
		timer := time.NewTimer(nextOccurrence(now, at).Sub(now))
		select {
		case <-timer.C:
			s.logger.Info("sweep starting", zap.String("sweep", name))
			run(ctx)
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) runEvery(ctx context.Context, interval time.Duration, name string, run func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.logger.Debug("sweep starting", zap.String("sweep", name))
			run(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// nextOccurrence finds the next wall-clock instant for the time-of-day,
// today if still ahead, otherwise tomorrow.
func nextOccurrence(now time.Time, at config.WallClock) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// ReconcileSweep pages through tracked accounts and reconciles every
// selected platform under the given mode. Users fan out up to the worker
// bound; platforms within one user run serially. A failing user never
// aborts the sweep; failures aggregate into the closing log line.
func (s *Scheduler) ReconcileSweep(ctx context.Context, mode streak.Mode) {
	started := s.clock()
	var users, failures atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	cursor := ""
	for {
		if ctx.Err() != nil {
			break
		}
		page, next, err := s.store.TrackedPage(ctx, cursor, s.pageSize)
		if err != nil {
			s.logger.Error("tracked accounts page failed", zap.Error(err))
			break
		}
		if next == "" {
			break
		}
		cursor = next

		for _, tracked := range page {
			tracked := tracked
			users.Add(1)
			group.Go(func() error {
				s.reconcileAccount(groupCtx, tracked, mode, &failures)
				return nil
			})
		}
	}

	_ = group.Wait()
	s.logger.Info("reconciliation sweep finished",
		zap.String("mode", string(mode)),
		zap.Int64("users", users.Load()),
		zap.Int64("failures", failures.Load()),
		zap.Duration("elapsed", s.clock().Sub(started)))
}

func (s *Scheduler) reconcileAccount(ctx context.Context, tracked streak.TrackedAccount, mode streak.Mode, failures *atomic.Int64) {
	subject := streak.Subject{
		UserID:  tracked.Account.UserID,
		Contact: tracked.Account.Email,
	}
	for _, state := range tracked.Platforms {
		if ctx.Err() != nil {
			return
		}
		plat, err := platform.Parse(state.Platform)
		if err != nil {
			s.logger.Warn("skipping unknown platform row",
				zap.String("user_id", subject.UserID),
				zap.String("platform", state.Platform))
			continue
		}
		if _, err := s.reconciler.Reconcile(ctx, subject, plat, mode); err != nil {
			// Already logged with context by the reconciler.
			failures.Add(1)
		}
	}
}

// WarningSweep notifies users who have not yet acted today. It mutates no
// streak state. Free-tier accounts are warned only for the default platform;
// active pro subscriptions are warned for every selected platform.
func (s *Scheduler) WarningSweep(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	now := s.clock()
	today := streak.DayOf(now, s.location)
	var warned int

	cursor := ""
	for {
		if ctx.Err() != nil {
			return
		}
		page, next, err := s.store.TrackedPage(ctx, cursor, s.pageSize)
		if err != nil {
			s.logger.Error("tracked accounts page failed", zap.Error(err))
			return
		}
		if next == "" {
			break
		}
		cursor = next

		for _, tracked := range page {
			for _, state := range tracked.Platforms {
				plat, err := platform.Parse(state.Platform)
				if err != nil {
					continue
				}
				if !warnEligible(tracked.Account, plat) {
					continue
				}
				if state.Username == "" {
					continue
				}
				lastDay := ""
				if state.LastCheckedAtSeconds > 0 {
					lastDay = streak.DayOf(time.Unix(state.LastCheckedAtSeconds, 0), s.location)
				}
				if lastDay == today {
					continue
				}
				s.notifier.PendingWarning(ctx, tracked.Account.Email, plat)
				warned++
			}
		}
	}

	s.logger.Info("warning sweep finished", zap.Int("notified", warned))
}

func warnEligible(account streak.Account, plat platform.Platform) bool {
	pro := account.SubscriptionTier == streak.TierPro && account.SubscriptionStatus == streak.SubscriptionActive
	if pro {
		return true
	}
	return plat == platform.Default
}
