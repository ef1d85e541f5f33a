package streak

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/codestreak/backend/internal/platform"
)

// Mode selects the idempotence policy for a reconciliation.
type Mode string

const (
	// ModeScheduled is the authoritative nightly finalization pass.
	ModeScheduled Mode = "scheduled"
	// ModeForced is the startup catch-up pass; it probes even when a
	// same-day transition exists, but never commits twice in one day.
	ModeForced Mode = "forced"
	// ModeInstantCredit is the frequent polling pass that commits an early
	// "maintained" transition the moment activity is seen.
	ModeInstantCredit Mode = "instant"
)

// SkipReason explains why a reconciliation did not commit.
type SkipReason string

const (
	// SkipNoUsername: the user never linked a username for the platform.
	SkipNoUsername SkipReason = "no_username"
	// SkipProbeUnavailable: no activity probe is registered for the platform.
	SkipProbeUnavailable SkipReason = "probe_unavailable"
	// SkipAlreadyUpdatedToday: a transition for today is already committed.
	SkipAlreadyUpdatedToday SkipReason = "already_updated_today"
	// SkipAlreadyUpdatedNoNewActivity: forced mode re-probed a finalized day
	// and found nothing new.
	SkipAlreadyUpdatedNoNewActivity SkipReason = "already_updated_no_new_activity"
	// SkipNoActivity: instant-credit mode found no activity; finalization
	// will record the day's outcome.
	SkipNoActivity SkipReason = "no_activity"
)

// Outcome reports the result of a single reconciliation.
type Outcome struct {
	Committed     bool
	Skip          SkipReason
	Maintained    bool
	CurrentStreak int
	LongestStreak int
}

// ActivityProbe answers whether the username acted today on its platform.
type ActivityProbe interface {
	CheckToday(ctx context.Context, username string) (bool, error)
}

// StatsSource reports the cumulative solved count for a username.
type StatsSource interface {
	TotalSolved(ctx context.Context, username string) (int, error)
}

// Notifier delivers the streak outcome out of band. Implementations are
// best-effort; the reconciler never inspects delivery failures.
type Notifier interface {
	StreakResult(ctx context.Context, contact string, plat platform.Platform, maintained bool)
}

// ProbeSet dispatches platforms to their registered probe implementations.
type ProbeSet struct {
	activity map[platform.Platform]ActivityProbe
	stats    map[platform.Platform]StatsSource
}

// NewProbeSet returns an empty probe registry.
func NewProbeSet() *ProbeSet {
	return &ProbeSet{
		activity: make(map[platform.Platform]ActivityProbe),
		stats:    make(map[platform.Platform]StatsSource),
	}
}

// RegisterActivity binds the activity probe for a platform.
func (ps *ProbeSet) RegisterActivity(plat platform.Platform, probe ActivityProbe) {
	ps.activity[plat] = probe
}

// RegisterStats binds the cumulative-solved source for a platform.
func (ps *ProbeSet) RegisterStats(plat platform.Platform, source StatsSource) {
	ps.stats[plat] = source
}

// Activity looks up the activity probe for a platform.
func (ps *ProbeSet) Activity(plat platform.Platform) (ActivityProbe, bool) {
	probe, ok := ps.activity[plat]
	return probe, ok
}

// Stats looks up the stats source for a platform.
func (ps *ProbeSet) Stats(plat platform.Platform) (StatsSource, bool) {
	source, ok := ps.stats[plat]
	return source, ok
}

const (
	opReconcilerNew = "streak.reconciler.new"
	opReconcile     = "streak.reconcile"

	maxCommitAttempts = 3
)

var (
	errMissingStore    = errors.New("streak store is required")
	errMissingProbes   = errors.New("probe set is required")
	errCommitContended = errors.New("transition lost the conditional write repeatedly")
)

// ReconcilerConfig bundles the reconciler's collaborators.
type ReconcilerConfig struct {
	Store    *Store
	Probes   *ProbeSet
	Notifier Notifier
	Clock    func() time.Time
	Location *time.Location
	Logger   *zap.Logger
}

// Reconciler performs at most one committed streak transition per
// (user, platform, calendar day).
type Reconciler struct {
	store    *Store
	probes   *ProbeSet
	notifier Notifier
	clock    func() time.Time
	location *time.Location
	logger   *zap.Logger
}

// NewReconciler validates dependencies and constructs the state machine.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opReconcilerNew, "missing_store", errMissingStore)
	}
	if cfg.Probes == nil {
		return nil, newServiceError(opReconcilerNew, "missing_probes", errMissingProbes)
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
	return &Reconciler{
		store:    cfg.Store,
		probes:   cfg.Probes,
		notifier: cfg.Notifier,
		clock:    clock,
		location: location,
		logger:   logger,
	}, nil
}

// Subject identifies the user under reconciliation and the contact the
// notifier should reach.
type Subject struct {
	UserID  string
	Contact string
}

// Reconcile runs one transition for (subject, platform) under the mode's
// idempotence policy. Probe and notifier failures degrade locally; only a
// streak-store write failure is returned, so the next tick retries the day.
func (r *Reconciler) Reconcile(ctx context.Context, subject Subject, plat platform.Platform, mode Mode) (Outcome, error) {
	state, err := r.store.PlatformState(ctx, subject.UserID, plat)
	if err != nil {
		r.logError(opReconcile, "state_load_failed", err, subject.UserID, plat)
		return Outcome{}, newServiceError(opReconcile, "state_load_failed", err)
	}

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		if state == nil || state.Username == "" {
			return Outcome{Skip: SkipNoUsername}, nil
		}

		now := r.clock()
		today := DayOf(now, r.location)
		lastDay := ""
		if state.LastCheckedAtSeconds > 0 {
			lastDay = DayOf(time.Unix(state.LastCheckedAtSeconds, 0), r.location)
		}
		alreadyToday := lastDay == today

		// Scheduled and instant runs never re-probe a finalized day.
		if alreadyToday && mode != ModeForced {
			return r.skippedOutcome(state, SkipAlreadyUpdatedToday), nil
		}

		probe, ok := r.probes.Activity(plat)
		if !ok {
			r.logger.Warn("no activity probe registered",
				zap.String("platform", plat.String()),
				zap.String("user_id", subject.UserID))
			return r.skippedOutcome(state, SkipProbeUnavailable), nil
		}

		didSubmit, probeErr := probe.CheckToday(ctx, state.Username)
		if probeErr != nil {
			// No signal, never fatal. The next tick retries naturally.
			r.logger.Warn("activity probe failed, treating as no activity",
				zap.String("platform", plat.String()),
				zap.String("username", state.Username),
				zap.Error(probeErr))
			didSubmit = false
		}

		if alreadyToday {
			// Forced mode: the day is committed. Never double-increment;
			// distinguish "nothing new" for the caller's logs only.
			if !didSubmit {
				return r.skippedOutcome(state, SkipAlreadyUpdatedNoNewActivity), nil
			}
			return r.skippedOutcome(state, SkipAlreadyUpdatedToday), nil
		}

		if mode == ModeInstantCredit && !didSubmit {
			return r.skippedOutcome(state, SkipNoActivity), nil
		}

		next := *state
		if didSubmit {
			next.CurrentStreak++
			if next.CurrentStreak > next.LongestStreak {
				next.LongestStreak = next.CurrentStreak
			}
		} else {
			next.CurrentStreak = 0
		}
		next.LastCheckedAtSeconds = now.Unix()

		var solvedDelta int64
		if didSubmit {
			if source, ok := r.probes.Stats(plat); ok {
				total, statsErr := source.TotalSolved(ctx, state.Username)
				switch {
				case statsErr != nil:
					r.logger.Warn("stats source unavailable, skipping solved-count accounting",
						zap.String("platform", plat.String()),
						zap.String("username", state.Username),
						zap.Error(statsErr))
				case total > state.LastTotalSolved:
					solvedDelta = int64(total - state.LastTotalSolved)
					next.LastTotalSolved = total
				}
			}
		}

		err = r.store.CommitTransition(ctx, Transition{
			UserID:               subject.UserID,
			Platform:             plat,
			ExpectedVersion:      state.Version,
			CurrentStreak:        next.CurrentStreak,
			LongestStreak:        next.LongestStreak,
			LastCheckedAtSeconds: next.LastCheckedAtSeconds,
			LastTotalSolved:      next.LastTotalSolved,
			SolvedDelta:          solvedDelta,
		})
		if errors.Is(err, ErrVersionConflict) {
			// A concurrent sweep won the write. Reload and re-evaluate: if it
			// committed today's transition we skip, otherwise reapply ours.
			state, err = r.store.PlatformState(ctx, subject.UserID, plat)
			if err != nil {
				r.logError(opReconcile, "state_reload_failed", err, subject.UserID, plat)
				return Outcome{}, newServiceError(opReconcile, "state_reload_failed", err)
			}
			continue
		}
		if err != nil {
			r.logError(opReconcile, "store_write_failed", err, subject.UserID, plat)
			return Outcome{}, newServiceError(opReconcile, "store_write_failed", err)
		}

		if logErr := r.store.UpsertLog(ctx, StreakLog{
			UserID:            subject.UserID,
			Platform:          plat.String(),
			Day:               today,
			Username:          state.Username,
			Maintained:        didSubmit,
			CurrentStreak:     next.CurrentStreak,
			LongestStreak:     next.LongestStreak,
			RecordedAtSeconds: now.Unix(),
		}); logErr != nil {
			// The streak counters are authoritative; a history gap is
			// tolerable and must not roll back the committed transition.
			r.logError(opReconcile, "history_write_failed", logErr, subject.UserID, plat)
		}

		if r.notifier != nil && subject.Contact != "" {
			r.notifier.StreakResult(ctx, subject.Contact, plat, didSubmit)
		}

		r.logger.Info("streak transition committed",
			zap.String("user_id", subject.UserID),
			zap.String("platform", plat.String()),
			zap.String("mode", string(mode)),
			zap.Bool("maintained", didSubmit),
			zap.Int("current_streak", next.CurrentStreak),
			zap.Int("longest_streak", next.LongestStreak))

		return Outcome{
			Committed:     true,
			Maintained:    didSubmit,
			CurrentStreak: next.CurrentStreak,
			LongestStreak: next.LongestStreak,
		}, nil
	}

	r.logError(opReconcile, "commit_contended", errCommitContended, subject.UserID, plat)
	return Outcome{}, newServiceError(opReconcile, "commit_contended", errCommitContended)
}

func (r *Reconciler) skippedOutcome(state *PlatformStreak, reason SkipReason) Outcome {
	return Outcome{
		Skip:          reason,
		CurrentStreak: state.CurrentStreak,
		LongestStreak: state.LongestStreak,
	}
}

func (r *Reconciler) logError(operation, reason string, err error, userID string, plat platform.Platform) {
	r.logger.Error("streak reconciler error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("user_id", userID),
		zap.String("platform", plat.String()),
		zap.Error(err))
}
