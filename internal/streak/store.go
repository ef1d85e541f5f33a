package streak

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codestreak/backend/internal/platform"
)

const (
	opStoreNew        = "streak.store.new"
	opPlatformState   = "streak.store.platform_state"
	opCommit          = "streak.store.commit_transition"
	opUpsertLog       = "streak.store.upsert_log"
	opStreakState     = "streak.store.streak_state"
	opHistory         = "streak.store.history"
	opLeaderboard     = "streak.store.leaderboard"
	opTrackedPage     = "streak.store.tracked_page"
	opOverrideCurrent = "streak.store.override_current"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

var (
	errMissingDatabase = errors.New("database handle is required")

	// ErrVersionConflict signals that the platform row changed underneath a
	// conditional write; callers reload and reapply.
	ErrVersionConflict = errors.New("streak: platform state version conflict")
)

// Store owns all reads and writes of streak state and the history log.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore wraps the database handle for streak persistence.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

// PlatformState returns the streak row for (userID, platform), or nil when
// the user never linked the platform.
func (s *Store) PlatformState(ctx context.Context, userID string, plat platform.Platform) (*PlatformStreak, error) {
	var state PlatformStreak
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, plat.String()).
		Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(opPlatformState, "query_failed", err)
	}
	return &state, nil
}

// Transition describes the per-platform fields a single reconciliation owns.
// The write commits only when the stored version still matches
// ExpectedVersion, which keeps overlapping sweeps from double-committing.
type Transition struct {
	UserID               string
	Platform             platform.Platform
	ExpectedVersion      int64
	CurrentStreak        int
	LongestStreak        int
	LastCheckedAtSeconds int64
	LastTotalSolved      int
	SolvedDelta          int64
}

// CommitTransition applies the transition atomically: the conditional
// platform-row update plus the account-level solved-count increment.
func (s *Store) CommitTransition(ctx context.Context, transition Transition) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PlatformStreak{}).
			Where("user_id = ? AND platform = ? AND version = ?",
				transition.UserID, transition.Platform.String(), transition.ExpectedVersion).
			Updates(map[string]interface{}{
				"current_streak":    transition.CurrentStreak,
				"longest_streak":    transition.LongestStreak,
				"last_checked_at_s": transition.LastCheckedAtSeconds,
				"last_total_solved": transition.LastTotalSolved,
				"version":           transition.ExpectedVersion + 1,
			})
		if result.Error != nil {
			return newServiceError(opCommit, "platform_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		if transition.SolvedDelta > 0 {
			if err := tx.Model(&Account{}).
				Where("user_id = ?", transition.UserID).
				Update("total_solved_since_join",
					gorm.Expr("total_solved_since_join + ?", transition.SolvedDelta)).Error; err != nil {
				return newServiceError(opCommit, "account_update_failed", err)
			}
		}
		return nil
	})
	return txErr
}

// UpsertLog writes the history entry for (user, platform, day). A key
// collision replaces the row in place, never duplicates.
func (s *Store) UpsertLog(ctx context.Context, entry StreakLog) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "platform"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "maintained", "current_streak", "longest_streak", "recorded_at_s",
		}),
	}).Create(&entry).Error
	if err != nil {
		return newServiceError(opUpsertLog, "upsert_failed", err)
	}
	return nil
}

// StreakState returns every platform row for the user, stable by platform.
func (s *Store) StreakState(ctx context.Context, userID string) ([]PlatformStreak, error) {
	var states []PlatformStreak
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("platform ASC").
		Find(&states).Error; err != nil {
		return nil, newServiceError(opStreakState, "query_failed", err)
	}
	return states, nil
}

// History lists log entries for the user, newest day first. A nil platform
// filter returns every platform.
func (s *Store) History(ctx context.Context, userID string, plat *platform.Platform, limit int) ([]StreakLog, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if plat != nil {
		query = query.Where("platform = ?", plat.String())
	}

	var entries []StreakLog
	if err := query.Order("day DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, newServiceError(opHistory, "query_failed", err)
	}
	return entries, nil
}

// LeaderboardRow aggregates a user's maintained days within a window.
type LeaderboardRow struct {
	UserID         string `gorm:"column:user_id" json:"user_id"`
	MaintainedDays int    `gorm:"column:maintained_days" json:"maintained_days"`
	BestStreak     int    `gorm:"column:best_streak" json:"best_streak"`
}

// Leaderboard ranks users by maintained days on a platform since the given
// day (inclusive), feeding the time-windowed leaderboard view.
func (s *Store) Leaderboard(ctx context.Context, plat platform.Platform, sinceDay string, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var rows []LeaderboardRow
	err := s.db.WithContext(ctx).
		Model(&StreakLog{}).
		Select("user_id, COUNT(*) AS maintained_days, MAX(current_streak) AS best_streak").
		Where("platform = ? AND day >= ? AND maintained = ?", plat.String(), sinceDay, true).
		Group("user_id").
		Order("maintained_days DESC, best_streak DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, newServiceError(opLeaderboard, "query_failed", err)
	}
	return rows, nil
}

// TrackedAccount pairs an account with its selected platform rows for sweep
// iteration.
type TrackedAccount struct {
	Account   Account
	Platforms []PlatformStreak
}

// TrackedPage returns the next page of accounts (ordered by user id, strictly
// after afterUserID) together with their selected platform rows. Accounts
// with no selected platform are omitted from the page but still advance the
// returned cursor. An empty cursor ends the iteration.
func (s *Store) TrackedPage(ctx context.Context, afterUserID string, pageSize int) ([]TrackedAccount, string, error) {
	var accounts []Account
	if err := s.db.WithContext(ctx).
		Where("user_id > ?", afterUserID).
		Order("user_id ASC").
		Limit(pageSize).
		Find(&accounts).Error; err != nil {
		return nil, "", newServiceError(opTrackedPage, "account_query_failed", err)
	}
	if len(accounts) == 0 {
		return nil, "", nil
	}
	cursor := accounts[len(accounts)-1].UserID

	userIDs := make([]string, 0, len(accounts))
	for _, account := range accounts {
		userIDs = append(userIDs, account.UserID)
	}

	var states []PlatformStreak
	if err := s.db.WithContext(ctx).
		Where("user_id IN ? AND selected = ?", userIDs, true).
		Order("user_id ASC, platform ASC").
		Find(&states).Error; err != nil {
		return nil, "", newServiceError(opTrackedPage, "platform_query_failed", err)
	}

	byUser := make(map[string][]PlatformStreak, len(accounts))
	for _, state := range states {
		byUser[state.UserID] = append(byUser[state.UserID], state)
	}

	page := make([]TrackedAccount, 0, len(accounts))
	for _, account := range accounts {
		selected := byUser[account.UserID]
		if len(selected) == 0 {
			continue
		}
		page = append(page, TrackedAccount{Account: account, Platforms: selected})
	}
	return page, cursor, nil
}

// OverrideCurrentStreak sets the current streak directly, bypassing the
// reconciler. This is the documented admin escape hatch; longest is raised
// when needed so the longest >= current invariant survives the override.
func (s *Store) OverrideCurrentStreak(ctx context.Context, userID string, plat platform.Platform, value int) error {
	if value < 0 {
		return newServiceError(opOverrideCurrent, "negative_value", errors.New("streak value must not be negative"))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state PlatformStreak
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND platform = ?", userID, plat.String()).
			Take(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opOverrideCurrent, "platform_not_linked", err)
		}
		if err != nil {
			return newServiceError(opOverrideCurrent, "query_failed", err)
		}

		longest := state.LongestStreak
		if value > longest {
			longest = value
		}

		result := tx.Model(&PlatformStreak{}).
			Where("user_id = ? AND platform = ? AND version = ?", userID, plat.String(), state.Version).
			Updates(map[string]interface{}{
				"current_streak": value,
				"longest_streak": longest,
				"version":        state.Version + 1,
			})
		if result.Error != nil {
			return newServiceError(opOverrideCurrent, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
}
