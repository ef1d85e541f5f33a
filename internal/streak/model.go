package streak

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription tiers and statuses mirrored from the billing collaborator.
const (
	TierFree = "free"
	TierPro  = "pro"

	SubscriptionActive   = "active"
	SubscriptionInactive = "inactive"
)

// Account is the per-user record. Streak counters live in PlatformStreak
// rows; the account carries identity, contact and cross-platform bookkeeping.
type Account struct {
	UserID               string         `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email                string         `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName          string         `gorm:"column:display_name;size:190;not null;default:''"`
	SubscriptionTier     string         `gorm:"column:subscription_tier;size:32;not null;default:'free'"`
	SubscriptionStatus   string         `gorm:"column:subscription_status;size:32;not null;default:'inactive'"`
	AlertSettings        datatypes.JSON `gorm:"column:alert_settings"`
	TotalSolvedSinceJoin int64          `gorm:"column:total_solved_since_join;not null;default:0"`
	CreatedAt            time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "accounts"
}

// PlatformStreak holds the per-(user, platform) streak state owned by the
// reconciler. Version guards concurrent sweeps via conditional writes.
type PlatformStreak struct {
	UserID               string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Platform             string `gorm:"column:platform;primaryKey;size:32;not null"`
	Username             string `gorm:"column:username;size:190;not null;default:''"`
	Selected             bool   `gorm:"column:selected;not null;default:false;index:idx_platform_streaks_selected"`
	CurrentStreak        int    `gorm:"column:current_streak;not null;default:0"`
	LongestStreak        int    `gorm:"column:longest_streak;not null;default:0"`
	LastCheckedAtSeconds int64  `gorm:"column:last_checked_at_s;not null;default:0"`
	LastTotalSolved      int    `gorm:"column:last_total_solved;not null;default:0"`
	Version              int64  `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (PlatformStreak) TableName() string {
	return "platform_streaks"
}

// StreakLog is the append-only per-(user, platform, day) reconciliation
// outcome. The composite primary key enforces at most one row per day;
// retries upsert in place.
type StreakLog struct {
	UserID            string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Platform          string `gorm:"column:platform;primaryKey;size:32;not null;index:idx_streak_logs_platform_day,priority:1"`
	Day               string `gorm:"column:day;primaryKey;size:10;not null;index:idx_streak_logs_platform_day,priority:2"`
	Username          string `gorm:"column:username;size:190;not null;default:''"`
	Maintained        bool   `gorm:"column:maintained;not null"`
	CurrentStreak     int    `gorm:"column:current_streak;not null;default:0"`
	LongestStreak     int    `gorm:"column:longest_streak;not null;default:0"`
	RecordedAtSeconds int64  `gorm:"column:recorded_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StreakLog) TableName() string {
	return "streak_logs"
}

// DayOf renders the calendar day of the instant in the reconciliation zone.
func DayOf(instant time.Time, location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	return instant.In(location).Format("2006-01-02")
}
