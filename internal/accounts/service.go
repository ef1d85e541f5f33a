package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codestreak/backend/internal/platform"
	"github.com/codestreak/backend/internal/streak"
)

var (
	// ErrInvalidEmail indicates a missing or malformed contact address.
	ErrInvalidEmail = errors.New("accounts: invalid email")
	// ErrAccountNotFound indicates the user id has no account row.
	ErrAccountNotFound = errors.New("accounts: account not found")
	// ErrPlatformNotLinked indicates no username is linked for the platform.
	ErrPlatformNotLinked = errors.New("accounts: platform not linked")
)

// IDProvider issues stable identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// ServiceConfig describes the dependencies for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Service manages account identity and platform links. It never touches the
// streak counters; those belong to the reconciler.
type Service struct {
	db  *gorm.DB
	now func() time.Time
	ids IDProvider
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &Service{db: cfg.Database, now: clock, ids: ids}, nil
}

// Create registers an account with zeroed streak state.
func (s *Service) Create(ctx context.Context, email, displayName string) (streak.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return streak.Account{}, ErrInvalidEmail
	}

	userID, err := s.ids.NewID()
	if err != nil {
		return streak.Account{}, err
	}

	account := streak.Account{
		UserID:             userID,
		Email:              email,
		DisplayName:        strings.TrimSpace(displayName),
		SubscriptionTier:   streak.TierFree,
		SubscriptionStatus: streak.SubscriptionInactive,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return streak.Account{}, err
	}
	return account, nil
}

// Get loads an account by user id.
func (s *Service) Get(ctx context.Context, userID string) (streak.Account, error) {
	var account streak.Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return streak.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return streak.Account{}, err
	}
	return account, nil
}

// LinkPlatform binds the external username for a platform and opts it into
// tracking. Relinking updates the username in place and keeps the counters:
// the reconciler owns those fields and linking must not disturb them.
func (s *Service) LinkPlatform(ctx context.Context, userID string, plat platform.Platform, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("accounts: username required for %s", plat)
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing streak.PlatformStreak
		err := tx.Where("user_id = ? AND platform = ?", userID, plat.String()).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&streak.PlatformStreak{
				UserID:   userID,
				Platform: plat.String(),
				Username: username,
				Selected: true,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&streak.PlatformStreak{}).
			Where("user_id = ? AND platform = ?", userID, plat.String()).
			Updates(map[string]interface{}{
				"username": username,
				"selected": true,
			}).Error
	})
}

// UnlinkPlatform removes the platform link and its streak state. History
// rows stay behind; the log is an immutable record of past days.
func (s *Service) UnlinkPlatform(ctx context.Context, userID string, plat platform.Platform) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, plat.String()).
		Delete(&streak.PlatformStreak{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlatformNotLinked
	}
	return nil
}

// SetSelected opts a linked platform in or out of active tracking.
func (s *Service) SetSelected(ctx context.Context, userID string, plat platform.Platform, selected bool) error {
	result := s.db.WithContext(ctx).Model(&streak.PlatformStreak{}).
		Where("user_id = ? AND platform = ?", userID, plat.String()).
		Update("selected", selected)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlatformNotLinked
	}
	return nil
}

// SetSubscription updates the billing tier used by warning-sweep gating.
func (s *Service) SetSubscription(ctx context.Context, userID, tier, status string) error {
	if tier != streak.TierFree && tier != streak.TierPro {
		return fmt.Errorf("accounts: unknown tier %q", tier)
	}
	result := s.db.WithContext(ctx).Model(&streak.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"subscription_tier":   tier,
			"subscription_status": status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
