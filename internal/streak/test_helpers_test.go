package streak

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/codestreak/backend/internal/platform"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:codestreak_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&Account{}, &PlatformStreak{}, &StreakLog{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func seedAccount(t *testing.T, db *gorm.DB, userID, email string) {
	t.Helper()
	account := Account{
		UserID:             userID,
		Email:              email,
		SubscriptionTier:   TierFree,
		SubscriptionStatus: SubscriptionInactive,
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func seedPlatform(t *testing.T, db *gorm.DB, state PlatformStreak) {
	t.Helper()
	if state.Version == 0 {
		state.Version = 1
	}
	if err := db.Create(&state).Error; err != nil {
		t.Fatalf("failed to seed platform streak: %v", err)
	}
}

type stubProbe struct {
	result bool
	err    error
	calls  int
}

func (p *stubProbe) CheckToday(_ context.Context, _ string) (bool, error) {
	p.calls++
	return p.result, p.err
}

type stubStats struct {
	total int
	err   error
	calls int
}

func (s *stubStats) TotalSolved(_ context.Context, _ string) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.total, nil
}

type notification struct {
	contact    string
	platform   platform.Platform
	maintained bool
}

type stubNotifier struct {
	sent []notification
}

func (n *stubNotifier) StreakResult(_ context.Context, contact string, plat platform.Platform, maintained bool) {
	n.sent = append(n.sent, notification{contact: contact, platform: plat, maintained: maintained})
}

func newTestReconciler(t *testing.T, store *Store, probes *ProbeSet, notifier Notifier, now time.Time) *Reconciler {
	t.Helper()
	reconciler, err := NewReconciler(ReconcilerConfig{
		Store:    store,
		Probes:   probes,
		Notifier: notifier,
		Clock:    func() time.Time { return now },
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("failed to construct reconciler: %v", err)
	}
	return reconciler
}

func mustPlatformState(t *testing.T, store *Store, userID string, plat platform.Platform) PlatformStreak {
	t.Helper()
	state, err := store.PlatformState(context.Background(), userID, plat)
	if err != nil {
		t.Fatalf("failed to load platform state: %v", err)
	}
	if state == nil {
		t.Fatalf("expected platform state for %s/%s", userID, plat)
	}
	return *state
}

var errProbeDown = errors.New("probe timeout")
