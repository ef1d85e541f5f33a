package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codestreak/backend/internal/accounts"
	"github.com/codestreak/backend/internal/auth"
	"github.com/codestreak/backend/internal/platform"
	"github.com/codestreak/backend/internal/streak"
)

const testServiceSecret = "router-test-secret"

var routerNow = time.Date(2026, 8, 14, 23, 0, 0, 0, time.UTC)

type routerFixture struct {
	handler http.Handler
	db      *gorm.DB
	store   *streak.Store
	probes  *streak.ProbeSet
}

type fixedProbe struct {
	result bool
}

func (p *fixedProbe) CheckToday(_ context.Context, _ string) (bool, error) {
	return p.result, nil
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:codestreak_router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&streak.Account{}, &streak.PlatformStreak{}, &streak.StreakLog{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := streak.NewStore(db, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build accounts service: %v", err)
	}

	probes := streak.NewProbeSet()
	reconciler, err := streak.NewReconciler(streak.ReconcilerConfig{
		Store:    store,
		Probes:   probes,
		Clock:    func() time.Time { return routerNow },
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("router-test-signing"),
		Issuer:        "codestreak",
		Audience:      "codestreak-api",
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:  issuer,
		Store:         store,
		Accounts:      accountService,
		Reconciler:    reconciler,
		ServiceSecret: testServiceSecret,
		Clock:         func() time.Time { return routerNow },
		Location:      time.UTC,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &routerFixture{handler: handler, db: db, store: store, probes: probes}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *routerFixture) bearerToken(t *testing.T) string {
	t.Helper()
	response := f.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"service_secret": testServiceSecret,
		"subject":        "test-suite",
	})
	if response.Code != http.StatusOK {
		t.Fatalf("token exchange failed: %d %s", response.Code, response.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if payload.TokenType != "Bearer" || payload.AccessToken == "" {
		t.Fatalf("unexpected token payload: %+v", payload)
	}
	return payload.AccessToken
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %s: %v", recorder.Body.String(), err)
	}
}

func TestTokenExchangeRejectsBadSecret(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"service_secret": "wrong",
		"subject":        "test-suite",
	})
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.Code)
	}

	response = fixture.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"service_secret": testServiceSecret,
	})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without subject, got %d", response.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodGet, "/users/someone/streaks", "", nil)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", response.Code)
	}

	response = fixture.do(t, http.MethodGet, "/users/someone/streaks", "garbage-token", nil)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a bad token, got %d", response.Code)
	}
}

func TestCreateLinkAndReadStreaks(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.bearerToken(t)

	created := fixture.do(t, http.MethodPost, "/users", token, map[string]string{
		"email":        "dev@example.com",
		"display_name": "Dev",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", created.Code, created.Body.String())
	}
	var createdPayload struct {
		UserID string `json:"user_id"`
	}
	decodeJSON(t, created, &createdPayload)
	if createdPayload.UserID == "" {
		t.Fatalf("expected a user id")
	}

	linked := fixture.do(t, http.MethodPost, "/users/"+createdPayload.UserID+"/platforms", token, map[string]string{
		"platform": "leetcode",
		"username": "dev",
	})
	if linked.Code != http.StatusOK {
		t.Fatalf("link failed: %d %s", linked.Code, linked.Body.String())
	}

	bogus := fixture.do(t, http.MethodPost, "/users/"+createdPayload.UserID+"/platforms", token, map[string]string{
		"platform": "topcoder",
		"username": "dev",
	})
	if bogus.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown platform, got %d", bogus.Code)
	}

	streaks := fixture.do(t, http.MethodGet, "/users/"+createdPayload.UserID+"/streaks", token, nil)
	if streaks.Code != http.StatusOK {
		t.Fatalf("streak read failed: %d %s", streaks.Code, streaks.Body.String())
	}
	var streaksPayload struct {
		Streaks []struct {
			Platform string `json:"platform"`
			Username string `json:"username"`
			Selected bool   `json:"selected"`
		} `json:"streaks"`
	}
	decodeJSON(t, streaks, &streaksPayload)
	if len(streaksPayload.Streaks) != 1 {
		t.Fatalf("expected one platform row, got %+v", streaksPayload)
	}
	row := streaksPayload.Streaks[0]
	if row.Platform != "leetcode" || row.Username != "dev" || !row.Selected {
		t.Fatalf("unexpected streak row: %+v", row)
	}
}

func TestSelectPlatformEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.bearerToken(t)

	notLinked := fixture.do(t, http.MethodPatch, "/users/missing/platforms/leetcode", token, map[string]bool{"selected": false})
	if notLinked.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before linking, got %d", notLinked.Code)
	}
}

func TestUnlinkAndSubscriptionEndpoints(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.bearerToken(t)

	created := fixture.do(t, http.MethodPost, "/users", token, map[string]string{"email": "dev@example.com"})
	var createdPayload struct {
		UserID string `json:"user_id"`
	}
	decodeJSON(t, created, &createdPayload)
	fixture.do(t, http.MethodPost, "/users/"+createdPayload.UserID+"/platforms", token, map[string]string{
		"platform": "leetcode",
		"username": "dev",
	})

	unlinked := fixture.do(t, http.MethodDelete, "/users/"+createdPayload.UserID+"/platforms/leetcode", token, nil)
	if unlinked.Code != http.StatusOK {
		t.Fatalf("unlink failed: %d %s", unlinked.Code, unlinked.Body.String())
	}

	again := fixture.do(t, http.MethodDelete, "/users/"+createdPayload.UserID+"/platforms/leetcode", token, nil)
	if again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after unlink, got %d", again.Code)
	}

	subscribed := fixture.do(t, http.MethodPut, "/users/"+createdPayload.UserID+"/subscription", token,
		map[string]string{"tier": "pro", "status": "active"})
	if subscribed.Code != http.StatusOK {
		t.Fatalf("subscription update failed: %d %s", subscribed.Code, subscribed.Body.String())
	}

	badTier := fixture.do(t, http.MethodPut, "/users/"+createdPayload.UserID+"/subscription", token,
		map[string]string{"tier": "platinum", "status": "active"})
	if badTier.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown tier, got %d", badTier.Code)
	}
}

func TestManualReconcileRunsForcedPass(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.bearerToken(t)
	fixture.probes.RegisterActivity(platform.LeetCode, &fixedProbe{result: true})

	created := fixture.do(t, http.MethodPost, "/users", token, map[string]string{"email": "dev@example.com"})
	var createdPayload struct {
		UserID string `json:"user_id"`
	}
	decodeJSON(t, created, &createdPayload)

	fixture.do(t, http.MethodPost, "/users/"+createdPayload.UserID+"/platforms", token, map[string]string{
		"platform": "leetcode",
		"username": "dev",
	})

	response := fixture.do(t, http.MethodPost, "/users/"+createdPayload.UserID+"/reconcile", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("reconcile failed: %d %s", response.Code, response.Body.String())
	}
	var payload struct {
		Results []struct {
			Platform      string `json:"platform"`
			Committed     bool   `json:"committed"`
			Skip          string `json:"skip"`
			Maintained    bool   `json:"maintained"`
			CurrentStreak int    `json:"current_streak"`
		} `json:"results"`
	}
	decodeJSON(t, response, &payload)
	if len(payload.Results) != 1 {
		t.Fatalf("expected one result, got %+v", payload)
	}
	if !payload.Results[0].Committed || !payload.Results[0].Maintained || payload.Results[0].CurrentStreak != 1 {
		t.Fatalf("unexpected reconcile result: %+v", payload.Results[0])
	}

	// Running again must not double-commit the day.
	repeat := fixture.do(t, http.MethodPost, "/users/"+createdPayload.UserID+"/reconcile", token, nil)
	decodeJSON(t, repeat, &payload)
	if payload.Results[0].Committed || payload.Results[0].Skip != "already_updated_today" {
		t.Fatalf("expected the repeat to skip, got %+v", payload.Results[0])
	}

	missing := fixture.do(t, http.MethodPost, "/users/nobody/reconcile", token, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown user, got %d", missing.Code)
	}
}

func TestAdminOverrideEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.bearerToken(t)

	created := fixture.do(t, http.MethodPost, "/users", token, map[string]string{"email": "dev@example.com"})
	var createdPayload struct {
		UserID string `json:"user_id"`
	}
	decodeJSON(t, created, &createdPayload)
	fixture.do(t, http.MethodPost, "/users/"+createdPayload.UserID+"/platforms", token, map[string]string{
		"platform": "leetcode",
		"username": "dev",
	})

	value := 30
	response := fixture.do(t, http.MethodPut, "/admin/users/"+createdPayload.UserID+"/streaks/leetcode", token,
		map[string]int{"current_streak": value})
	if response.Code != http.StatusOK {
		t.Fatalf("override failed: %d %s", response.Code, response.Body.String())
	}

	state, err := fixture.store.PlatformState(context.Background(), createdPayload.UserID, platform.LeetCode)
	if err != nil || state == nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if state.CurrentStreak != value || state.LongestStreak != value {
		t.Fatalf("override not applied with longest floor: %+v", state)
	}

	negative := fixture.do(t, http.MethodPut, "/admin/users/"+createdPayload.UserID+"/streaks/leetcode", token,
		map[string]int{"current_streak": -2})
	if negative.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative override, got %d", negative.Code)
	}
}

func TestHistoryAndLeaderboardEndpoints(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.bearerToken(t)

	ctx := context.Background()
	for day := 12; day <= 14; day++ {
		if err := fixture.store.UpsertLog(ctx, streak.StreakLog{
			UserID:        "user-1",
			Platform:      "leetcode",
			Day:           fmt.Sprintf("2026-08-%02d", day),
			Username:      "dev",
			Maintained:    true,
			CurrentStreak: day - 11,
		}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	history := fixture.do(t, http.MethodGet, "/users/user-1/history?platform=leetcode&limit=2", token, nil)
	if history.Code != http.StatusOK {
		t.Fatalf("history failed: %d %s", history.Code, history.Body.String())
	}
	var historyPayload struct {
		Items []struct {
			Day string `json:"day"`
		} `json:"items"`
	}
	decodeJSON(t, history, &historyPayload)
	if len(historyPayload.Items) != 2 || historyPayload.Items[0].Day != "2026-08-14" {
		t.Fatalf("unexpected history payload: %+v", historyPayload)
	}

	badPlatform := fixture.do(t, http.MethodGet, "/users/user-1/history?platform=topcoder", token, nil)
	if badPlatform.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown platform, got %d", badPlatform.Code)
	}

	leaderboard := fixture.do(t, http.MethodGet, "/leaderboard?platform=leetcode&days=7", token, nil)
	if leaderboard.Code != http.StatusOK {
		t.Fatalf("leaderboard failed: %d %s", leaderboard.Code, leaderboard.Body.String())
	}
	var leaderboardPayload struct {
		Platform string `json:"platform"`
		Days     int    `json:"days"`
		Rows     []struct {
			UserID         string `json:"user_id"`
			MaintainedDays int    `json:"maintained_days"`
		} `json:"rows"`
	}
	decodeJSON(t, leaderboard, &leaderboardPayload)
	if leaderboardPayload.Platform != "leetcode" || leaderboardPayload.Days != 7 {
		t.Fatalf("unexpected leaderboard envelope: %+v", leaderboardPayload)
	}
	if len(leaderboardPayload.Rows) != 1 || leaderboardPayload.Rows[0].MaintainedDays != 3 {
		t.Fatalf("unexpected leaderboard rows: %+v", leaderboardPayload.Rows)
	}
}
