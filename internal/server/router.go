package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codestreak/backend/internal/accounts"
	"github.com/codestreak/backend/internal/platform"
	"github.com/codestreak/backend/internal/streak"
)

const subjectContextKey = "codestreak_subject"

const (
	defaultLeaderboardDays  = 7
	defaultLeaderboardLimit = 50
)

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingStore        = errors.New("streak store dependency required")
	errMissingAccounts     = errors.New("accounts service dependency required")
	errMissingReconciler   = errors.New("reconciler dependency required")
	errMissingSecret       = errors.New("service secret required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens guarding the API.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the core services.
type Dependencies struct {
	TokenManager  TokenManager
	Store         *streak.Store
	Accounts      *accounts.Service
	Reconciler    *streak.Reconciler
	ServiceSecret string
	Clock         func() time.Time
	Location      *time.Location
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router serving the read API, account
// management and the admin escape hatch.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Reconciler == nil {
		return nil, errMissingReconciler
	}
	if strings.TrimSpace(deps.ServiceSecret) == "" {
		return nil, errMissingSecret
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		store:         deps.Store,
		accounts:      deps.Accounts,
		reconciler:    deps.Reconciler,
		serviceSecret: deps.ServiceSecret,
		clock:         clock,
		location:      location,
		logger:        logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users/:id/streaks", handler.handleGetStreaks)
	protected.GET("/users/:id/history", handler.handleGetHistory)
	protected.GET("/leaderboard", handler.handleLeaderboard)
	protected.POST("/users", handler.handleCreateUser)
	protected.POST("/users/:id/platforms", handler.handleLinkPlatform)
	protected.PATCH("/users/:id/platforms/:platform", handler.handleSelectPlatform)
	protected.DELETE("/users/:id/platforms/:platform", handler.handleUnlinkPlatform)
	protected.PUT("/users/:id/subscription", handler.handleSetSubscription)
	protected.POST("/users/:id/reconcile", handler.handleManualReconcile)
	protected.PUT("/admin/users/:id/streaks/:platform", handler.handleOverrideStreak)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	store         *streak.Store
	accounts      *accounts.Service
	reconciler    *streak.Reconciler
	serviceSecret string
	clock         func() time.Time
	location      *time.Location
	logger        *zap.Logger
}

type tokenRequestPayload struct {
	ServiceSecret string `json:"service_secret"`
	Subject       string `json:"subject"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Subject) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.ServiceSecret != h.serviceSecret {
		h.logger.Warn("token request with invalid service secret", zap.String("subject", request.Subject))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), request.Subject)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type platformStreakPayload struct {
	Platform         string `json:"platform"`
	Username         string `json:"username"`
	Selected         bool   `json:"selected"`
	CurrentStreak    int    `json:"current_streak"`
	LongestStreak    int    `json:"longest_streak"`
	LastCheckedAtSec int64  `json:"last_checked_at_s"`
}

func (h *httpHandler) handleGetStreaks(c *gin.Context) {
	userID := c.Param("id")
	states, err := h.store.StreakState(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load streak state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	payload := make([]platformStreakPayload, 0, len(states))
	for _, state := range states {
		payload = append(payload, platformStreakPayload{
			Platform:         state.Platform,
			Username:         state.Username,
			Selected:         state.Selected,
			CurrentStreak:    state.CurrentStreak,
			LongestStreak:    state.LongestStreak,
			LastCheckedAtSec: state.LastCheckedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"streaks": payload})
}

type historyEntryPayload struct {
	Platform      string `json:"platform"`
	Day           string `json:"day"`
	Username      string `json:"username"`
	Maintained    bool   `json:"maintained"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

func (h *httpHandler) handleGetHistory(c *gin.Context) {
	userID := c.Param("id")

	var platformFilter *platform.Platform
	if raw := c.Query("platform"); raw != "" {
		parsed, err := platform.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
			return
		}
		platformFilter = &parsed
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	entries, err := h.store.History(c.Request.Context(), userID, platformFilter, limit)
	if err != nil {
		h.logger.Error("failed to load history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	payload := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, historyEntryPayload{
			Platform:      entry.Platform,
			Day:           entry.Day,
			Username:      entry.Username,
			Maintained:    entry.Maintained,
			CurrentStreak: entry.CurrentStreak,
			LongestStreak: entry.LongestStreak,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": payload})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	plat, err := platform.Parse(c.DefaultQuery("platform", platform.Default.String()))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(defaultLeaderboardDays)))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_days"})
		return
	}

	since := h.clock().AddDate(0, 0, -(days - 1))
	rows, err := h.store.Leaderboard(c.Request.Context(), plat, streak.DayOf(since, h.location), defaultLeaderboardLimit)
	if err != nil {
		h.logger.Error("failed to load leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform": plat.String(), "days": days, "rows": rows})
}

type createUserPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleCreateUser(c *gin.Context) {
	var request createUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.Create(c.Request.Context(), request.Email, request.DisplayName)
	if errors.Is(err, accounts.ErrInvalidEmail) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": account.UserID})
}

type linkPlatformPayload struct {
	Platform string `json:"platform"`
	Username string `json:"username"`
}

func (h *httpHandler) handleLinkPlatform(c *gin.Context) {
	var request linkPlatformPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	plat, err := platform.Parse(request.Platform)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return
	}

	err = h.accounts.LinkPlatform(c.Request.Context(), c.Param("id"), plat, request.Username)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to link platform", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "link_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "linked"})
}

type selectPlatformPayload struct {
	Selected bool `json:"selected"`
}

func (h *httpHandler) handleSelectPlatform(c *gin.Context) {
	var request selectPlatformPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	plat, err := platform.Parse(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return
	}

	err = h.accounts.SetSelected(c.Request.Context(), c.Param("id"), plat, request.Selected)
	if errors.Is(err, accounts.ErrPlatformNotLinked) {
		c.JSON(http.StatusNotFound, gin.H{"error": "platform_not_linked"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update platform selection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *httpHandler) handleUnlinkPlatform(c *gin.Context) {
	plat, err := platform.Parse(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return
	}

	err = h.accounts.UnlinkPlatform(c.Request.Context(), c.Param("id"), plat)
	if errors.Is(err, accounts.ErrPlatformNotLinked) {
		c.JSON(http.StatusNotFound, gin.H{"error": "platform_not_linked"})
		return
	}
	if err != nil {
		h.logger.Error("failed to unlink platform", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unlink_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
}

type subscriptionPayload struct {
	Tier   string `json:"tier"`
	Status string `json:"status"`
}

func (h *httpHandler) handleSetSubscription(c *gin.Context) {
	var request subscriptionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Tier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.accounts.SetSubscription(c.Request.Context(), c.Param("id"), request.Tier, request.Status)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type reconcileResultPayload struct {
	Platform      string `json:"platform"`
	Committed     bool   `json:"committed"`
	Skip          string `json:"skip,omitempty"`
	Maintained    bool   `json:"maintained"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

// handleManualReconcile is the per-user refresh endpoint; it runs the forced
// policy so it can never double-commit a day.
func (h *httpHandler) handleManualReconcile(c *gin.Context) {
	userID := c.Param("id")
	account, err := h.accounts.Get(c.Request.Context(), userID)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	states, err := h.store.StreakState(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load streak state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	subject := streak.Subject{UserID: userID, Contact: account.Email}
	results := make([]reconcileResultPayload, 0, len(states))
	for _, state := range states {
		if !state.Selected {
			continue
		}
		plat, parseErr := platform.Parse(state.Platform)
		if parseErr != nil {
			continue
		}
		outcome, recErr := h.reconciler.Reconcile(c.Request.Context(), subject, plat, streak.ModeForced)
		if recErr != nil {
			h.logger.Error("manual reconciliation failed",
				zap.String("user_id", userID),
				zap.String("platform", plat.String()),
				zap.Error(recErr))
			continue
		}
		results = append(results, reconcileResultPayload{
			Platform:      plat.String(),
			Committed:     outcome.Committed,
			Skip:          string(outcome.Skip),
			Maintained:    outcome.Maintained,
			CurrentStreak: outcome.CurrentStreak,
			LongestStreak: outcome.LongestStreak,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type overrideStreakPayload struct {
	CurrentStreak *int `json:"current_streak"`
}

func (h *httpHandler) handleOverrideStreak(c *gin.Context) {
	var request overrideStreakPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.CurrentStreak == nil || *request.CurrentStreak < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	plat, err := platform.Parse(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return
	}

	if err := h.store.OverrideCurrentStreak(c.Request.Context(), c.Param("id"), plat, *request.CurrentStreak); err != nil {
		h.logger.Error("streak override failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "override_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "overridden"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}
