package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/agents"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/audit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/auth"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/calls"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/campaign"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/credit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Queue     *queue.Repository
	Campaigns *campaign.Repository
	Agents    *agents.Store
	Credit    *credit.Service
	Audit     *audit.Service
	DB        *sql.DB
	Redis     *redis.Client

	// Notify wakes the dispatcher after a state change that may have
	// created dispatchable work (enqueue, top-up, resume).
	Notify func(ctx context.Context)

	// ClearCooldown lifts a user's insufficient-credit cooldown.
	ClearCooldown func(userID string)

	// DirectCallPriority orders interactive calls above campaign work.
	DirectCallPriority int
}

func (h Handlers) notify(ctx context.Context) {
	if h.Notify != nil {
		h.Notify(ctx)
	}
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type startCallRequest struct {
	AgentID     string `json:"agent_id"`
	PhoneNumber string `json:"phone_number"`
}

// StartCall enqueues a direct call. The call is not placed inline; the
// dispatcher admits it against slot and credit limits like any other
// entry, just at a higher priority.
func (h Handlers) StartCall(c *gin.Context) {
	log := logger.FromGin(c)
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentID == "" || req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id, phone_number required"})
		return
	}

	// Ownership check before enqueue; a foreign agent id is a 404, not
	// a dispatch-time failure.
	if _, err := h.Agents.Get(c.Request.Context(), userID, req.AgentID); err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		log.Error("agent lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent lookup failed"})
		return
	}

	entry, _, err := h.Queue.Enqueue(c.Request.Context(), queue.Entry{
		UserID:      userID,
		AgentID:     req.AgentID,
		PhoneNumber: req.PhoneNumber,
		Kind:        queue.KindDirect,
		Priority:    h.DirectCallPriority,
	})
	if err != nil {
		if errors.Is(err, queue.ErrInvalidEntry) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid entry"})
			return
		}
		log.Error("enqueue failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	h.notify(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"entry": entry})
}

// ListCalls returns the user's call history, newest first.
func (h Handlers) ListCalls(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	out, err := calls.ListByUser(c.Request.Context(), h.DB, userID, parseLimit(c, 50))
	if err != nil {
		logger.FromGin(c).Error("call history failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// --- Queue ---

// ListQueue returns the user's queue entries, most recent first.
func (h Handlers) ListQueue(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	entries, err := h.Queue.ListByUser(c.Request.Context(), userID, parseLimit(c, 50))
	if err != nil {
		logger.FromGin(c).Error("queue listing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ActiveCount returns the user's in-flight call count. The count is
// served from a short Redis cache when available; Postgres is the
// fallback and the source of truth.
func (h Handlers) ActiveCount(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	ctx := c.Request.Context()
	cacheKey := "active_count:" + userID

	if h.Redis != nil {
		if cached, err := h.Redis.Get(ctx, cacheKey).Result(); err == nil {
			if n, err := strconv.Atoi(cached); err == nil {
				c.JSON(http.StatusOK, gin.H{"active": n, "cached": true})
				return
			}
		}
	}

	n, err := h.Queue.ActiveCount(ctx, userID)
	if err != nil {
		logger.FromGin(c).Error("active count failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, cacheKey, strconv.Itoa(n), 5*time.Second).Err()
	}
	c.JSON(http.StatusOK, gin.H{"active": n, "cached": false})
}

// CancelEntry cancels a queued entry. Entries already picked up by the
// dispatcher are past the point of cancellation.
func (h Handlers) CancelEntry(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	entryID := c.Param("entry_id")

	err = h.Queue.Cancel(c.Request.Context(), userID, entryID)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "entry not found"})
	case errors.Is(err, queue.ErrNotCancellable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "entry is no longer cancellable"})
	case err != nil:
		logger.FromGin(c).Error("cancel failed", "entry_id", entryID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}

// --- Campaigns ---

// PauseCampaign stops new enqueues and parks queued entries. In-flight
// calls are unaffected.
func (h Handlers) PauseCampaign(c *gin.Context) {
	h.transitionCampaign(c, h.Campaigns.Pause, "paused")
}

// ResumeCampaign reactivates a paused campaign; parked entries become
// dispatchable again on the next cycle.
func (h Handlers) ResumeCampaign(c *gin.Context) {
	h.transitionCampaign(c, h.Campaigns.Resume, "active")
	h.notify(c.Request.Context())
}

func (h Handlers) transitionCampaign(c *gin.Context, fn func(ctx context.Context, userID, campaignID string) error, result string) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	campaignID := c.Param("campaign_id")

	err = fn(c.Request.Context(), userID, campaignID)
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
	case errors.Is(err, campaign.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign is not in a state that allows this"})
	case err != nil:
		logger.FromGin(c).Error("campaign transition failed", "campaign_id", campaignID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transition failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": result})
	}
}

// GetCampaign returns one campaign, owner-scoped.
func (h Handlers) GetCampaign(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	cp, err := h.Campaigns.Get(c.Request.Context(), userID, c.Param("campaign_id"))
	if errors.Is(err, campaign.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("campaign fetch failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "fetch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign": cp})
}

// --- Credit ---

// GetBalance returns the user's current credit balance.
func (h Handlers) GetBalance(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	bal, err := h.Credit.GetBalance(c.Request.Context(), userID)
	if err != nil {
		logger.FromGin(c).Error("balance fetch failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

type topUpRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AdminTopUp credits a user's balance. Admin-only; recorded in the
// audit log. Lifts the user's credit cooldown so queued work dispatches
// without waiting for it to lapse.
func (h Handlers) AdminTopUp(c *gin.Context) {
	log := logger.FromGin(c)
	actorID, _ := auth.UserID(c.Request.Context())
	actorRole, _ := auth.Role(c.Request.Context())

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Amount <= 0 || req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, amount, idempotency_key required"})
		return
	}

	ledgerEntry, bal, err := h.Credit.TopUp(c.Request.Context(), req.UserID, req.Amount, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, credit.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid top-up"})
			return
		}
		log.Error("top-up failed", "user_id", req.UserID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "top-up failed"})
		return
	}

	if h.Audit != nil {
		if err := h.Audit.LogAdminAction(c.Request.Context(), actorID, actorRole, c.ClientIP(),
			"credit top-up for "+req.UserID, ""); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	if h.ClearCooldown != nil {
		h.ClearCooldown(req.UserID)
	}
	h.notify(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{"ledger": ledgerEntry, "balance": bal})
}

func parseLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 200 {
		return def
	}
	return n
}
