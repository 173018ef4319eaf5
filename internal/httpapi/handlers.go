package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"voicecall-platform/internal/audit"
	"voicecall-platform/internal/auth"
	"voicecall-platform/internal/billing"
	"voicecall-platform/internal/push"
	"voicecall-platform/internal/rbac"
	"voicecall-platform/internal/reporting"
	"voicecall-platform/internal/session"
	"voicecall-platform/internal/status"
	"voicecall-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Wallet     *wallet.Service
	Resolver   *status.Resolver
	Prefs      status.PrefRepo
	Machine    *session.Machine
	Billing    *billing.Engine
	Reports    *reporting.Service
	PushTokens push.TokenRepo
	Audit      *audit.Service
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

// --- Availability ---

// GetAvailability resolves whether a user can currently receive a call.
func (h Handlers) GetAvailability(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	res := h.Resolver.Resolve(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"status":   res.Status,
		"online":   res.Online,
		"callable": res.Status.Callable() && res.Online,
	})
}

type setPreferenceRequest struct {
	OptedIn *bool `json:"opted_in"`
}

// SetPreference updates the durable call opt-in flag. Users set their own;
// admins may override any user's, which is audited.
func (h Handlers) SetPreference(c *gin.Context) {
	targetID := c.Param("user_id")
	actorID, _ := auth.UserID(c.Request.Context())
	actorRole, _ := auth.Role(c.Request.Context())

	if targetID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	admin := rbac.IsSuperAdmin(actorRole) || actorRole == rbac.RoleAdmin
	if targetID != actorID && !admin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var req setPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OptedIn == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "opted_in required"})
		return
	}

	if err := h.Prefs.Set(c.Request.Context(), targetID, *req.OptedIn); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "preference update failed"})
		return
	}

	if targetID != actorID && h.Audit != nil {
		meta := fmt.Sprintf(`{"opted_in":%t}`, *req.OptedIn)
		_ = h.Audit.LogAdminAction(c.Request.Context(), actorID, actorRole, targetID, "availability preference override", meta)
	}
	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "opted_in": *req.OptedIn})
}

// --- Calls ---

// GetCallStatus returns the live session record plus the running timer view.
// Admin-only: session internals are not a user-facing surface.
func (h Handlers) GetCallStatus(c *gin.Context) {
	callID := c.Param("call_id")
	sess, ok := h.Machine.CallStatus(callID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	resp := gin.H{"session": sess}
	if snap, running := h.Billing.Get(callID); running {
		resp["timer"] = gin.H{
			"duration_seconds": snap.DurationSeconds,
			"rate_milli":       snap.RateMilli,
			"last_heartbeat":   snap.LastHeartbeat,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// --- Wallet ---

// GetBalance returns the authenticated user's coin balance. No wallet
// activity yet reads as zero.
func (h Handlers) GetBalance(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), userID)
	if errors.Is(err, wallet.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "coins": 0})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

type adminManualCreditRequest struct {
	UserID         string `json:"user_id"`
	Coins          int64  `json:"coins"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

// AdminManualCredit performs an admin-only coin credit.
// RBAC: admin or super_admin.
func (h Handlers) AdminManualCredit(c *gin.Context) {
	actorID, _ := auth.UserID(c.Request.Context())
	actorRole, _ := auth.Role(c.Request.Context())

	var req adminManualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	_, bal, err := h.Wallet.Credit(c.Request.Context(), req.UserID, wallet.CreditRequest{
		Coins:          req.Coins,
		ExternalRef:    "admin_manual_credit",
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.Audit != nil {
		meta := fmt.Sprintf(`{"coins":%d,"reason":%q}`, req.Coins, req.Reason)
		_ = h.Audit.LogAdminAction(c.Request.Context(), actorID, actorRole, req.UserID, "manual wallet credit", meta)
	}
	c.JSON(http.StatusOK, bal)
}

// --- Reports ---

// CallsReport summarizes the authenticated user's call history.
func (h Handlers) CallsReport(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{UserID: userID, Range: rng})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// SpendReport summarizes the authenticated user's coin movement.
func (h Handlers) SpendReport(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{UserID: userID, Range: rng})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}

// --- Push tokens ---

type registerTokenRequest struct {
	Token string `json:"token"`
}

// RegisterPushToken stores the caller's device token for the alternate
// notification channel. Latest device wins.
func (h Handlers) RegisterPushToken(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	if err := h.PushTokens.Set(c.Request.Context(), userID, req.Token); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token registration failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// DeletePushToken removes the caller's device token.
func (h Handlers) DeletePushToken(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	if err := h.PushTokens.Delete(c.Request.Context(), userID); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token removal failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Convenience middleware bundles.

func RequireUserAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireUser(), rbac.RequireAnyRole(roles...)}
}
