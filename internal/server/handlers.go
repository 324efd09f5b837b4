package server

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clearspend/clearspend/internal/account"
	"github.com/clearspend/clearspend/internal/allowance"
	"github.com/clearspend/clearspend/internal/decision"
	"github.com/clearspend/clearspend/internal/health"
	"github.com/clearspend/clearspend/internal/idgen"
	"github.com/clearspend/clearspend/internal/logging"
	"github.com/clearspend/clearspend/internal/money"
	"github.com/clearspend/clearspend/internal/pagination"
	"github.com/clearspend/clearspend/internal/reputation"
	"github.com/clearspend/clearspend/internal/validation"
)

// -----------------------------------------------------------------------------
// Info and health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "ClearSpend",
		"description": "Guardian-controlled spending accounts with ledger-settled purchases",
		"version":     "0.1.0",
		"currency":    s.cfg.CurrencyCode,
	})
}

// -----------------------------------------------------------------------------
// Purchases
// -----------------------------------------------------------------------------

// submitPurchase handles POST /api/v1/purchases
func (s *Server) submitPurchase(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		AccountID     string `json:"accountId" binding:"required"`
		Merchant      string `json:"merchant" binding:"required"`
		Category      string `json:"category" binding:"required"`
		Amount        string `json:"amount" binding:"required"`
		Justification string `json:"justification"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "accountId, merchant, category, and amount are required",
		})
		return
	}

	if verrs := validation.Validate(
		validation.ValidAccountID("accountId", req.AccountID),
		validation.MaxLength("merchant", req.Merchant, validation.MaxNameLength),
		validation.MaxLength("category", req.Category, validation.MaxNameLength),
		validation.MaxLength("justification", req.Justification, validation.MaxJustificationLength),
		validation.ValidAmount("amount", req.Amount),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": verrs,
		})
		return
	}

	amount, ok := money.Parse(req.Amount)
	if !ok || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a positive decimal",
		})
		return
	}

	merchant := validation.SanitizeString(req.Merchant, validation.MaxNameLength)
	category := validation.SanitizeString(req.Category, validation.MaxNameLength)

	result, err := s.orchestrator.Settle(ctx, decision.Request{
		AccountID:     req.AccountID,
		Merchant:      merchant,
		MerchantID:    reputation.Normalize(merchant),
		Category:      category,
		Amount:        amount,
		Justification: validation.SanitizeString(req.Justification, validation.MaxJustificationLength),
	})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "account_not_found",
				"message": "No account with that id",
			})
			return
		}
		logging.L(ctx).Error("settlement error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process purchase",
		})
		return
	}

	resp := gin.H{
		"success":   result.Success,
		"state":     result.State,
		"message":   result.Message,
		"riskScore": result.RiskScore,
	}
	if result.Reason != "" {
		resp["reason"] = result.Reason
	}
	if result.GroupID != "" {
		resp["groupId"] = result.GroupID
	}
	if result.TransactionID != "" {
		resp["transactionId"] = result.TransactionID
	}
	if result.AuditRef != "" {
		resp["auditRef"] = result.AuditRef
		if s.cfg.ExplorerBaseURL != "" {
			resp["explorerUrl"] = s.cfg.ExplorerBaseURL + result.AuditRef
		}
	}
	if result.NewBalance != "" {
		resp["newBalance"] = result.NewBalance
	}

	// Denials and ledger failures are successful evaluations, not HTTP errors.
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

// createAccount handles POST /api/v1/accounts
func (s *Server) createAccount(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		ID             string `json:"id"`
		DisplayName    string `json:"displayName" binding:"required"`
		InitialBalance string `json:"initialBalance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "displayName is required",
		})
		return
	}

	if req.ID == "" {
		req.ID = idgen.WithPrefix("acct_")
	}
	if !validation.IsValidAccountID(req.ID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account_id",
			"message": "account id must look like acct_...",
		})
		return
	}

	balance := new(big.Int)
	if req.InitialBalance != "" {
		parsed, ok := money.Parse(req.InitialBalance)
		if !ok || parsed.Sign() < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "initialBalance must be a non-negative decimal",
			})
			return
		}
		balance = parsed
	}

	acct := &account.Account{
		ID:          req.ID,
		DisplayName: validation.SanitizeString(req.DisplayName, validation.MaxNameLength),
		Balance:     balance,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, account.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "account_exists",
				"message": "An account with this id already exists",
			})
			return
		}
		logging.L(ctx).Error("failed to create account", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create account",
		})
		return
	}

	c.JSON(http.StatusCreated, accountJSON(acct))
}

// getAccount handles GET /api/v1/accounts/:id
func (s *Server) getAccount(c *gin.Context) {
	acct, ok := s.loadAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, accountJSON(acct))
}

// getBalance handles GET /api/v1/accounts/:id/balance
func (s *Server) getBalance(c *gin.Context) {
	acct, ok := s.loadAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accountId": acct.ID,
		"balance":   acct.BalanceString(),
		"currency":  s.cfg.CurrencyCode,
	})
}

// getHistory handles GET /api/v1/accounts/:id/history
func (s *Server) getHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
		return
	}
	before := time.Time{}
	if cursor != nil {
		before = cursor.Timestamp
	}

	// Fetch one extra record to learn whether another page exists.
	records, err := s.store.History(ctx, id, limit+1, before)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
			return
		}
		logging.L(ctx).Error("failed to load history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	records, nextCursor, hasMore := pagination.ComputePage(records, limit, func(rec account.TxRecord) (time.Time, string) {
		return rec.At, rec.ID
	})

	items := make([]gin.H, 0, len(records))
	for _, rec := range records {
		item := gin.H{
			"id":       rec.ID,
			"groupId":  rec.GroupID,
			"merchant": rec.Merchant,
			"category": rec.Category,
			"amount":   money.Format(rec.Amount),
			"auditRef": rec.AuditRef,
			"at":       rec.At.UTC().Format(time.RFC3339),
		}
		if rec.Justification != "" {
			item["justification"] = rec.Justification
		}
		items = append(items, item)
	}
	resp := gin.H{
		"accountId":    id,
		"transactions": items,
		"count":        len(items),
		"hasMore":      hasMore,
	}
	if nextCursor != "" {
		resp["nextCursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// getRecap handles GET /api/v1/accounts/:id/recap
func (s *Server) getRecap(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	days := 7
	if raw := c.Query("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 90 {
			days = parsed
		}
	}

	recap, err := account.BuildRecap(ctx, s.store, id, time.Now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
			return
		}
		logging.L(ctx).Error("failed to build recap", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, recap)
}

// -----------------------------------------------------------------------------
// Guardian controls
// -----------------------------------------------------------------------------

// issueAllowance handles POST /api/v1/accounts/:id/allowance
func (s *Server) issueAllowance(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	acct, err := s.allowances.IssueScheduled(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
		case errors.Is(err, allowance.ErrPaused):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "allowance_paused",
				"message": "Scheduled allowances are paused for this account",
			})
		case errors.Is(err, allowance.ErrTooSoon):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "allowance_too_soon",
				"message": err.Error(),
			})
		default:
			logging.L(ctx).Error("failed to issue allowance", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	s.realtimeHub.BroadcastAllowance(id, "weekly", money.Format(s.cfg.WeeklyAllowance), acct.BalanceString())
	c.JSON(http.StatusOK, gin.H{
		"accountId": id,
		"kind":      "weekly",
		"amount":    money.Format(s.cfg.WeeklyAllowance),
		"balance":   acct.BalanceString(),
	})
}

// issueEmergency handles POST /api/v1/accounts/:id/allowance/emergency
func (s *Server) issueEmergency(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var req struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	amount, ok := money.Parse(req.Amount)
	if !ok || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a positive decimal",
		})
		return
	}

	acct, err := s.allowances.IssueEmergency(ctx, id, amount)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
		case errors.Is(err, allowance.ErrOverCap):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "over_emergency_cap",
				"message": err.Error(),
			})
		default:
			logging.L(ctx).Error("failed to issue emergency credit", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	s.realtimeHub.BroadcastAllowance(id, "emergency", money.Format(amount), acct.BalanceString())
	c.JSON(http.StatusOK, gin.H{
		"accountId": id,
		"kind":      "emergency",
		"amount":    money.Format(amount),
		"balance":   acct.BalanceString(),
	})
}

// setPaused handles POST /api/v1/accounts/:id/pause
func (s *Server) setPaused(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var req struct {
		Paused *bool `json:"paused" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "paused is required",
		})
		return
	}

	acct, err := s.store.SetPaused(ctx, id, *req.Paused)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
			return
		}
		logging.L(ctx).Error("failed to set pause flag", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, accountJSON(acct))
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *Server) loadAccount(c *gin.Context) (*account.Account, bool) {
	ctx := c.Request.Context()
	acct, err := s.store.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "account_not_found",
				"message": "No account with that id",
			})
			return nil, false
		}
		logging.L(ctx).Error("failed to load account", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil, false
	}
	return acct, true
}

func accountJSON(acct *account.Account) gin.H {
	return gin.H{
		"id":              acct.ID,
		"displayName":     acct.DisplayName,
		"balance":         acct.BalanceString(),
		"paused":          acct.Paused,
		"approvedCount":   acct.ApprovedCount,
		"deniedCount":     acct.DeniedCount,
		"lastAllowanceAt": acct.LastAllowanceAt,
		"createdAt":       acct.CreatedAt,
	}
}
