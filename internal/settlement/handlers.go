package settlement

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/swapgate/internal/logging"
)

// Handler provides HTTP endpoints for settlement.
type Handler struct {
	executor *Executor
}

// NewHandler creates a new settlement handler.
func NewHandler(executor *Executor) *Handler {
	return &Handler{executor: executor}
}

// RegisterRoutes sets up public settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/settlements", h.Execute)
	r.GET("/stats", h.GetStats)
}

// RegisterAdminRoutes sets up admin settlement routes. Callers must guard
// the group with admin auth.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/treasury", h.SetTreasury)
}

// Execute handles POST /v1/settlements
func (h *Handler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ctx := c.Request.Context()
	receipt, err := h.executor.Execute(ctx, &req)
	if err == nil {
		c.JSON(http.StatusCreated, gin.H{"receipt": receipt})
		return
	}

	switch {
	case errors.Is(err, ErrNonceAlreadySpent):
		body := gin.H{
			"error":   "already_processed",
			"message": "Transaction already processed",
		}
		if prior, rerr := h.executor.ReceiptFor(ctx, req.Nonce); rerr == nil {
			body["receipt"] = prior
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, ErrAuthorizationExpired):
		c.JSON(http.StatusGone, gin.H{
			"error":   "authorization_expired",
			"message": "Authorization expired, request a new one",
		})
	case errors.Is(err, ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "signature_invalid",
			"message": "Signature does not match the authorization fields",
		})
	case errors.Is(err, ErrFeeMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "fee_mismatch",
			"message": err.Error(),
		})
	case errors.Is(err, ErrSlippageExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "slippage_exceeded",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInsufficientLiquidity):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "insufficient_liquidity",
			"message": "Not enough token liquidity, try again later",
		})
	case errors.Is(err, ErrTransferFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "transfer_failed",
			"message": "Transfer failed, try again",
		})
	default:
		logging.L(ctx).Error("settlement failed", "nonce", req.Nonce, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to execute settlement",
		})
	}
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": h.executor.Stats()})
}

type treasuryRequest struct {
	Address string `json:"address" binding:"required"`
}

// SetTreasury handles PUT /v1/admin/treasury
func (h *Handler) SetTreasury(c *gin.Context) {
	var req treasuryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "address is required",
		})
		return
	}
	if err := h.executor.SetTreasury(req.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_treasury",
			"message": err.Error(),
		})
		return
	}
	logging.L(c.Request.Context()).Info("treasury updated", "treasury", req.Address)
	c.JSON(http.StatusOK, gin.H{"treasury": h.executor.Treasury().Hex()})
}
