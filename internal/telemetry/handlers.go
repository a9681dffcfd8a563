package telemetry

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/swapgate/internal/logging"
	"github.com/mbd888/swapgate/internal/validation"
)

// MaxKYCTier is the highest verification tier.
const MaxKYCTier = 3

// TierSetter records KYC tiers.
type TierSetter interface {
	SetTier(actor string, tier int)
}

// Handler provides admin endpoints for KYC tiers.
type Handler struct {
	kyc TierSetter
}

// NewHandler creates a new KYC handler.
func NewHandler(kyc TierSetter) *Handler {
	return &Handler{kyc: kyc}
}

// RegisterAdminRoutes sets up admin KYC routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/kyc/:address", validation.AddressParamMiddleware(), h.SetTier)
}

type tierRequest struct {
	Tier *int `json:"tier" binding:"required"`
}

// SetTier handles PUT /v1/admin/kyc/:address
func (h *Handler) SetTier(c *gin.Context) {
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil || *req.Tier < 0 || *req.Tier > MaxKYCTier {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "tier must be between 0 and 3",
		})
		return
	}
	addr := c.Param("address")
	h.kyc.SetTier(addr, *req.Tier)
	logging.L(c.Request.Context()).Info("kyc tier updated", "actor", addr, "tier", *req.Tier)
	c.JSON(http.StatusOK, gin.H{"address": addr, "tier": *req.Tier})
}
