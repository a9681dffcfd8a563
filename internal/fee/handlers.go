package fee

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/swapgate/internal/logging"
	"github.com/mbd888/swapgate/internal/usdc"
)

// Handler provides HTTP endpoints for the fee schedule.
type Handler struct {
	schedule *Schedule
}

// NewHandler creates a new fee handler.
func NewHandler(schedule *Schedule) *Handler {
	return &Handler{schedule: schedule}
}

// RegisterRoutes sets up public fee routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/fees/preview", h.PreviewFee)
}

// RegisterAdminRoutes sets up admin fee routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/fee-rate", h.SetFeeRate)
}

// PreviewFee handles GET /v1/fees/preview?amount=1000
func (h *Handler) PreviewFee(c *gin.Context) {
	gross, ok := usdc.Parse(c.Query("amount"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a non-negative decimal with at most 6 places",
		})
		return
	}
	b, err := h.schedule.Compute(gross)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee": b.View()})
}

type rateRequest struct {
	RateBps *int `json:"rateBps" binding:"required"`
}

// SetFeeRate handles PUT /v1/admin/fee-rate
func (h *Handler) SetFeeRate(c *gin.Context) {
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "rateBps is required",
		})
		return
	}
	previous := h.schedule.Rate()
	if err := h.schedule.SetRate(*req.RateBps); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_rate",
			"message": err.Error(),
		})
		return
	}
	logging.L(c.Request.Context()).Info("fee rate updated", "from", previous, "to", *req.RateBps)
	c.JSON(http.StatusOK, gin.H{
		"rateBps":       *req.RateBps,
		"feePercentage": Percentage(*req.RateBps),
	})
}
