package receipts

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/swapgate/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler serves read-only receipt routes.
type Handler struct {
	service *Service
}

// NewHandler creates a new receipt handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) receipt routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/receipts/:id", h.GetReceipt)
	r.POST("/receipts/:id/verify", h.VerifyReceipt)
	r.GET("/authorizations/:nonce/receipt", validation.NonceParamMiddleware(), h.GetByNonce)
	r.GET("/actors/:address/receipts", h.ListByActor)
}

// GetReceipt handles GET /v1/receipts/:id
func (h *Handler) GetReceipt(c *gin.Context) {
	receipt, err := h.service.Get(c.Request.Context(), c.Param("id"))
	respond(c, receipt, err)
}

// GetByNonce handles GET /v1/authorizations/:nonce/receipt. Clients use it
// after an already_processed answer to recover the original settlement.
func (h *Handler) GetByNonce(c *gin.Context) {
	receipt, err := h.service.GetByNonce(c.Request.Context(), strings.ToLower(c.Param("nonce")))
	respond(c, receipt, err)
}

func respond(c *gin.Context, receipt *Receipt, err error) {
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Receipt not found",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load receipt",
		})
	default:
		c.JSON(http.StatusOK, gin.H{"receipt": receipt})
	}
}

// ListByActor handles GET /v1/actors/:address/receipts?limit=
func (h *Handler) ListByActor(c *gin.Context) {
	limit := defaultListLimit
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(parsed, maxListLimit)
	}

	list, err := h.service.ListByActor(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list receipts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receipts": list,
		"count":    len(list),
	})
}

// VerifyReceipt handles POST /v1/receipts/:id/verify. An unknown receipt is
// a valid=false answer, not a 404.
func (h *Handler) VerifyReceipt(c *gin.Context) {
	resp, err := h.service.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to verify receipt",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"verification": resp})
}
