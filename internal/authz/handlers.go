package authz

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/swapgate/internal/logging"
	"github.com/mbd888/swapgate/internal/risk"
	"github.com/mbd888/swapgate/internal/sanctions"
	"github.com/mbd888/swapgate/internal/validation"
)

// Decision is the issuance response. Exactly one of Authorization or the
// rejection fields is meaningful, selected by Approved.
type Decision struct {
	Approved      bool           `json:"approved"`
	Authorization *Authorization `json:"authorization,omitempty"`
	AssessmentID  string         `json:"assessmentId,omitempty"`
	Score         int            `json:"score"`
	Tier          risk.Tier      `json:"tier"`
	Flags         []risk.Flag    `json:"flags"`
}

// NonceStatus is the issuance ledger view of a nonce.
type NonceStatus struct {
	*IssuedNonce
	Spent bool `json:"spent"`
}

// Handler provides HTTP endpoints for issuance.
type Handler struct {
	issuer *Issuer
	nonces NonceStore
	spent  SpentChecker
}

// NewHandler creates a new issuance handler.
func NewHandler(issuer *Issuer, nonces NonceStore, spent SpentChecker) *Handler {
	return &Handler{issuer: issuer, nonces: nonces, spent: spent}
}

// RegisterRoutes sets up issuance routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/authorizations", h.Authorize)
	r.GET("/authorizations/:nonce", validation.NonceParamMiddleware(), h.GetNonce)
}

// Authorize handles POST /v1/authorizations
func (h *Handler) Authorize(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	auth, err := h.issuer.Issue(c.Request.Context(), &req)
	if err == nil {
		c.JSON(http.StatusOK, Decision{
			Approved:      true,
			Authorization: auth,
			AssessmentID:  auth.AssessmentID,
			Score:         auth.Score,
			Tier:          auth.Tier,
			Flags:         auth.Flags,
		})
		return
	}

	var rejection *RejectionError
	switch {
	case errors.As(err, &rejection):
		a := rejection.Assessment
		c.JSON(http.StatusOK, Decision{
			AssessmentID: a.ID,
			Score:        a.Score,
			Tier:         a.Tier,
			Flags:        a.Flags,
		})
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrAmountTooSmall):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, ErrMinNetUnmet):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "min_net_unmet",
			"message": err.Error(),
		})
	case errors.Is(err, sanctions.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "sanctions_unavailable",
			"message": "Sanctions screening is unavailable, try again later",
		})
	case errors.Is(err, ErrSigningUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "signing_unavailable",
			"message": "Authorization signing is unavailable",
		})
	default:
		logging.L(c.Request.Context()).Error("issuance failed", "actor", req.Actor, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to issue authorization",
		})
	}
}

// GetNonce handles GET /v1/authorizations/:nonce
func (h *Handler) GetNonce(c *gin.Context) {
	nonce := strings.ToLower(c.Param("nonce"))
	n, err := h.nonces.Get(c.Request.Context(), nonce)
	if err != nil {
		if errors.Is(err, ErrNonceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Nonce not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load nonce",
		})
		return
	}

	spent := n.Status == StatusSpent
	if !spent && h.spent != nil {
		if spent, err = h.spent.IsSpent(c.Request.Context(), nonce); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to check spend status",
			})
			return
		}
	}

	c.JSON(http.StatusOK, NonceStatus{IssuedNonce: n, Spent: spent})
}
