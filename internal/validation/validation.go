// Package validation provides request validators and parameter middleware
// shared by the API handlers.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/swapgate/internal/usdc"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// ethAddressRegex validates Ethereum addresses
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	// nonceRegex validates 16-byte authorization nonces
	nonceRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{32}$`)
	// amountRegex rejects signs, exponents and bare leading or trailing dots
	amountRegex = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEthAddress checks if a string is a valid Ethereum address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// IsValidNonce checks if a string is a 0x-prefixed 16-byte hex nonce
func IsValidNonce(s string) bool {
	return nonceRegex.MatchString(s)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAddress checks if a field is a valid Ethereum address
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidEthAddress(value) {
			return &ValidationError{Field: field, Message: "must be a valid Ethereum address (0x...)"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// AddressParamMiddleware validates the :address URL parameter on routes that use it.
// Apply to route groups that include :address params to reject malformed addresses early.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr != "" && !IsValidEthAddress(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
			})
			return
		}
		c.Next()
	}
}

// NonceParamMiddleware rejects a malformed :nonce URL parameter before the
// handler runs a store lookup.
func NonceParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if nonce := c.Param("nonce"); nonce != "" && !IsValidNonce(nonce) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "nonce must be 0x followed by 32 hex characters",
			})
			return
		}
		c.Next()
	}
}

// ValidAmount checks that a non-empty value is a positive USDC amount written
// as plain digits with an optional fraction of at most six places.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !amountRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "invalid amount format"}
		}
		units, ok := usdc.Parse(value)
		if !ok {
			return &ValidationError{Field: field, Message: "has more than 6 decimal places"}
		}
		if units.Sign() == 0 {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		if !usdc.InRange(units) {
			return &ValidationError{Field: field, Message: "amount is too large"}
		}
		return nil
	}
}
