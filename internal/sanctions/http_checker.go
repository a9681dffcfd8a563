package sanctions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/swapgate/internal/circuitbreaker"
)

// HTTPChecker queries a remote screening endpoint:
//
//	GET {endpoint}?address=0x...  ->  {"sanctioned": true|false}
//
// Calls go through a circuit breaker so a dead service fails fast.
type HTTPChecker struct {
	endpoint string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
}

// NewHTTPChecker creates a checker for endpoint.
func NewHTTPChecker(endpoint string, breaker *circuitbreaker.Breaker) *HTTPChecker {
	if breaker == nil {
		breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return &HTTPChecker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  breaker,
	}
}

type screeningResponse struct {
	Sanctioned *bool `json:"sanctioned"`
}

func (c *HTTPChecker) IsSanctioned(ctx context.Context, address string) (bool, error) {
	var hit bool
	err := c.breaker.Do(ctx, c.endpoint, func(ctx context.Context) error {
		u, err := url.Parse(c.endpoint)
		if err != nil {
			return err
		}
		q := u.Query()
		q.Set("address", strings.ToLower(address))
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("sanctions: endpoint returned %d", resp.StatusCode)
		}
		var body screeningResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("sanctions: decode response: %w", err)
		}
		if body.Sanctioned == nil {
			return fmt.Errorf("sanctions: response missing \"sanctioned\"")
		}
		hit = *body.Sanctioned
		return nil
	})
	return hit, err
}

// Chain consults each checker in order; any hit is a hit. A failing checker
// fails the whole check so the policy applies.
type Chain []Checker

func (c Chain) IsSanctioned(ctx context.Context, address string) (bool, error) {
	for _, ch := range c {
		hit, err := ch.IsSanctioned(ctx, address)
		if err != nil {
			return false, err
		}
		if hit {
			return true, nil
		}
	}
	return false, nil
}
