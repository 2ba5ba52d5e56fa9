// Package s2s provides a client for merchant server-to-server conversion
// confirmation endpoints.
package s2s

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/linkwise/attribution-engine/internal/resilience"
)

// ConfirmRequest is the payload sent to the merchant endpoint. The
// verification token is a keyed hash over "order_id:amount:shared_secret".
type ConfirmRequest struct {
	OrderID           string    `json:"order_id"`
	UserID            string    `json:"user_id"`
	Amount            float64   `json:"amount"`
	Timestamp         time.Time `json:"timestamp"`
	VerificationToken string    `json:"verification_token"`
}

// ConfirmResponse is the merchant's answer. Merchant-defined fields beyond
// the opportunity id are preserved in Extra.
type ConfirmResponse struct {
	OpportunityID string         `json:"opportunity_id,omitempty"`
	Extra         map[string]any `json:"-"`
}

// UnmarshalJSON keeps unknown merchant fields alongside the known ones.
func (r *ConfirmResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["opportunity_id"].(string); ok {
		r.OpportunityID = v
	}
	delete(raw, "opportunity_id")
	r.Extra = raw
	return nil
}

// Client confirms conversions against a merchant S2S endpoint.
type Client interface {
	// Confirm asks the merchant to confirm a conversion.
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the merchant endpoint base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithTimeout bounds each confirmation call.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.http.Timeout = d }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// NewClient creates a merchant S2S client. Calls are retried on transient
// failures and guarded by a circuit breaker so one unresponsive merchant
// cannot stall every ladder evaluation.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "s2s: marshal confirm request")
	}

	var out *ConfirmResponse
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/s2s/confirm", bytes.NewReader(body))
			if err != nil {
				return eris.Wrap(err, "s2s: build request")
			}
			httpReq.Header.Set("Content-Type", "application/json")

			resp, err := c.http.Do(httpReq)
			if err != nil {
				return eris.Wrap(err, "s2s: confirm call")
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return eris.Wrap(err, "s2s: read response")
			}

			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return resilience.NewTransientError(
					fmt.Errorf("s2s: merchant returned %d", resp.StatusCode), resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return eris.Errorf("s2s: merchant returned %d", resp.StatusCode)
			}

			var parsed ConfirmResponse
			if err := json.Unmarshal(respBody, &parsed); err != nil {
				return eris.Wrap(err, "s2s: decode response")
			}
			out = &parsed
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
