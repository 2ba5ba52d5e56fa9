// Package receiptsearch provides a client for the email-receipt full-text
// search collaborator.
package receiptsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/resilience"
)

// Query describes a receipt search: amounts bracket the purchase value and
// the window bounds how far back to look.
type Query struct {
	UserID          string  `json:"user_id"`
	Merchant        string  `json:"merchant"`
	AmountMin       float64 `json:"amount_min"`
	AmountMax       float64 `json:"amount_max"`
	TimeWindowHours int     `json:"time_window_hours"`
}

// Client searches a user's email receipts.
type Client interface {
	Search(ctx context.Context, q Query) ([]model.Receipt, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithTimeout bounds each search call.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.http.Timeout = d }
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a receipt search client.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, q Query) ([]model.Receipt, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, eris.Wrap(err, "receiptsearch: marshal query")
	}

	var receipts []model.Receipt
	err = resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/receipts/search", bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "receiptsearch: build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "receiptsearch: search call")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return eris.Wrap(err, "receiptsearch: read response")
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return resilience.NewTransientError(
				fmt.Errorf("receiptsearch: backend returned %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("receiptsearch: backend returned %d", resp.StatusCode)
		}

		var parsed struct {
			Receipts []model.Receipt `json:"receipts"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return eris.Wrap(err, "receiptsearch: decode response")
		}
		receipts = parsed.Receipts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}
