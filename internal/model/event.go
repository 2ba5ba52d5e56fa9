// Package model defines the core attribution data types shared across the engine.
package model

import "time"

// ConversionEvent is a purchase fact reported by the calling system. The
// ladder treats it as immutable input and never mutates it.
type ConversionEvent struct {
	OrderID    string    `json:"order_id"`
	Value      float64   `json:"value"`
	Currency   string    `json:"currency"`
	ValueUSD   float64   `json:"value_usd"`
	MerchantID string    `json:"merchant_id"`
	Items      []string  `json:"items,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NavigationStep is one visited URL in the user's recent session history.
type NavigationStep struct {
	URL       string    `json:"url"`
	VisitedAt time.Time `json:"visited_at"`
}

// UserContext is the request-scoped evidence bundle that accompanies a
// conversion event. It is built per request and not persisted.
type UserContext struct {
	UserID         string            `json:"user_id"`
	ReferrerURL    string            `json:"referrer_url,omitempty"`
	CurrentURL     string            `json:"current_url,omitempty"`
	TrackingParams map[string]string `json:"tracking_params,omitempty"`
	ClickID        string            `json:"click_id,omitempty"`
	Navigation     []NavigationStep  `json:"navigation,omitempty"`
	LastSeenAt     *time.Time        `json:"last_seen_at,omitempty"`
}

// HasTrackingParams reports whether any tracking parameters are present,
// either pre-extracted or embedded in the referrer/current URL.
func (c UserContext) HasTrackingParams() bool {
	return len(c.TrackingParams) > 0 || c.ReferrerURL != "" || c.CurrentURL != ""
}
