package model

import "time"

// Method identifies one tier of the attribution fallback ladder.
type Method string

const (
	MethodAffiliateLink   Method = "affiliate_link"
	MethodS2SPostback     Method = "s2s_postback"
	MethodReceiptMatching Method = "receipt_matching"
	MethodBehavioral      Method = "behavioral_inference"
	MethodLastTouch       Method = "last_touch"
	MethodDefaultFallback Method = "default_fallback"
)

// MethodOrder is the fixed trust-priority order in which the ladder
// evaluates tiers. The default fallback is always last and always succeeds.
var MethodOrder = []Method{
	MethodAffiliateLink,
	MethodS2SPostback,
	MethodReceiptMatching,
	MethodBehavioral,
	MethodLastTouch,
	MethodDefaultFallback,
}

// UnknownID marks an identifier the default fallback could not resolve.
const UnknownID = "unknown"

// Attempt is one resolver's output for one tier. Attempts are append-only
// audit entries and are never mutated after creation.
type Attempt struct {
	Method        Method         `json:"method"`
	Confidence    float64        `json:"confidence"`
	OpportunityID string         `json:"opportunity_id,omitempty"`
	PublisherID   string         `json:"publisher_id,omitempty"`
	MerchantID    string         `json:"merchant_id,omitempty"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	Success       bool           `json:"success"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// Result is the ladder's terminal output. One exists for every conversion
// event processed; the ladder never returns an error in its place.
type Result struct {
	ID            string    `json:"id"`
	Method        Method    `json:"method"`
	Confidence    float64   `json:"confidence"`
	OpportunityID string    `json:"opportunity_id"`
	PublisherID   string    `json:"publisher_id"`
	MerchantID    string    `json:"merchant_id"`
	OrderID       string    `json:"order_id"`
	ValueUSD      float64   `json:"value_usd"`
	Attempts      []Attempt `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}
