package model

import "time"

// PostbackRecord is a cached, signed merchant assertion that a conversion
// happened. Records are written once at ingestion and only read by the
// S2S tier until they expire.
type PostbackRecord struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	OpportunityID string    `json:"opportunity_id"`
	PublisherID   string    `json:"publisher_id"`
	MerchantID    string    `json:"merchant_id"`
	ExpectedValue float64   `json:"expected_value_usd"`
	Signature     string    `json:"signature"`
	ReceivedAt    time.Time `json:"received_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its TTL at the given time.
// A record exactly at its expiry instant is still live.
func (p PostbackRecord) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// InteractionType labels how a user touched an opportunity.
type InteractionType string

const (
	InteractionView     InteractionType = "view"
	InteractionClick    InteractionType = "click"
	InteractionCompare  InteractionType = "compare"
	InteractionPurchase InteractionType = "purchase"
)

// OpportunityRecord is one entry from the opportunity/history store: a
// recent opportunity the user interacted with, used by the receipt-matching
// and behavioral tiers.
type OpportunityRecord struct {
	OpportunityID   string          `json:"opportunity_id"`
	PublisherID     string          `json:"publisher_id"`
	MerchantID      string          `json:"merchant_id"`
	Product         string          `json:"product"`
	Price           float64         `json:"price"`
	Timestamp       time.Time       `json:"timestamp"`
	InteractionType InteractionType `json:"interaction_type"`
}

// Receipt is a candidate email receipt returned by the receipt search
// collaborator.
type Receipt struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
}
