// Package matcher implements the supporting matchers behind the
// receipt-matching and behavioral-inference tiers.
package matcher

import (
	"math"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/linkwise/attribution-engine/internal/model"
)

// ReceiptConfig holds the weighted factors for scoring an opportunity
// candidate against a purchase. Weights sum to 1.
type ReceiptConfig struct {
	TextWeight     float64 `yaml:"text_weight"`
	PriceWeight    float64 `yaml:"price_weight"`
	TimeWeight     float64 `yaml:"time_weight"`
	MerchantWeight float64 `yaml:"merchant_weight"`

	// PriceTolerance is the relative distance at which price still earns
	// full credit; PricePartialLimit is where partial credit runs out.
	PriceTolerance    float64 `yaml:"price_tolerance"`
	PricePartialLimit float64 `yaml:"price_partial_limit"`

	// MatchFloor is the minimum raw score a candidate must clear.
	// ConfidenceCeiling scales the winning raw score into tier confidence;
	// receipts are heuristic and can never reach top-tier trust.
	MatchFloor        float64 `yaml:"match_floor"`
	ConfidenceCeiling float64 `yaml:"confidence_ceiling"`
}

// DefaultReceiptConfig returns the production receipt-matching weights.
func DefaultReceiptConfig() ReceiptConfig {
	return ReceiptConfig{
		TextWeight:        0.4,
		PriceWeight:       0.3,
		TimeWeight:        0.2,
		MerchantWeight:    0.1,
		PriceTolerance:    0.10,
		PricePartialLimit: 0.25,
		MatchFloor:        0.6,
		ConfidenceCeiling: 0.85,
	}
}

// ReceiptMatcher scores recent opportunity candidates against a purchase.
type ReceiptMatcher struct {
	cfg ReceiptConfig
}

// NewReceiptMatcher creates a matcher with the given weights.
func NewReceiptMatcher(cfg ReceiptConfig) *ReceiptMatcher {
	return &ReceiptMatcher{cfg: cfg}
}

// Match is the outcome for one candidate.
type Match struct {
	Candidate  model.OpportunityRecord
	RawScore   float64
	Confidence float64
}

// Best returns the highest-scoring candidate above the match floor, with
// its raw score scaled by the confidence ceiling. ok is false when no
// candidate clears the floor.
func (m *ReceiptMatcher) Best(event model.ConversionEvent, candidates []model.OpportunityRecord) (Match, bool) {
	var best Match
	found := false
	for _, c := range candidates {
		raw := m.Score(event, c)
		if raw < m.cfg.MatchFloor {
			continue
		}
		if !found || raw > best.RawScore {
			best = Match{Candidate: c, RawScore: raw, Confidence: raw * m.cfg.ConfidenceCeiling}
			found = true
		}
	}
	return best, found
}

// Score computes the weighted raw match score for one candidate. When the
// purchase carries no item or receipt text at all, the text factor is
// dropped and the remaining weights renormalized, so a text-less purchase
// is scored on price, time, and merchant alone instead of forfeiting the
// text weight.
func (m *ReceiptMatcher) Score(event model.ConversionEvent, c model.OpportunityRecord) float64 {
	score := m.cfg.PriceWeight * m.priceProximity(event.Value, c.Price)
	score += m.timeProximity(event.OccurredAt, c.Timestamp)
	if c.MerchantID != "" && c.MerchantID == event.MerchantID {
		score += m.cfg.MerchantWeight
	}
	if len(event.Items) == 0 {
		return score / (1 - m.cfg.TextWeight)
	}
	return score + m.cfg.TextWeight*textOverlap(event.Items, c.Product)
}

// priceProximity gives full credit within the tolerance and linear partial
// credit out to the partial limit.
func (m *ReceiptMatcher) priceProximity(value, price float64) float64 {
	if value <= 0 || price <= 0 {
		return 0
	}
	dist := math.Abs(value-price) / value
	switch {
	case dist <= m.cfg.PriceTolerance:
		return 1
	case dist <= m.cfg.PricePartialLimit:
		return 1 - (dist-m.cfg.PriceTolerance)/(m.cfg.PricePartialLimit-m.cfg.PriceTolerance)
	default:
		return 0
	}
}

// timeProximity awards the full time weight within one hour and half of it
// within 24 hours.
func (m *ReceiptMatcher) timeProximity(purchase, candidate time.Time) float64 {
	gap := purchase.Sub(candidate)
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap <= time.Hour:
		return m.cfg.TimeWeight
	case gap <= 24*time.Hour:
		return m.cfg.TimeWeight / 2
	default:
		return 0
	}
}

var foldCaser = cases.Fold()

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases a string and strips diacritics so that product names
// from receipts compare against catalog names byte-for-byte.
func Normalize(s string) string {
	out, _, err := transform.String(deaccent, foldCaser.String(s))
	if err != nil {
		return foldCaser.String(s)
	}
	return out
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			set[f] = true
		}
	}
	return set
}

// textOverlap returns the fraction of the candidate product's tokens found
// among the purchased item names.
func textOverlap(items []string, product string) float64 {
	productTokens := tokenize(product)
	if len(productTokens) == 0 {
		return 0
	}
	itemTokens := tokenize(strings.Join(items, " "))
	hits := 0
	for tok := range productTokens {
		if itemTokens[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(productTokens))
}
