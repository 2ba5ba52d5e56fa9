package matcher

import (
	"time"

	"github.com/linkwise/attribution-engine/internal/model"
)

// BehaviorConfig holds the weighted signal indicators for behavioral
// inference. The cap keeps behavioral scores below every evidentiary tier.
type BehaviorConfig struct {
	RepeatedViewsWeight  float64 `yaml:"repeated_views_weight"`
	PriceCompareWeight   float64 `yaml:"price_compare_weight"`
	RecentActivityWeight float64 `yaml:"recent_activity_weight"`
	ResearchBuyWeight    float64 `yaml:"research_buy_weight"`

	Cap   float64 `yaml:"cap"`
	Floor float64 `yaml:"floor"`
}

// DefaultBehaviorConfig returns the production behavioral weights.
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		RepeatedViewsWeight:  0.25,
		PriceCompareWeight:   0.20,
		RecentActivityWeight: 0.15,
		ResearchBuyWeight:    0.20,
		Cap:                  0.70,
		Floor:                0.60,
	}
}

// BehaviorAnalyzer turns a user's recent interaction history into a
// qualitative confidence signal.
type BehaviorAnalyzer struct {
	cfg BehaviorConfig
}

// NewBehaviorAnalyzer creates an analyzer with the given weights.
func NewBehaviorAnalyzer(cfg BehaviorConfig) *BehaviorAnalyzer {
	return &BehaviorAnalyzer{cfg: cfg}
}

// Pattern is the analyzer's output: the capped weighted score, the named
// signals that fired, and the best candidate record to attribute to.
type Pattern struct {
	Score     float64
	Signals   []string
	Candidate *model.OpportunityRecord
}

// Analyze inspects history (newest first) for recognizable pre-purchase
// patterns. Recognized reports whether the score clears the internal floor.
func (a *BehaviorAnalyzer) Analyze(now time.Time, user model.UserContext, history []model.OpportunityRecord) (Pattern, bool) {
	var p Pattern
	if len(history) == 0 {
		return p, false
	}

	// Base credit for having any recent interaction trail at all. Without
	// it the weighted indicators alone cannot clear the floor even when
	// every one fires.
	score := 0.30

	viewsByProduct := make(map[string]int)
	merchantsByProduct := make(map[string]map[string]bool)
	for _, rec := range history {
		key := Normalize(rec.Product)
		if rec.InteractionType == model.InteractionView || rec.InteractionType == model.InteractionCompare {
			viewsByProduct[key]++
		}
		if merchantsByProduct[key] == nil {
			merchantsByProduct[key] = make(map[string]bool)
		}
		merchantsByProduct[key][rec.MerchantID] = true
	}

	repeated := false
	for _, n := range viewsByProduct {
		if n >= 2 {
			repeated = true
			break
		}
	}
	if repeated {
		score += a.cfg.RepeatedViewsWeight
		p.Signals = append(p.Signals, "repeated_product_views")
	}

	comparing := false
	for _, rec := range history {
		if rec.InteractionType == model.InteractionCompare {
			comparing = true
			break
		}
	}
	if !comparing {
		for _, merchants := range merchantsByProduct {
			if len(merchants) >= 2 {
				comparing = true
				break
			}
		}
	}
	if comparing {
		score += a.cfg.PriceCompareWeight
		p.Signals = append(p.Signals, "price_comparison")
	}

	if user.LastSeenAt != nil && now.Sub(*user.LastSeenAt) <= 6*time.Hour {
		score += a.cfg.RecentActivityWeight
		p.Signals = append(p.Signals, "recent_platform_activity")
	}

	// Research-then-buy: the newest interaction sits in the 1h-24h band
	// before the purchase, preceded by at least one older touch.
	newest := history[0].Timestamp
	gap := now.Sub(newest)
	if len(history) >= 2 && gap >= time.Hour && gap <= 24*time.Hour {
		score += a.cfg.ResearchBuyWeight
		p.Signals = append(p.Signals, "research_then_buy")
	}

	if score > a.cfg.Cap {
		score = a.cfg.Cap
	}
	p.Score = score

	if p.Score < a.cfg.Floor {
		return p, false
	}
	candidate := history[0]
	p.Candidate = &candidate
	return p, true
}
