package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/linkwise/attribution-engine/internal/matcher"
	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/store"
	"github.com/linkwise/attribution-engine/pkg/receiptsearch"
)

// Receipt matches the purchase against the user's recent opportunity
// records, optionally enriched with email receipt text from the search
// collaborator. Receipts are heuristic, so the matcher caps confidence
// below the evidentiary tiers above it.
type Receipt struct {
	store    store.Store
	matcher  *matcher.ReceiptMatcher
	receipts receiptsearch.Client // optional
	window   time.Duration
	limit    int
	now      func() time.Time
}

// NewReceipt creates the receipt-matching resolver. receipts may be nil.
func NewReceipt(st store.Store, m *matcher.ReceiptMatcher, receipts receiptsearch.Client, window time.Duration) *Receipt {
	return &Receipt{
		store:    st,
		matcher:  m,
		receipts: receipts,
		window:   window,
		limit:    25,
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (r *Receipt) WithNow(now func() time.Time) *Receipt {
	r.now = now
	return r
}

func (r *Receipt) Method() model.Method { return model.MethodReceiptMatching }

func (r *Receipt) Resolve(ctx context.Context, event model.ConversionEvent, user model.UserContext) (model.Attempt, error) {
	if user.UserID == "" {
		return inapplicable("no user identifier"), nil
	}

	since := r.now().Add(-r.window)
	candidates, err := r.store.RecentOpportunities(ctx, user.UserID, since, r.limit)
	if err != nil {
		return model.Attempt{}, eris.Wrap(err, "receipt tier: opportunity lookup")
	}
	if len(candidates) == 0 {
		return inapplicable("no recent opportunities for user"), nil
	}

	scored := event
	if texts := r.searchReceipts(ctx, event, user); len(texts) > 0 {
		// Receipt text widens the item corpus the text-overlap factor
		// scores against.
		scored.Items = append(append([]string{}, event.Items...), texts...)
	}

	match, ok := r.matcher.Best(scored, candidates)
	if !ok {
		return inapplicable("no candidate cleared the match floor"), nil
	}

	return model.Attempt{
		Confidence:    match.Confidence,
		OpportunityID: match.Candidate.OpportunityID,
		PublisherID:   match.Candidate.PublisherID,
		MerchantID:    match.Candidate.MerchantID,
		Evidence: map[string]any{
			"raw_match_score":     match.RawScore,
			"candidate_product":   match.Candidate.Product,
			"candidate_price":     match.Candidate.Price,
			"candidates_examined": len(candidates),
		},
		Success: true,
	}, nil
}

// searchReceipts queries the email-receipt collaborator. Failures only cost
// the enrichment, not the tier.
func (r *Receipt) searchReceipts(ctx context.Context, event model.ConversionEvent, user model.UserContext) []string {
	if r.receipts == nil {
		return nil
	}
	found, err := r.receipts.Search(ctx, receiptsearch.Query{
		UserID:          user.UserID,
		Merchant:        event.MerchantID,
		AmountMin:       event.Value * 0.75,
		AmountMax:       event.Value * 1.25,
		TimeWindowHours: int(r.window / time.Hour),
	})
	if err != nil {
		zap.L().Debug("receipt tier: receipt search unavailable",
			zap.String("user_id", user.UserID),
			zap.Error(err),
		)
		return nil
	}
	var texts []string
	for _, rec := range found {
		if s := strings.TrimSpace(rec.Subject + " " + rec.Body); s != "" {
			texts = append(texts, s)
		}
	}
	return texts
}
