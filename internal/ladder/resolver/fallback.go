package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/store"
)

// Fallback is the terminal tier. It has no preconditions and always
// succeeds at a fixed low confidence, which is what lets the orchestrator
// guarantee a result for every conversion event.
type Fallback struct {
	store      store.Store
	confidence float64
}

// NewFallback creates the default-fallback resolver.
func NewFallback(st store.Store, confidence float64) *Fallback {
	return &Fallback{store: st, confidence: confidence}
}

func (r *Fallback) Method() model.Method { return model.MethodDefaultFallback }

func (r *Fallback) Resolve(ctx context.Context, event model.ConversionEvent, user model.UserContext) (model.Attempt, error) {
	attempt := model.Attempt{
		Confidence:    r.confidence,
		OpportunityID: model.UnknownID,
		PublisherID:   model.UnknownID,
		MerchantID:    firstNonEmpty(event.MerchantID, model.UnknownID),
		Evidence:      map[string]any{"fallback": true},
		Success:       true,
	}

	// Prefer the user's historically most frequent publisher/merchant pair
	// when one exists. Any failure here still yields the unknown result.
	if user.UserID != "" && ctx.Err() == nil {
		pub, merchant, err := r.store.TopPublisherMerchant(ctx, user.UserID)
		if err == nil {
			attempt.PublisherID = pub
			attempt.MerchantID = merchant
			attempt.Evidence["historical_pair"] = true
		} else {
			zap.L().Debug("fallback tier: no historical pair",
				zap.String("user_id", user.UserID),
				zap.Error(err),
			)
		}
	}

	return attempt, nil
}
