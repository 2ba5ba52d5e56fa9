package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/store"
)

// LastTouch attributes to the most recent recorded interaction. Confidence
// decays with elapsed time and the tier only applies inside its window.
type LastTouch struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

// NewLastTouch creates the last-touch resolver.
func NewLastTouch(st store.Store, window time.Duration) *LastTouch {
	return &LastTouch{store: st, window: window, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (r *LastTouch) WithNow(now func() time.Time) *LastTouch {
	r.now = now
	return r
}

func (r *LastTouch) Method() model.Method { return model.MethodLastTouch }

func (r *LastTouch) Resolve(ctx context.Context, event model.ConversionEvent, user model.UserContext) (model.Attempt, error) {
	if user.LastSeenAt == nil {
		return inapplicable("no recorded interaction timestamp"), nil
	}

	now := r.now()
	elapsed := now.Sub(*user.LastSeenAt)
	if elapsed < 0 {
		return inapplicable("interaction timestamp in the future"), nil
	}
	if elapsed > r.window {
		return inapplicable("last interaction outside attribution window"), nil
	}

	confidence := 0.40
	if elapsed <= 6*time.Hour {
		confidence = 0.50
	}

	attempt := model.Attempt{
		Confidence: confidence,
		MerchantID: event.MerchantID,
		Evidence:   map[string]any{"elapsed": elapsed.String()},
		Success:    true,
	}

	// Best-effort identifier fill from the newest interaction on record.
	if user.UserID != "" {
		recent, err := r.store.RecentOpportunities(ctx, user.UserID, now.Add(-r.window), 1)
		if err != nil {
			zap.L().Debug("last-touch tier: history unavailable",
				zap.String("user_id", user.UserID),
				zap.Error(err),
			)
		} else if len(recent) > 0 {
			attempt.OpportunityID = recent[0].OpportunityID
			attempt.PublisherID = recent[0].PublisherID
			attempt.MerchantID = firstNonEmpty(recent[0].MerchantID, event.MerchantID)
		}
	}

	return attempt, nil
}
