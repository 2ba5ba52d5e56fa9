package resolver

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/linkwise/attribution-engine/internal/matcher"
	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/store"
)

// Behavioral infers attribution from the user's recent interaction pattern.
// The analyzer caps its score below every evidentiary tier.
type Behavioral struct {
	store    store.Store
	analyzer *matcher.BehaviorAnalyzer
	window   time.Duration
	limit    int
	now      func() time.Time
}

// NewBehavioral creates the behavioral-inference resolver.
func NewBehavioral(st store.Store, analyzer *matcher.BehaviorAnalyzer, window time.Duration) *Behavioral {
	return &Behavioral{
		store:    st,
		analyzer: analyzer,
		window:   window,
		limit:    50,
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (r *Behavioral) WithNow(now func() time.Time) *Behavioral {
	r.now = now
	return r
}

func (r *Behavioral) Method() model.Method { return model.MethodBehavioral }

func (r *Behavioral) Resolve(ctx context.Context, event model.ConversionEvent, user model.UserContext) (model.Attempt, error) {
	if user.UserID == "" {
		return inapplicable("no user identifier"), nil
	}

	now := r.now()
	history, err := r.store.RecentOpportunities(ctx, user.UserID, now.Add(-r.window), r.limit)
	if err != nil {
		return model.Attempt{}, eris.Wrap(err, "behavioral tier: history lookup")
	}

	pattern, ok := r.analyzer.Analyze(now, user, history)
	if !ok {
		return inapplicable("no recognizable interaction pattern"), nil
	}

	return model.Attempt{
		Confidence:    pattern.Score,
		OpportunityID: pattern.Candidate.OpportunityID,
		PublisherID:   pattern.Candidate.PublisherID,
		MerchantID:    pattern.Candidate.MerchantID,
		Evidence: map[string]any{
			"signals":          pattern.Signals,
			"history_examined": len(history),
		},
		Success: true,
	}, nil
}
