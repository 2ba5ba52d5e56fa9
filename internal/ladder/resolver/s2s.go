package resolver

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/signing"
	"github.com/linkwise/attribution-engine/internal/store"
	"github.com/linkwise/attribution-engine/pkg/s2s"
)

// S2S resolves against a cached merchant postback, or a live merchant
// confirmation call when no postback is cached and a client is configured.
// Merchant assertions outrank client-side signals but not a signed
// first-party click: postbacks can be stale or mis-keyed.
type S2S struct {
	store  store.Store
	signer *signing.Signer
	client s2s.Client // optional
	now    func() time.Time
}

// NewS2S creates the S2S postback resolver. client may be nil.
func NewS2S(st store.Store, signer *signing.Signer, client s2s.Client) *S2S {
	return &S2S{store: st, signer: signer, client: client, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (r *S2S) WithNow(now func() time.Time) *S2S {
	r.now = now
	return r
}

func (r *S2S) Method() model.Method { return model.MethodS2SPostback }

const (
	s2sBaseConfidence    = 0.85
	s2sValueTolerance    = 0.10
	s2sTimeMatchWindow   = time.Hour
	s2sConfirmConfidence = 0.90
)

func (r *S2S) Resolve(ctx context.Context, event model.ConversionEvent, user model.UserContext) (model.Attempt, error) {
	if user.UserID == "" {
		return inapplicable("no user identifier"), nil
	}

	rec, err := r.store.GetPostback(ctx, user.UserID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return r.confirmLive(ctx, event, user)
		}
		return model.Attempt{}, eris.Wrap(err, "s2s tier: postback lookup")
	}

	if !r.signer.VerifyJSON(postbackPayload(*rec), rec.Signature) {
		return inapplicable("postback signature invalid"), nil
	}

	confidence := s2sBaseConfidence
	evidence := map[string]any{
		"postback_id":          rec.ID,
		"postback_received_at": rec.ReceivedAt,
	}

	// The cached expectation is in USD; compare against the normalized
	// amount, not the native-currency value.
	valueDist := 1.0
	if event.ValueUSD > 0 {
		valueDist = math.Abs(event.ValueUSD-rec.ExpectedValue) / event.ValueUSD
	}
	timeGap := event.OccurredAt.Sub(rec.ReceivedAt)
	if timeGap < 0 {
		timeGap = -timeGap
	}
	if valueDist <= s2sValueTolerance && timeGap <= s2sTimeMatchWindow {
		// Value/time match: scale 0.90-0.95 with value proximity.
		confidence = 0.90 + 0.05*(1-valueDist/s2sValueTolerance)
		evidence["value_time_match"] = true
	}

	return model.Attempt{
		Confidence:    confidence,
		OpportunityID: rec.OpportunityID,
		PublisherID:   rec.PublisherID,
		MerchantID:    rec.MerchantID,
		Evidence:      evidence,
		Success:       true,
	}, nil
}

// confirmLive asks the merchant endpoint directly when nothing is cached.
// Any transport failure is a transient tier failure, never fatal.
func (r *S2S) confirmLive(ctx context.Context, event model.ConversionEvent, user model.UserContext) (model.Attempt, error) {
	if r.client == nil {
		return inapplicable("no cached postback for user"), nil
	}

	resp, err := r.client.Confirm(ctx, s2s.ConfirmRequest{
		OrderID:           event.OrderID,
		UserID:            user.UserID,
		Amount:            event.Value,
		Timestamp:         event.OccurredAt,
		VerificationToken: r.signer.VerificationToken(event.OrderID, event.Value),
	})
	if err != nil {
		return model.Attempt{}, eris.Wrap(err, "s2s tier: merchant confirm")
	}
	if resp.OpportunityID == "" {
		return inapplicable("merchant did not confirm conversion"), nil
	}

	return model.Attempt{
		Confidence:    s2sConfirmConfidence,
		OpportunityID: resp.OpportunityID,
		MerchantID:    event.MerchantID,
		Evidence:      map[string]any{"live_confirmation": true},
		Success:       true,
	}, nil
}

// postbackPayload rebuilds the canonical payload a postback signature
// covers. Ingestion signs exactly these fields.
func postbackPayload(rec model.PostbackRecord) map[string]any {
	return map[string]any{
		"user_id":            rec.UserID,
		"opportunity_id":     rec.OpportunityID,
		"publisher_id":       rec.PublisherID,
		"merchant_id":        rec.MerchantID,
		"expected_value_usd": rec.ExpectedValue,
	}
}
