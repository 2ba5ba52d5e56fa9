// Package resolver implements the tier resolvers of the attribution
// fallback ladder.
package resolver

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/signing"
)

// Affiliate is the highest-trust tier: a signed first-party tracked click
// embedded in the referrer or current URL.
type Affiliate struct {
	signer *signing.Signer
	window time.Duration
	now    func() time.Time
}

// NewAffiliate creates the affiliate-link resolver. window bounds how old a
// click may be.
func NewAffiliate(signer *signing.Signer, window time.Duration) *Affiliate {
	return &Affiliate{signer: signer, window: window, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (r *Affiliate) WithNow(now func() time.Time) *Affiliate {
	r.now = now
	return r
}

func (r *Affiliate) Method() model.Method { return model.MethodAffiliateLink }

func (r *Affiliate) Resolve(_ context.Context, event model.ConversionEvent, user model.UserContext) (model.Attempt, error) {
	params := trackingParams(user)
	if len(params) == 0 || params[signing.ParamOpportunity] == "" {
		return inapplicable("no tracking parameters present"), nil
	}

	if !r.signer.VerifyParams(params) {
		return inapplicable("tracking parameter signature invalid"), nil
	}

	clickAt, ok := parseClickTimestamp(params[signing.ParamTimestamp])
	if !ok {
		return inapplicable("click timestamp missing or malformed"), nil
	}
	now := r.now()
	age := now.Sub(clickAt)
	if age < 0 {
		return inapplicable("click timestamp in the future"), nil
	}
	if age > r.window {
		return inapplicable("click outside attribution window"), nil
	}

	confidence := 0.98
	evidence := map[string]any{
		"click_at":  clickAt,
		"click_age": age.String(),
	}

	if params[signing.ParamClickID] == "" && user.ClickID == "" {
		confidence -= 0.05
		evidence["missing_click_id"] = true
	}
	if params[signing.ParamCampaign] == "" && params[signing.ParamSource] == "" {
		confidence -= 0.05
		evidence["missing_campaign_metadata"] = true
	}
	if age > 24*time.Hour {
		confidence -= 0.05
		evidence["stale_click"] = true
	}

	switch hops := navigationHops(user); {
	case hops >= 0 && hops <= 2:
		// Direct click path from the tracked link to the purchase page.
		confidence += 0.07
		evidence["direct_click_path"] = true
	case hops > 5:
		confidence -= 0.07
		evidence["indirect_navigation"] = true
	}

	if confidence > 0.99 {
		confidence = 0.99
	}
	if confidence < 0 {
		confidence = 0
	}

	return model.Attempt{
		Confidence:    confidence,
		OpportunityID: params[signing.ParamOpportunity],
		PublisherID:   params[signing.ParamPublisher],
		MerchantID:    firstNonEmpty(params[signing.ParamMerchant], event.MerchantID),
		Evidence:      evidence,
		Success:       true,
	}, nil
}

// trackingParams returns the reserved-namespace parameters, preferring the
// pre-extracted map and falling back to parsing the referrer then the
// current URL.
func trackingParams(user model.UserContext) map[string]string {
	if len(user.TrackingParams) > 0 {
		out := make(map[string]string, len(user.TrackingParams))
		for k, v := range user.TrackingParams {
			if strings.HasPrefix(k, signing.ParamPrefix) {
				out[k] = v
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	for _, raw := range []string{user.ReferrerURL, user.CurrentURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		out := make(map[string]string)
		for k, vs := range u.Query() {
			if strings.HasPrefix(k, signing.ParamPrefix) && len(vs) > 0 {
				out[k] = vs[0]
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func parseClickTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// navigationHops counts steps from the tracked entry page to the purchase
// page. Returns -1 when no history is available.
func navigationHops(user model.UserContext) int {
	if len(user.Navigation) == 0 {
		return -1
	}
	return len(user.Navigation) - 1
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func inapplicable(reason string) model.Attempt {
	return model.Attempt{Success: false, FailureReason: reason}
}
