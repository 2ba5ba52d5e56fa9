package resolver

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/signing"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	resolveAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer    = signing.New("test-secret")
)

func conversion() model.ConversionEvent {
	return model.ConversionEvent{
		OrderID:    "order-1001",
		Value:      249.99,
		Currency:   "USD",
		ValueUSD:   249.99,
		MerchantID: "m-1",
		OccurredAt: resolveAt,
	}
}

// signedParams builds a valid signed tracking parameter set clicked at the
// given age before resolveAt.
func signedParams(age time.Duration, extra map[string]string) map[string]string {
	params := map[string]string{
		signing.ParamOpportunity: "opp-1",
		signing.ParamPublisher:   "pub-1",
		signing.ParamMerchant:    "m-1",
		signing.ParamTimestamp:   fmt.Sprintf("%d", resolveAt.Add(-age).Unix()),
	}
	for k, v := range extra {
		params[k] = v
	}
	params[signing.SignatureKey] = signer.SignParams(params)
	return params
}

func newAffiliate(window time.Duration) *Affiliate {
	return NewAffiliate(signer, window).WithNow(func() time.Time { return resolveAt })
}

func TestAffiliateFullSignal(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)
	user := model.UserContext{
		UserID: "u-1",
		TrackingParams: signedParams(30*time.Minute, map[string]string{
			signing.ParamClickID:  "click-1",
			signing.ParamCampaign: "spring-sale",
		}),
		Navigation: []model.NavigationStep{
			{URL: "https://shop.example/landing", VisitedAt: resolveAt.Add(-30 * time.Minute)},
			{URL: "https://shop.example/checkout", VisitedAt: resolveAt.Add(-5 * time.Minute)},
		},
	}

	attempt, err := r.Resolve(context.Background(), conversion(), user)
	require.NoError(t, err)
	require.True(t, attempt.Success)

	// Fresh click, full metadata, direct path: clamped at the ceiling.
	assert.InDelta(t, 0.99, attempt.Confidence, 1e-9)
	assert.Equal(t, "opp-1", attempt.OpportunityID)
	assert.Equal(t, "pub-1", attempt.PublisherID)
	assert.Equal(t, "m-1", attempt.MerchantID)
	assert.Equal(t, true, attempt.Evidence["direct_click_path"])
}

func TestAffiliateMinimalParamsDirectPath(t *testing.T) {
	// No click id and no campaign metadata, but a two-step direct path:
	// lands exactly on the tier threshold.
	r := newAffiliate(7 * 24 * time.Hour)
	user := model.UserContext{
		UserID:         "u-1",
		TrackingParams: signedParams(time.Hour, nil),
		Navigation: []model.NavigationStep{
			{URL: "https://shop.example/landing", VisitedAt: resolveAt.Add(-time.Hour)},
			{URL: "https://shop.example/product", VisitedAt: resolveAt.Add(-30 * time.Minute)},
			{URL: "https://shop.example/checkout", VisitedAt: resolveAt.Add(-5 * time.Minute)},
		},
	}

	attempt, err := r.Resolve(context.Background(), conversion(), user)
	require.NoError(t, err)
	require.True(t, attempt.Success)
	assert.InDelta(t, 0.95, attempt.Confidence, 1e-9)
}

func TestAffiliateParamsFromReferrerURL(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)
	params := signedParams(time.Hour, nil)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("utm_source", "newsletter") // outside the reserved namespace
	user := model.UserContext{
		UserID:      "u-1",
		ReferrerURL: "https://pub.example/deals?" + q.Encode(),
	}

	attempt, err := r.Resolve(context.Background(), conversion(), user)
	require.NoError(t, err)
	assert.True(t, attempt.Success)
	assert.Equal(t, "opp-1", attempt.OpportunityID)
}

func TestAffiliateNoParams(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)

	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{UserID: "u-1"})
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, "no tracking parameters present", attempt.FailureReason)
}

func TestAffiliateTamperedSignature(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)
	params := signedParams(time.Hour, nil)
	params[signing.ParamPublisher] = "pub-hijacked"

	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{
		UserID:         "u-1",
		TrackingParams: params,
	})
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, "tracking parameter signature invalid", attempt.FailureReason)
}

func TestAffiliateWindowBoundary(t *testing.T) {
	window := 7 * 24 * time.Hour
	r := newAffiliate(window)

	// A click exactly at the window boundary is still attributable.
	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{
		UserID:         "u-1",
		TrackingParams: signedParams(window, nil),
	})
	require.NoError(t, err)
	assert.True(t, attempt.Success)

	// One second past the boundary is not.
	attempt, err = r.Resolve(context.Background(), conversion(), model.UserContext{
		UserID:         "u-1",
		TrackingParams: signedParams(window+time.Second, nil),
	})
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, "click outside attribution window", attempt.FailureReason)
}

func TestAffiliateStaleClickPenalty(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)
	user := model.UserContext{
		UserID: "u-1",
		TrackingParams: signedParams(48*time.Hour, map[string]string{
			signing.ParamClickID:  "click-1",
			signing.ParamCampaign: "spring-sale",
		}),
	}

	attempt, err := r.Resolve(context.Background(), conversion(), user)
	require.NoError(t, err)
	require.True(t, attempt.Success)

	// 0.98 minus the stale-click penalty, no navigation adjustment.
	assert.InDelta(t, 0.93, attempt.Confidence, 1e-9)
	assert.Equal(t, true, attempt.Evidence["stale_click"])
}

func TestAffiliateIndirectNavigationPenalty(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)
	nav := make([]model.NavigationStep, 8)
	for i := range nav {
		nav[i] = model.NavigationStep{
			URL:       fmt.Sprintf("https://shop.example/p/%d", i),
			VisitedAt: resolveAt.Add(-time.Duration(8-i) * time.Minute),
		}
	}
	user := model.UserContext{
		UserID: "u-1",
		TrackingParams: signedParams(time.Hour, map[string]string{
			signing.ParamClickID:  "click-1",
			signing.ParamCampaign: "spring-sale",
		}),
		Navigation: nav,
	}

	attempt, err := r.Resolve(context.Background(), conversion(), user)
	require.NoError(t, err)
	require.True(t, attempt.Success)
	assert.InDelta(t, 0.91, attempt.Confidence, 1e-9)
	assert.Equal(t, true, attempt.Evidence["indirect_navigation"])
}

func TestAffiliateFutureClickRejected(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)

	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{
		UserID:         "u-1",
		TrackingParams: signedParams(-time.Hour, nil),
	})
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, "click timestamp in the future", attempt.FailureReason)
}

func TestAffiliateMalformedTimestamp(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)
	params := map[string]string{
		signing.ParamOpportunity: "opp-1",
		signing.ParamTimestamp:   "not-a-time",
	}
	params[signing.SignatureKey] = signer.SignParams(params)

	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{
		UserID:         "u-1",
		TrackingParams: params,
	})
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, "click timestamp missing or malformed", attempt.FailureReason)
}

func TestAffiliateRFC3339Timestamp(t *testing.T) {
	r := newAffiliate(7 * 24 * time.Hour)
	params := map[string]string{
		signing.ParamOpportunity: "opp-1",
		signing.ParamPublisher:   "pub-1",
		signing.ParamTimestamp:   resolveAt.Add(-time.Hour).Format(time.RFC3339),
	}
	params[signing.SignatureKey] = signer.SignParams(params)

	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{
		UserID:         "u-1",
		TrackingParams: params,
	})
	require.NoError(t, err)
	assert.True(t, attempt.Success)
}
