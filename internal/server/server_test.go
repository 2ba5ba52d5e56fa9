package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkwise/attribution-engine/internal/ladder"
	"github.com/linkwise/attribution-engine/internal/ladder/resolver"
	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/postback"
	"github.com/linkwise/attribution-engine/internal/signing"
	"github.com/linkwise/attribution-engine/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var signer = signing.New("test-secret")

func newTestHandler(rps float64) (http.Handler, store.Store) {
	st := store.NewMemory()
	policy := ladder.DefaultPolicy()
	l := ladder.New(policy, []ladder.Resolver{
		resolver.NewAffiliate(signer, policy.Tier(model.MethodAffiliateLink).Window),
		resolver.NewS2S(st, signer, nil),
		resolver.NewFallback(st, policy.Tier(model.MethodDefaultFallback).Threshold),
	})
	ingest := postback.NewService(st, signer)
	return New(l, ingest, rps), st
}

func postJSON(t *testing.T, h http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func signedPostbackBody(t *testing.T) (postback.Request, string) {
	t.Helper()
	req := postback.Request{
		UserID:           "u-1",
		OpportunityID:    "opp-1",
		PublisherID:      "pub-1",
		MerchantID:       "m-1",
		ExpectedValueUSD: 99.99,
	}
	sig, err := signer.SignJSON(map[string]any{
		"user_id":            req.UserID,
		"opportunity_id":     req.OpportunityID,
		"publisher_id":       req.PublisherID,
		"merchant_id":        req.MerchantID,
		"expected_value_usd": req.ExpectedValueUSD,
	})
	require.NoError(t, err)
	return req, sig
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(0)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(0)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPostbackSuccess(t *testing.T) {
	h, st := newTestHandler(0)
	body, sig := signedPostbackBody(t)

	rr := postJSON(t, h, "/postback", body, map[string]string{SignatureHeader: sig})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status      string    `json:"status"`
		PostbackID  string    `json:"postback_id"`
		CachedUntil time.Time `json:"cached_until"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.PostbackID)
	assert.True(t, resp.CachedUntil.After(time.Now()))

	rec, err := st.GetPostback(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "opp-1", rec.OpportunityID)
}

func TestPostbackBadSignature(t *testing.T) {
	h, _ := newTestHandler(0)
	body, _ := signedPostbackBody(t)

	rr := postJSON(t, h, "/postback", body, map[string]string{SignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "signature verification failed")
}

func TestPostbackMissingFields(t *testing.T) {
	h, _ := newTestHandler(0)
	body, sig := signedPostbackBody(t)
	body.OpportunityID = ""

	rr := postJSON(t, h, "/postback", body, map[string]string{SignatureHeader: sig})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "opportunity_id")
}

func TestPostbackMalformedBody(t *testing.T) {
	h, _ := newTestHandler(0)
	req := httptest.NewRequest(http.MethodPost, "/postback", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPostbackRateLimit(t *testing.T) {
	h, _ := newTestHandler(1)
	body, sig := signedPostbackBody(t)

	limited := false
	for i := 0; i < 10; i++ {
		rr := postJSON(t, h, "/postback", body, map[string]string{SignatureHeader: sig})
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst traffic should hit the limiter")
}

func TestAttributeFallsBackWithoutEvidence(t *testing.T) {
	h, _ := newTestHandler(0)

	rr := postJSON(t, h, "/attribute", AttributeRequest{
		Event: model.ConversionEvent{
			OrderID:    "order-1001",
			Value:      249.99,
			Currency:   "USD",
			ValueUSD:   249.99,
			MerchantID: "m-1",
			OccurredAt: time.Now(),
		},
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var result model.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, model.MethodDefaultFallback, result.Method)
	assert.Equal(t, "order-1001", result.OrderID)
	assert.NotEmpty(t, result.Attempts)
}

func TestAttributeUsesCachedPostback(t *testing.T) {
	h, _ := newTestHandler(0)

	body, sig := signedPostbackBody(t)
	rr := postJSON(t, h, "/postback", body, map[string]string{SignatureHeader: sig})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = postJSON(t, h, "/attribute", AttributeRequest{
		Event: model.ConversionEvent{
			OrderID:    "order-1001",
			Value:      99.99,
			Currency:   "USD",
			ValueUSD:   99.99,
			MerchantID: "m-1",
			OccurredAt: time.Now(),
		},
		Context: model.UserContext{UserID: "u-1"},
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var result model.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, model.MethodS2SPostback, result.Method)
	assert.Equal(t, "opp-1", result.OpportunityID)
	assert.GreaterOrEqual(t, result.Confidence, 0.85)
}

func TestAttributeMissingOrderID(t *testing.T) {
	h, _ := newTestHandler(0)

	rr := postJSON(t, h, "/attribute", AttributeRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "order_id")
}
