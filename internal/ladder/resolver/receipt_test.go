package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkwise/attribution-engine/internal/ladder"
	"github.com/linkwise/attribution-engine/internal/matcher"
	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/store"
	"github.com/linkwise/attribution-engine/pkg/receiptsearch"
)

type mockReceiptClient struct {
	receipts []model.Receipt
	err      error
	calls    int
}

func (m *mockReceiptClient) Search(ctx context.Context, q receiptsearch.Query) ([]model.Receipt, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.receipts, nil
}

func newReceiptResolver(st store.Store, receipts receiptsearch.Client) *Receipt {
	m := matcher.NewReceiptMatcher(matcher.DefaultReceiptConfig())
	return NewReceipt(st, m, receipts, 72*time.Hour).WithNow(func() time.Time { return resolveAt })
}

func recordHistory(t *testing.T, st store.Store, recs ...model.OpportunityRecord) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, st.RecordOpportunity(context.Background(), "u-1", rec))
	}
}

func TestReceiptNoUserID(t *testing.T) {
	r := newReceiptResolver(store.NewMemory(), nil)
	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{})
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, "no user identifier", attempt.FailureReason)
}

func TestReceiptNoHistory(t *testing.T) {
	r := newReceiptResolver(store.NewMemory(), nil)
	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{UserID: "u-1"})
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, "no recent opportunities for user", attempt.FailureReason)
}

func TestReceiptStrongMatch(t *testing.T) {
	st := store.NewMemory()
	recordHistory(t, st, model.OpportunityRecord{
		OpportunityID:   "opp-1",
		PublisherID:     "pub-1",
		MerchantID:      "m-1",
		Product:         "Espresso Machine Deluxe",
		Price:           249.99,
		Timestamp:       resolveAt.Add(-2 * time.Hour),
		InteractionType: model.InteractionView,
	})

	event := conversion()
	event.Items = []string{"Espresso Machine Deluxe"}

	r := newReceiptResolver(st, nil)
	attempt, err := r.Resolve(context.Background(), event, model.UserContext{UserID: "u-1"})
	require.NoError(t, err)
	require.True(t, attempt.Success)

	assert.Equal(t, "opp-1", attempt.OpportunityID)
	assert.Equal(t, "pub-1", attempt.PublisherID)
	assert.GreaterOrEqual(t, attempt.Confidence, 0.6*0.85)
	assert.LessOrEqual(t, attempt.Confidence, 0.85)
}

func TestReceiptBelowFloor(t *testing.T) {
	st := store.NewMemory()
	recordHistory(t, st, model.OpportunityRecord{
		OpportunityID:   "opp-1",
		PublisherID:     "pub-1",
		MerchantID:      "m-other",
		Product:         "Garden Hose",
		Price:           19.99,
		Timestamp:       resolveAt.Add(-60 * time.Hour),
		InteractionType: model.InteractionView,
	})

	event := conversion()
	event.Items = []string{"Espresso Machine Deluxe"}

	r := newReceiptResolver(st, nil)
	attempt, err := r.Resolve(context.Background(), event, model.UserContext{UserID: "u-1"})
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, "no candidate cleared the match floor", attempt.FailureReason)
}

func TestReceiptSearchEnrichesItems(t *testing.T) {
	st := store.NewMemory()
	recordHistory(t, st, model.OpportunityRecord{
		OpportunityID:   "opp-1",
		PublisherID:     "pub-1",
		MerchantID:      "m-1",
		Product:         "Espresso Machine Deluxe",
		Price:           249.99,
		Timestamp:       resolveAt.Add(-2 * time.Hour),
		InteractionType: model.InteractionView,
	})

	// The event itself names no items; only the receipt email does.
	client := &mockReceiptClient{receipts: []model.Receipt{{
		Subject:   "Your order: Espresso Machine Deluxe",
		Body:      "Thanks for your purchase",
		Timestamp: resolveAt.Add(-10 * time.Minute),
		Sender:    "orders@merchant.example",
	}}}

	r := newReceiptResolver(st, client)
	attempt, err := r.Resolve(context.Background(), conversion(), model.UserContext{UserID: "u-1"})
	require.NoError(t, err)
	require.True(t, attempt.Success)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, "opp-1", attempt.OpportunityID)
}

// A purchase with no referrer, no postback, and no item text, but one
// same-merchant opportunity at a near price within the hour, must win the
// receipt tier under the default policy rather than falling through.
func TestReceiptWinsLadderOnPriceTimeMerchantAlone(t *testing.T) {
	st := store.NewMemory().WithNow(func() time.Time { return resolveAt })
	recordHistory(t, st, model.OpportunityRecord{
		OpportunityID:   "opp-1",
		PublisherID:     "pub-1",
		MerchantID:      "m-1",
		Product:         "Espresso Machine Deluxe",
		Price:           98.00,
		Timestamp:       resolveAt.Add(-30 * time.Minute),
		InteractionType: model.InteractionView,
	})

	event := model.ConversionEvent{
		OrderID:    "order-1",
		Value:      100.00,
		Currency:   "USD",
		ValueUSD:   100.00,
		MerchantID: "m-1",
		OccurredAt: resolveAt,
	}

	l := ladder.New(ladder.DefaultPolicy(), []ladder.Resolver{
		newReceiptResolver(st, nil),
		NewFallback(st, 0.20),
	}, ladder.WithNow(func() time.Time { return resolveAt }))

	result := l.Attribute(context.Background(), event, model.UserContext{UserID: "u-1"})

	assert.Equal(t, model.MethodReceiptMatching, result.Method)
	assert.Equal(t, "opp-1", result.OpportunityID)
	assert.GreaterOrEqual(t, result.Confidence, 0.60)
	assert.LessOrEqual(t, result.Confidence, 0.85)
}

func TestReceiptSearchFailureDegradesGracefully(t *testing.T) {
	st := store.NewMemory()
	recordHistory(t, st, model.OpportunityRecord{
		OpportunityID:   "opp-1",
		PublisherID:     "pub-1",
		MerchantID:      "m-1",
		Product:         "Espresso Machine Deluxe",
		Price:           249.99,
		Timestamp:       resolveAt.Add(-2 * time.Hour),
		InteractionType: model.InteractionView,
	})

	event := conversion()
	event.Items = []string{"Espresso Machine Deluxe"}

	client := &mockReceiptClient{err: eris.New("search backend down")}
	r := newReceiptResolver(st, client)

	attempt, err := r.Resolve(context.Background(), event, model.UserContext{UserID: "u-1"})
	require.NoError(t, err)
	assert.True(t, attempt.Success, "enrichment failure must not fail the tier")
}
