// Package postback implements the merchant-facing postback ingestion
// endpoint: validate, sign-check, and cache inbound conversion assertions.
package postback

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/monitoring"
	"github.com/linkwise/attribution-engine/internal/signing"
	"github.com/linkwise/attribution-engine/internal/store"
)

// DefaultTTL is how long an ingested postback stays consumable.
const DefaultTTL = 7 * 24 * time.Hour

// Rejection errors surfaced to the merchant. These are the only genuine
// failures this subsystem returns to a caller.
var (
	ErrInvalidSignature = eris.New("postback: signature verification failed")
	ErrMissingFields    = eris.New("postback: required identifiers missing")
)

// Request is the inbound postback payload. The signature arrives detached
// in a header and covers the canonical JSON of the identifier fields.
type Request struct {
	UserID           string  `json:"user_id"`
	OpportunityID    string  `json:"opportunity_id"`
	PublisherID      string  `json:"publisher_id"`
	MerchantID       string  `json:"merchant_id"`
	ExpectedValueUSD float64 `json:"expected_value_usd"`
}

// Ack is returned to the merchant on successful ingestion.
type Ack struct {
	PostbackID  string    `json:"postback_id"`
	CachedUntil time.Time `json:"cached_until"`
}

// Service validates and caches inbound postbacks.
type Service struct {
	store   store.Store
	signer  *signing.Signer
	ttl     time.Duration
	metrics *monitoring.IngestMetrics
	now     func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithTTL overrides the record lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *monitoring.IngestMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNow sets a fixed clock for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a postback ingestion service.
func NewService(st store.Store, signer *signing.Signer, opts ...Option) *Service {
	s := &Service{
		store:  st,
		signer: signer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates the request and stores a PostbackRecord keyed by user
// id. On any rejection no state is written.
func (s *Service) Ingest(ctx context.Context, req Request, signature string) (*Ack, error) {
	if missing := missingFields(req); len(missing) > 0 {
		s.observe("rejected_fields")
		return nil, eris.Wrapf(ErrMissingFields, "missing: %s", strings.Join(missing, ", "))
	}

	payload := map[string]any{
		"user_id":            req.UserID,
		"opportunity_id":     req.OpportunityID,
		"publisher_id":       req.PublisherID,
		"merchant_id":        req.MerchantID,
		"expected_value_usd": req.ExpectedValueUSD,
	}
	if !s.signer.VerifyJSON(payload, signature) {
		s.observe("rejected_signature")
		return nil, ErrInvalidSignature
	}

	now := s.now()
	rec := model.PostbackRecord{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		OpportunityID: req.OpportunityID,
		PublisherID:   req.PublisherID,
		MerchantID:    req.MerchantID,
		ExpectedValue: req.ExpectedValueUSD,
		Signature:     signature,
		ReceivedAt:    now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.store.SavePostback(ctx, rec); err != nil {
		s.observe("store_error")
		return nil, eris.Wrap(err, "postback: save record")
	}

	s.observe("stored")
	zap.L().Info("postback cached",
		zap.String("postback_id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.String("merchant_id", rec.MerchantID),
		zap.Time("expires_at", rec.ExpiresAt),
	)
	return &Ack{PostbackID: rec.ID, CachedUntil: rec.ExpiresAt}, nil
}

// SweepExpired removes postbacks past their TTL.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpiredPostbacks(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postback: sweep expired")
	}
	if n > 0 {
		if s.metrics != nil {
			s.metrics.ExpiredSwept.Add(float64(n))
		}
		zap.L().Info("postback sweep", zap.Int("removed", n))
	}
	return n, nil
}

// RunSweeper sweeps on the given interval until the context is canceled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				zap.L().Warn("postback sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.PostbacksTotal.WithLabelValues(outcome).Inc()
	}
}

func missingFields(req Request) []string {
	var missing []string
	if req.UserID == "" {
		missing = append(missing, "user_id")
	}
	if req.OpportunityID == "" {
		missing = append(missing, "opportunity_id")
	}
	if req.PublisherID == "" {
		missing = append(missing, "publisher_id")
	}
	if req.MerchantID == "" {
		missing = append(missing, "merchant_id")
	}
	return missing
}
