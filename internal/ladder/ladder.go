// Package ladder implements the attribution fallback ladder: an ordered
// cascade of tier resolvers evaluated in trust-priority order, accepting the
// first attempt that clears its tier's confidence threshold.
package ladder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/monitoring"
)

// Resolver evaluates one attribution tier against a conversion event.
//
// A nil error with attempt.Success=false means the tier is not applicable
// (missing preconditions, invalid signature, candidate below floor). A
// non-nil error means a transient failure (network, store); the orchestrator
// treats it the same as inapplicable and records the cause.
type Resolver interface {
	Method() model.Method
	Resolve(ctx context.Context, event model.ConversionEvent, user model.UserContext) (model.Attempt, error)
}

// Ladder sequences tier resolvers and always produces a result.
type Ladder struct {
	policy    Policy
	resolvers []Resolver
	metrics   *monitoring.LadderMetrics
	now       func() time.Time
}

// Option configures a Ladder.
type Option func(*Ladder)

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *monitoring.LadderMetrics) Option {
	return func(l *Ladder) { l.metrics = m }
}

// WithNow sets a fixed clock for testing.
func WithNow(now func() time.Time) Option {
	return func(l *Ladder) { l.now = now }
}

// New creates a Ladder. Resolvers must be given in trust-priority order,
// with the default fallback last.
func New(policy Policy, resolvers []Resolver, opts ...Option) *Ladder {
	l := &Ladder{
		policy:    policy,
		resolvers: resolvers,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attribute runs the ladder for one conversion event. It is total: it never
// returns an error and always returns a populated result with a non-empty
// audit trail. A caller deadline that elapses mid-ladder short-circuits the
// remaining evidentiary tiers straight to the default fallback.
func (l *Ladder) Attribute(ctx context.Context, event model.ConversionEvent, user model.UserContext) model.Result {
	start := l.now()
	var attempts []model.Attempt

	for _, r := range l.resolvers {
		method := r.Method()

		// Deadline elapsed mid-ladder: skip everything except the terminal
		// fallback so the totality contract still holds.
		if ctx.Err() != nil && method != model.MethodDefaultFallback {
			attempts = append(attempts, model.Attempt{
				Method:        method,
				Success:       false,
				FailureReason: "deadline elapsed before tier evaluation",
			})
			l.observeAttempt(method, "deadline")
			continue
		}

		attempt, err := r.Resolve(ctx, event, user)
		attempt.Method = method
		if err != nil {
			attempt.Success = false
			attempt.FailureReason = eris.ToString(err, false)
			attempts = append(attempts, attempt)
			l.observeAttempt(method, "error")
			zap.L().Warn("ladder: tier failed",
				zap.String("order_id", event.OrderID),
				zap.String("method", string(method)),
				zap.Error(err),
			)
			continue
		}

		if !attempt.Success {
			attempts = append(attempts, attempt)
			l.observeAttempt(method, "inapplicable")
			continue
		}

		threshold := l.policy.Tier(method).Threshold
		if attempt.Confidence < threshold {
			attempt.Success = false
			attempt.FailureReason = "confidence below tier threshold"
			attempts = append(attempts, attempt)
			l.observeAttempt(method, "below_threshold")
			continue
		}

		attempts = append(attempts, attempt)
		l.observeAttempt(method, "accepted")
		return l.finish(event, attempt, attempts, start)
	}

	// Reachable only when no default fallback resolver is configured.
	// Synthesize the terminal attempt so the contract holds regardless.
	fallback := model.Attempt{
		Method:        model.MethodDefaultFallback,
		Confidence:    l.policy.Tier(model.MethodDefaultFallback).Threshold,
		OpportunityID: model.UnknownID,
		PublisherID:   model.UnknownID,
		MerchantID:    event.MerchantID,
		Success:       true,
	}
	attempts = append(attempts, fallback)
	l.observeAttempt(model.MethodDefaultFallback, "accepted")
	return l.finish(event, fallback, attempts, start)
}

func (l *Ladder) finish(event model.ConversionEvent, winner model.Attempt, attempts []model.Attempt, start time.Time) model.Result {
	now := l.now()
	result := model.Result{
		ID:            uuid.New().String(),
		Method:        winner.Method,
		Confidence:    winner.Confidence,
		OpportunityID: winner.OpportunityID,
		PublisherID:   winner.PublisherID,
		MerchantID:    winner.MerchantID,
		OrderID:       event.OrderID,
		ValueUSD:      event.ValueUSD,
		Attempts:      attempts,
		CreatedAt:     now,
		ExpiresAt:     now.Add(l.policy.ResultTTL),
	}

	if l.metrics != nil {
		l.metrics.WinsTotal.WithLabelValues(string(winner.Method)).Inc()
		l.metrics.LadderSeconds.Observe(now.Sub(start).Seconds())
	}

	zap.L().Info("ladder: attribution resolved",
		zap.String("order_id", event.OrderID),
		zap.String("method", string(winner.Method)),
		zap.Float64("confidence", winner.Confidence),
		zap.String("opportunity_id", winner.OpportunityID),
		zap.Int("attempts", len(attempts)),
	)
	return result
}

func (l *Ladder) observeAttempt(method model.Method, outcome string) {
	if l.metrics != nil {
		l.metrics.AttemptsTotal.WithLabelValues(string(method), outcome).Inc()
	}
}
