package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/linkwise/attribution-engine/internal/ladder"
	"github.com/linkwise/attribution-engine/internal/ladder/resolver"
	"github.com/linkwise/attribution-engine/internal/matcher"
	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/monitoring"
	"github.com/linkwise/attribution-engine/internal/postback"
	"github.com/linkwise/attribution-engine/internal/signing"
	"github.com/linkwise/attribution-engine/internal/store"
	"github.com/linkwise/attribution-engine/pkg/receiptsearch"
	"github.com/linkwise/attribution-engine/pkg/s2s"
)

// env bundles the wired subsystems a command needs.
type env struct {
	Store   store.Store
	Ladder  *ladder.Ladder
	Ingest  *postback.Service
	closeFn func() error
}

func (e *env) Close() {
	if e.closeFn != nil {
		_ = e.closeFn()
	}
}

// initEnv builds the store, signer, resolvers, ladder, and ingestion
// service from configuration.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	policy := ladder.DefaultPolicy()
	if cfg.Ladder.PolicyPath != "" {
		policy, err = ladder.LoadPolicy(cfg.Ladder.PolicyPath)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	signer := signing.New(cfg.Signing.Secret)

	var s2sClient s2s.Client
	if cfg.S2S.BaseURL != "" {
		s2sClient = s2s.NewClient(cfg.S2S.BaseURL,
			s2s.WithTimeout(time.Duration(cfg.S2S.TimeoutSecs)*time.Second))
	}
	var receiptClient receiptsearch.Client
	if cfg.ReceiptSearch.BaseURL != "" {
		receiptClient = receiptsearch.NewClient(cfg.ReceiptSearch.BaseURL,
			receiptsearch.WithTimeout(time.Duration(cfg.ReceiptSearch.TimeoutSecs)*time.Second))
	}

	resolvers := []ladder.Resolver{
		resolver.NewAffiliate(signer, policy.Tier(model.MethodAffiliateLink).Window),
		resolver.NewS2S(st, signer, s2sClient),
		resolver.NewReceipt(st, matcher.NewReceiptMatcher(matcher.DefaultReceiptConfig()),
			receiptClient, policy.Tier(model.MethodReceiptMatching).Window),
		resolver.NewBehavioral(st, matcher.NewBehaviorAnalyzer(matcher.DefaultBehaviorConfig()),
			policy.Tier(model.MethodBehavioral).Window),
		resolver.NewLastTouch(st, policy.Tier(model.MethodLastTouch).Window),
		resolver.NewFallback(st, policy.Tier(model.MethodDefaultFallback).Threshold),
	}

	l := ladder.New(policy, resolvers,
		ladder.WithMetrics(monitoring.NewLadderMetrics(prometheus.DefaultRegisterer)))

	ingest := postback.NewService(st, signer,
		postback.WithTTL(cfg.Ladder.PostbackTTL()),
		postback.WithMetrics(monitoring.NewIngestMetrics(prometheus.DefaultRegisterer)))

	return &env{Store: st, Ladder: l, Ingest: ingest, closeFn: st.Close}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
