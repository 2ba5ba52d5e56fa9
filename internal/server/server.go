// Package server wires the HTTP surface: postback ingestion, attribution
// requests, health, and metrics.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/linkwise/attribution-engine/internal/ladder"
	"github.com/linkwise/attribution-engine/internal/model"
	"github.com/linkwise/attribution-engine/internal/postback"
)

// SignatureHeader carries the detached postback signature.
const SignatureHeader = "X-Linkwise-Signature"

// AttributeRequest is the body of POST /attribute.
type AttributeRequest struct {
	Event   model.ConversionEvent `json:"event"`
	Context model.UserContext     `json:"context"`
}

// New builds the router. postbackRPS bounds inbound postback traffic; zero
// disables rate limiting.
func New(l *ladder.Ladder, ingest *postback.Service, postbackRPS float64) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", SignatureHeader},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if postbackRPS > 0 {
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(postbackRPS), int(postbackRPS)+1)))
		}
		r.Post("/postback", handlePostback(ingest))
	})

	r.Post("/attribute", handleAttribute(l))

	return r
}

func handlePostback(ingest *postback.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req postback.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		ack, err := ingest.Ingest(r.Context(), req, r.Header.Get(SignatureHeader))
		if err != nil {
			switch {
			case eris.Is(err, postback.ErrInvalidSignature):
				writeError(w, http.StatusUnauthorized, "signature verification failed")
			case eris.Is(err, postback.ErrMissingFields):
				writeError(w, http.StatusBadRequest, eris.ToString(err, false))
			default:
				zap.L().Error("postback ingest failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "success",
			"postback_id":  ack.PostbackID,
			"cached_until": ack.CachedUntil,
		})
	}
}

func handleAttribute(l *ladder.Ladder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AttributeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Event.OrderID == "" {
			writeError(w, http.StatusBadRequest, "event.order_id is required")
			return
		}

		// Attribute is total; there is no error branch.
		result := l.Attribute(r.Context(), req.Event, req.Context)
		writeJSON(w, http.StatusOK, result)
	}
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
