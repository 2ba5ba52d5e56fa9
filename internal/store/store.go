// Package store persists postback records and per-user opportunity history
// behind a narrow interface with three backends: a sharded in-memory map,
// SQLite, and Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/linkwise/attribution-engine/internal/model"
)

// ErrNotFound is returned when a lookup matches no live record.
var ErrNotFound = eris.New("store: not found")

// Store is the persistence interface consumed by the ladder and the
// postback ingestion endpoint. Postback records are written once at
// ingestion and only read afterwards; expiry is enforced by the backend or
// by the sweep method.
type Store interface {
	// Postbacks
	SavePostback(ctx context.Context, rec model.PostbackRecord) error
	GetPostback(ctx context.Context, userID string) (*model.PostbackRecord, error)
	DeleteExpiredPostbacks(ctx context.Context) (int, error)

	// Opportunity history
	RecordOpportunity(ctx context.Context, userID string, rec model.OpportunityRecord) error
	RecentOpportunities(ctx context.Context, userID string, since time.Time, limit int) ([]model.OpportunityRecord, error)
	TopPublisherMerchant(ctx context.Context, userID string) (publisherID, merchantID string, err error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
