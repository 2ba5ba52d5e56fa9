package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/linkwise/attribution-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS postbacks (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL UNIQUE,
	opp_id      TEXT NOT NULL,
	pub_id      TEXT NOT NULL,
	merchant_id TEXT NOT NULL,
	value_usd   DOUBLE PRECISION NOT NULL,
	signature   TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS opportunity_history (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL,
	opp_id      TEXT NOT NULL,
	pub_id      TEXT NOT NULL,
	merchant_id TEXT NOT NULL,
	product     TEXT NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	interaction TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_postbacks_expires_at ON postbacks(expires_at);
CREATE INDEX IF NOT EXISTS idx_history_user_ts ON opportunity_history(user_id, ts DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SavePostback(ctx context.Context, rec model.PostbackRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO postbacks (id, user_id, opp_id, pub_id, merchant_id, value_usd, signature, received_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id) DO UPDATE SET
			id = EXCLUDED.id, opp_id = EXCLUDED.opp_id, pub_id = EXCLUDED.pub_id,
			merchant_id = EXCLUDED.merchant_id, value_usd = EXCLUDED.value_usd,
			signature = EXCLUDED.signature, received_at = EXCLUDED.received_at,
			expires_at = EXCLUDED.expires_at`,
		rec.ID, rec.UserID, rec.OpportunityID, rec.PublisherID, rec.MerchantID,
		rec.ExpectedValue, rec.Signature, rec.ReceivedAt.UTC(), rec.ExpiresAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save postback")
}

func (s *PostgresStore) GetPostback(ctx context.Context, userID string) (*model.PostbackRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, opp_id, pub_id, merchant_id, value_usd, signature, received_at, expires_at
		 FROM postbacks WHERE user_id = $1 AND expires_at >= now()`,
		userID,
	)
	var rec model.PostbackRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.OpportunityID, &rec.PublisherID,
		&rec.MerchantID, &rec.ExpectedValue, &rec.Signature, &rec.ReceivedAt, &rec.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get postback")
	}
	return &rec, nil
}

func (s *PostgresStore) DeleteExpiredPostbacks(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM postbacks WHERE expires_at < now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired postbacks")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecordOpportunity(ctx context.Context, userID string, rec model.OpportunityRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO opportunity_history (user_id, opp_id, pub_id, merchant_id, product, price, ts, interaction)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		userID, rec.OpportunityID, rec.PublisherID, rec.MerchantID,
		rec.Product, rec.Price, rec.Timestamp.UTC(), string(rec.InteractionType),
	)
	return eris.Wrap(err, "postgres: record opportunity")
}

func (s *PostgresStore) RecentOpportunities(ctx context.Context, userID string, since time.Time, limit int) ([]model.OpportunityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT opp_id, pub_id, merchant_id, product, price, ts, interaction
		 FROM opportunity_history WHERE user_id = $1 AND ts >= $2
		 ORDER BY ts DESC LIMIT $3`,
		userID, since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent opportunities")
	}
	defer rows.Close()

	var out []model.OpportunityRecord
	for rows.Next() {
		var rec model.OpportunityRecord
		var interaction string
		if err := rows.Scan(&rec.OpportunityID, &rec.PublisherID, &rec.MerchantID,
			&rec.Product, &rec.Price, &rec.Timestamp, &interaction); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		rec.InteractionType = model.InteractionType(interaction)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate opportunities")
}

func (s *PostgresStore) TopPublisherMerchant(ctx context.Context, userID string) (string, string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT pub_id, merchant_id FROM opportunity_history
		 WHERE user_id = $1 AND pub_id <> '' AND merchant_id <> ''
		 GROUP BY pub_id, merchant_id
		 ORDER BY COUNT(*) DESC, pub_id ASC LIMIT 1`,
		userID,
	)
	var pub, merchant string
	err := row.Scan(&pub, &merchant)
	if err == pgx.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", eris.Wrap(err, "postgres: top publisher/merchant")
	}
	return pub, merchant, nil
}
