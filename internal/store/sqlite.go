package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/linkwise/attribution-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS postbacks (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL UNIQUE,
	opp_id      TEXT NOT NULL,
	pub_id      TEXT NOT NULL,
	merchant_id TEXT NOT NULL,
	value_usd   REAL NOT NULL,
	signature   TEXT NOT NULL,
	received_at DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS opportunity_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL,
	opp_id      TEXT NOT NULL,
	pub_id      TEXT NOT NULL,
	merchant_id TEXT NOT NULL,
	product     TEXT NOT NULL,
	price       REAL NOT NULL,
	ts          DATETIME NOT NULL,
	interaction TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_postbacks_expires_at ON postbacks(expires_at);
CREATE INDEX IF NOT EXISTS idx_history_user_ts ON opportunity_history(user_id, ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SavePostback(ctx context.Context, rec model.PostbackRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO postbacks (id, user_id, opp_id, pub_id, merchant_id, value_usd, signature, received_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			id = excluded.id, opp_id = excluded.opp_id, pub_id = excluded.pub_id,
			merchant_id = excluded.merchant_id, value_usd = excluded.value_usd,
			signature = excluded.signature, received_at = excluded.received_at,
			expires_at = excluded.expires_at`,
		rec.ID, rec.UserID, rec.OpportunityID, rec.PublisherID, rec.MerchantID,
		rec.ExpectedValue, rec.Signature, rec.ReceivedAt.UTC(), rec.ExpiresAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save postback")
}

func (s *SQLiteStore) GetPostback(ctx context.Context, userID string) (*model.PostbackRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, opp_id, pub_id, merchant_id, value_usd, signature, received_at, expires_at
		 FROM postbacks WHERE user_id = ? AND expires_at >= datetime('now')`,
		userID,
	)
	var rec model.PostbackRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.OpportunityID, &rec.PublisherID,
		&rec.MerchantID, &rec.ExpectedValue, &rec.Signature, &rec.ReceivedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get postback")
	}
	return &rec, nil
}

func (s *SQLiteStore) DeleteExpiredPostbacks(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM postbacks WHERE expires_at < datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired postbacks")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) RecordOpportunity(ctx context.Context, userID string, rec model.OpportunityRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO opportunity_history (user_id, opp_id, pub_id, merchant_id, product, price, ts, interaction)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, rec.OpportunityID, rec.PublisherID, rec.MerchantID,
		rec.Product, rec.Price, rec.Timestamp.UTC(), string(rec.InteractionType),
	)
	return eris.Wrap(err, "sqlite: record opportunity")
}

func (s *SQLiteStore) RecentOpportunities(ctx context.Context, userID string, since time.Time, limit int) ([]model.OpportunityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT opp_id, pub_id, merchant_id, product, price, ts, interaction
		 FROM opportunity_history WHERE user_id = ? AND ts >= ?
		 ORDER BY ts DESC LIMIT ?`,
		userID, since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent opportunities")
	}
	defer rows.Close()

	var out []model.OpportunityRecord
	for rows.Next() {
		var rec model.OpportunityRecord
		var interaction string
		if err := rows.Scan(&rec.OpportunityID, &rec.PublisherID, &rec.MerchantID,
			&rec.Product, &rec.Price, &rec.Timestamp, &interaction); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		rec.InteractionType = model.InteractionType(interaction)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate opportunities")
}

func (s *SQLiteStore) TopPublisherMerchant(ctx context.Context, userID string) (string, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT pub_id, merchant_id FROM opportunity_history
		 WHERE user_id = ? AND pub_id != '' AND merchant_id != ''
		 GROUP BY pub_id, merchant_id
		 ORDER BY COUNT(*) DESC, pub_id ASC LIMIT 1`,
		userID,
	)
	var pub, merchant string
	err := row.Scan(&pub, &merchant)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: top publisher/merchant")
	}
	return pub, merchant, nil
}
