package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/invigil/internal/session"
	"github.com/loykin/invigil/internal/store"
)

// DB implements store.Gateway for PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS active_session(
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			session_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Save(ctx context.Context, st *session.State) error {
	b, err := store.Encode(st)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO active_session(id, session_id, payload, updated_at)
		VALUES(1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			session_id=EXCLUDED.session_id,
			payload=EXCLUDED.payload,
			updated_at=EXCLUDED.updated_at;`,
		st.SessionID, string(b), time.Now().UTC())
	return err
}

func (p *DB) Load(ctx context.Context) (*session.State, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM active_session WHERE id = 1;`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.Decode(payload)
}

func (p *DB) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM active_session;`)
	return err
}
