package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps every document as one jsonb row keyed by document key.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wife_documents (
			key        text PRIMARY KEY,
			body       jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create wife_documents: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, key string) Result {
	if key == "" {
		return Result{Status: StatusCorrupt, Err: ErrInvalidKey}
	}
	var body string
	err := p.db.QueryRow(ctx, `
		SELECT body::text
		FROM wife_documents
		WHERE key = $1
	`, key).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{Status: StatusNotFound}
		}
		return Result{Status: StatusCorrupt, Err: err}
	}
	return Result{Status: StatusFound, Data: []byte(body)}
}

func (p *Postgres) Save(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO wife_documents (key, body, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key) DO UPDATE
		SET body = EXCLUDED.body, updated_at = now()
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
