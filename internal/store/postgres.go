package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBlob stores each document as one jsonb row in coinbot.documents.
type PostgresBlob struct {
	db *pgxpool.Pool
}

func NewPostgresBlob(db *pgxpool.Pool) *PostgresBlob {
	return &PostgresBlob{db: db}
}

func (p *PostgresBlob) Get(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	err := p.db.QueryRow(ctx, `
		SELECT body::text
		FROM coinbot.documents
		WHERE name = $1
	`, name).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return body, nil
}

func (p *PostgresBlob) Put(ctx context.Context, name string, body []byte) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO coinbot.documents (name, body, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`, name, string(body))
	return err
}
