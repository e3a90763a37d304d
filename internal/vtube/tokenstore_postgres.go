package vtube

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTokenStore keeps one token row per plugin identity.
type PostgresTokenStore struct {
	pool      *pgxpool.Pool
	name      string
	developer string
}

func NewPostgresTokenStore(ctx context.Context, databaseURL string, identity Identity) (*PostgresTokenStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS vts_auth_tokens (
		plugin_name TEXT NOT NULL,
		plugin_developer TEXT NOT NULL,
		token TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (plugin_name, plugin_developer)
	);`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init token schema: %w", err)
	}
	return &PostgresTokenStore{pool: pool, name: identity.Name, developer: identity.Developer}, nil
}

func (s *PostgresTokenStore) Load(ctx context.Context) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx,
		`SELECT token FROM vts_auth_tokens WHERE plugin_name=$1 AND plugin_developer=$2`,
		s.name, s.developer,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return token, nil
}

func (s *PostgresTokenStore) Save(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vts_auth_tokens (plugin_name, plugin_developer, token, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (plugin_name, plugin_developer) DO UPDATE SET token=EXCLUDED.token, updated_at=EXCLUDED.updated_at`,
		s.name, s.developer, token, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *PostgresTokenStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM vts_auth_tokens WHERE plugin_name=$1 AND plugin_developer=$2`,
		s.name, s.developer,
	)
	if err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

func (s *PostgresTokenStore) Close() error {
	s.pool.Close()
	return nil
}
