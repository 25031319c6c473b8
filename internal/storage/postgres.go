package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/weather-forecast/internal/models"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS unit_table (
	id   BIGSERIAL PRIMARY KEY,
	unit TEXT NOT NULL
);`

// PostgresStore implements UnitStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL, verifies the connection and applies the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 4
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.UnitPreference, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, unit FROM unit_table ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.UnitPreference, 0)
	for rows.Next() {
		var p models.UnitPreference
		if err := rows.Scan(&p.ID, &p.Unit); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertPostgres(ctx context.Context, q pgQuerier, p models.UnitPreference) (models.UnitPreference, error) {
	var row pgx.Row
	if p.ID == 0 {
		row = q.QueryRow(ctx, `INSERT INTO unit_table (unit) VALUES ($1) RETURNING id`, p.Unit)
	} else {
		row = q.QueryRow(ctx, `
			INSERT INTO unit_table (id, unit) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET unit = EXCLUDED.unit
			RETURNING id`, p.ID, p.Unit)
	}
	if err := row.Scan(&p.ID); err != nil {
		return models.UnitPreference{}, err
	}
	return p, nil
}

func (s *PostgresStore) Insert(ctx context.Context, p models.UnitPreference) (models.UnitPreference, error) {
	if err := p.Validate(); err != nil {
		return models.UnitPreference{}, err
	}
	return insertPostgres(ctx, s.pool, p)
}

func (s *PostgresStore) Update(ctx context.Context, p models.UnitPreference) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE unit_table SET unit = $1 WHERE id = $2`, p.Unit, p.ID)
	return requireTag(tag, err)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM unit_table WHERE id = $1`, id)
	return requireTag(tag, err)
}

func requireTag(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM unit_table`)
	return err
}

func (s *PostgresStore) Replace(ctx context.Context, unit string) (models.UnitPreference, error) {
	p := models.UnitPreference{Unit: unit}
	if err := p.Validate(); err != nil {
		return models.UnitPreference{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.UnitPreference{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM unit_table`); err != nil {
		return models.UnitPreference{}, err
	}
	if p, err = insertPostgres(ctx, tx, p); err != nil {
		return models.UnitPreference{}, err
	}
	return p, tx.Commit(ctx)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
