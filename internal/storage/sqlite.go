package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-forecast/internal/models"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS unit_table (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	unit TEXT NOT NULL
);`

// SQLiteStore implements UnitStore on a local file using the pure Go modernc driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.UnitPreference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, unit FROM unit_table ORDER BY id`)
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

func (s *SQLiteStore) Insert(ctx context.Context, p models.UnitPreference) (models.UnitPreference, error) {
	if err := p.Validate(); err != nil {
		return models.UnitPreference{}, err
	}
	return insertSQLite(ctx, s.db, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLite(ctx context.Context, db execer, p models.UnitPreference) (models.UnitPreference, error) {
	var (
		res sql.Result
		err error
	)
	if p.ID == 0 {
		res, err = db.ExecContext(ctx, `INSERT INTO unit_table(unit) VALUES(?)`, p.Unit)
	} else {
		res, err = db.ExecContext(ctx, `INSERT OR REPLACE INTO unit_table(id, unit) VALUES(?, ?)`, p.ID, p.Unit)
	}
	if err != nil {
		return models.UnitPreference{}, err
	}
	if p.ID == 0 {
		if p.ID, err = res.LastInsertId(); err != nil {
			return models.UnitPreference{}, err
		}
	}
	return p, nil
}

func (s *SQLiteStore) Update(ctx context.Context, p models.UnitPreference) error {
	if err := p.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE unit_table SET unit = ? WHERE id = ?`, p.Unit, p.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM unit_table WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM unit_table`)
	return err
}

func (s *SQLiteStore) Replace(ctx context.Context, unit string) (models.UnitPreference, error) {
	p := models.UnitPreference{Unit: unit}
	if err := p.Validate(); err != nil {
		return models.UnitPreference{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.UnitPreference{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM unit_table`); err != nil {
		return models.UnitPreference{}, err
	}
	p, err = insertSQLite(ctx, tx, p)
	if err != nil {
		return models.UnitPreference{}, err
	}
	return p, tx.Commit()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
