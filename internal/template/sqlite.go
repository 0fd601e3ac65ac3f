package template

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS templates (
			name       TEXT PRIMARY KEY,
			config     TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, name string, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode template %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (name, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at
	`, name, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save template %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `SELECT config FROM templates WHERE name = ?`, name)

	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", name, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", name, err)
	}
	return cfg, nil
}

func (s *SQLiteStore) List(ctx context.Context) (map[string]Config, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, config FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Config)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		var cfg Config
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("decode template %s: %w", name, err)
		}
		out[name] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
