package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/adamancini/hold/internal/types"
)

// Supported SQL drivers.
const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
)

// SQL implements Store on an embedded sqlite file or a remote libsql database.
type SQL struct {
	db *sql.DB
}

// NewSQL opens the database and creates the schema.
func NewSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	switch driver {
	case DriverSQLite, DriverLibSQL:
	default:
		return nil, fmt.Errorf("unsupported state driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One writer keeps sqlite from returning SQLITE_BUSY and lets
		// ":memory:" databases survive across calls.
		db.SetMaxOpenConns(1)
	}

	s := &SQL{db: db}
	if err := s.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize creates the database schema
func (s *SQL) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS install_records (
			id TEXT NOT NULL PRIMARY KEY,
			current_version TEXT NOT NULL,
			lifecycle TEXT NOT NULL,
			manifest_url TEXT NOT NULL DEFAULT '',
			pending TEXT,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create install_records table: %w", err)
	}
	return nil
}

// Get gets a record by cargo id
func (s *SQL) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, current_version, lifecycle, manifest_url, pending, updated_at
		FROM install_records
		WHERE id = ?
	`, id)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get install record: %w", err)
	}
	return r, nil
}

// Put inserts or replaces a record
func (s *SQL) Put(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	var pending sql.NullString
	if r.Pending != nil {
		data, err := json.Marshal(r.Pending)
		if err != nil {
			return fmt.Errorf("failed to encode pending block: %w", err)
		}
		pending = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO install_records (
			id, current_version, lifecycle, manifest_url, pending, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_version = excluded.current_version,
			lifecycle = excluded.lifecycle,
			manifest_url = excluded.manifest_url,
			pending = excluded.pending,
			updated_at = excluded.updated_at
	`,
		r.ID, r.CurrentVersion, string(r.Lifecycle), r.ManifestURL, pending,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write install record: %w", err)
	}
	return nil
}

// Delete removes a record
func (s *SQL) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM install_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete install record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List lists all records ordered by id
func (s *SQL) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, current_version, lifecycle, manifest_url, pending, updated_at
		FROM install_records
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list install records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan install record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate install records: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (s *SQL) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r         Record
		lifecycle string
		pending   sql.NullString
		updatedAt string
	)
	if err := row.Scan(&r.ID, &r.CurrentVersion, &lifecycle, &r.ManifestURL, &pending, &updatedAt); err != nil {
		return nil, err
	}

	r.Lifecycle = types.Lifecycle(lifecycle)
	if pending.Valid && pending.String != "" {
		r.Pending = &Pending{}
		if err := json.Unmarshal([]byte(pending.String), r.Pending); err != nil {
			return nil, fmt.Errorf("failed to decode pending block for %s: %w", r.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		r.UpdatedAt = t
	}
	return &r, nil
}
