package accessory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists accessory records so identities survive restarts.
type Repository interface {
	// GetByUUID returns ErrAccessoryNotFound if the record does not exist.
	GetByUUID(ctx context.Context, id string) (*Accessory, error)

	// List returns every stored record ordered by display name.
	List(ctx context.Context) ([]Accessory, error)

	// Create returns ErrAccessoryExists if the UUID is already stored.
	Create(ctx context.Context, a *Accessory) error

	// Update returns ErrAccessoryNotFound if the UUID is not stored.
	Update(ctx context.Context, a *Accessory) error
}

// SQLiteRepository implements Repository on the accessories table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT uuid, display_name, manufacturer, model, serial_number, context, created_at, updated_at
	FROM accessories`

// GetByUUID implements Repository.
func (r *SQLiteRepository) GetByUUID(ctx context.Context, id string) (*Accessory, error) {
	a, err := scanAccessory(r.db.QueryRowContext(ctx, selectColumns+" WHERE uuid = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccessoryNotFound
		}
		return nil, fmt.Errorf("querying accessory by uuid: %w", err)
	}
	return a, nil
}

// List implements Repository.
func (r *SQLiteRepository) List(ctx context.Context) ([]Accessory, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY display_name, uuid")
	if err != nil {
		return nil, fmt.Errorf("querying accessories: %w", err)
	}
	defer rows.Close()

	var out []Accessory
	for rows.Next() {
		a, err := scanAccessory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning accessory: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accessories: %w", err)
	}
	return out, nil
}

// Create implements Repository. Timestamps are set here.
func (r *SQLiteRepository) Create(ctx context.Context, a *Accessory) error {
	ctxJSON, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("marshalling context: %w", err)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accessories (
			uuid, display_name, manufacturer, model, serial_number, context, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UUID,
		a.DisplayName,
		a.Manufacturer,
		a.Model,
		a.SerialNumber,
		string(ctxJSON),
		a.CreatedAt.Format(time.RFC3339),
		a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAccessoryExists
		}
		return fmt.Errorf("inserting accessory: %w", err)
	}
	return nil
}

// Update implements Repository. UpdatedAt is set here; CreatedAt is kept.
func (r *SQLiteRepository) Update(ctx context.Context, a *Accessory) error {
	ctxJSON, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("marshalling context: %w", err)
	}

	a.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE accessories
		SET display_name = ?, manufacturer = ?, model = ?, serial_number = ?, context = ?, updated_at = ?
		WHERE uuid = ?`,
		a.DisplayName,
		a.Manufacturer,
		a.Model,
		a.SerialNumber,
		string(ctxJSON),
		a.UpdatedAt.Format(time.RFC3339),
		a.UUID,
	)
	if err != nil {
		return fmt.Errorf("updating accessory: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrAccessoryNotFound
	}
	return nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccessory(row rowScanner) (*Accessory, error) {
	var (
		a                    Accessory
		ctxJSON              string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&a.UUID,
		&a.DisplayName,
		&a.Manufacturer,
		&a.Model,
		&a.SerialNumber,
		&ctxJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ctxJSON), &a.Context); err != nil {
		return nil, fmt.Errorf("unmarshalling context: %w", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Written by this repository
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Written by this repository
	return &a, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
