package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/storage"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

type cursorRow struct {
	Source    string    `db:"source"`
	Position  string    `db:"position"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get retrieves the cursor for a source.
func (r *CursorRepo) Get(ctx context.Context, source string) (*domain.Cursor, error) {
	query := `SELECT source, position, updated_at FROM source_cursors WHERE source = $1`

	var row cursorRow
	err := r.db.GetContext(ctx, &row, query, source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	return &domain.Cursor{
		Source:    row.Source,
		Position:  row.Position,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Save saves/updates the cursor.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	query := `
		INSERT INTO source_cursors (source, position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, cursor.Source, cursor.Position)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// All retrieves every stored cursor.
func (r *CursorRepo) All(ctx context.Context) ([]*domain.Cursor, error) {
	query := `SELECT source, position, updated_at FROM source_cursors ORDER BY source`

	var rows []cursorRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}

	var cursors []*domain.Cursor
	for _, row := range rows {
		cursors = append(cursors, &domain.Cursor{
			Source:    row.Source,
			Position:  row.Position,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return cursors, nil
}
