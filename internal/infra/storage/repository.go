package storage

import (
	"context"
	"errors"
	"time"

	"affwatch/internal/core/domain"
)

var (
	// ErrCursorNotFound is returned when a cursor doesn't exist
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrRecordNotFound is returned when a record doesn't exist
	ErrRecordNotFound = errors.New("record not found")
)

// RecordRepository handles transaction record storage operations
type RecordRepository interface {
	// Save saves a record; replaying an already stored id is a no-op
	Save(ctx context.Context, rec *domain.TxRecord) error

	// SaveBatch saves multiple records
	SaveBatch(ctx context.Context, recs []*domain.TxRecord) error

	// GetByID retrieves a record by transaction id
	GetByID(ctx context.Context, id string) (*domain.TxRecord, error)

	// CountByProtocol returns stored record counts per protocol
	CountByProtocol(ctx context.Context) (map[domain.Protocol]int64, error)

	// DeleteOlderThan removes records captured before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AffiliateRepository handles affiliate address storage
type AffiliateRepository interface {
	// Save saves an affiliate address
	Save(ctx context.Context, affiliate *domain.AffiliateAddress) error

	// GetAll retrieves all affiliate addresses
	GetAll(ctx context.Context) ([]*domain.AffiliateAddress, error)
}

// CursorRepository handles source cursor storage operations
type CursorRepository interface {
	// Get retrieves the cursor for a source
	Get(ctx context.Context, source string) (*domain.Cursor, error)

	// Save saves/updates the cursor
	Save(ctx context.Context, cursor *domain.Cursor) error

	// All retrieves every stored cursor
	All(ctx context.Context) ([]*domain.Cursor, error)
}
