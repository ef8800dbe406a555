package postgres

import (
	"context"
	"fmt"
	"time"

	"affwatch/internal/core/domain"
)

// AffiliateRepo implements storage.AffiliateRepository using PostgreSQL.
type AffiliateRepo struct {
	db *DB
}

// NewAffiliateRepo creates a new PostgreSQL affiliate repository.
func NewAffiliateRepo(db *DB) *AffiliateRepo {
	return &AffiliateRepo{db: db}
}

// Save saves an affiliate address to the database.
func (r *AffiliateRepo) Save(ctx context.Context, affiliate *domain.AffiliateAddress) error {
	query := `
		INSERT INTO affiliate_addresses (protocol, address, label, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (protocol, address) DO UPDATE SET label = EXCLUDED.label
	`
	_, err := r.db.ExecContext(ctx, query,
		string(affiliate.Protocol), affiliate.Address, affiliate.Label,
	)
	if err != nil {
		return fmt.Errorf("failed to save affiliate address: %w", err)
	}
	return nil
}

type affiliateRow struct {
	ID        uint64    `db:"id"`
	Protocol  string    `db:"protocol"`
	Address   string    `db:"address"`
	Label     string    `db:"label"`
	CreatedAt time.Time `db:"created_at"`
}

// GetAll retrieves all affiliate addresses.
func (r *AffiliateRepo) GetAll(ctx context.Context) ([]*domain.AffiliateAddress, error) {
	query := `SELECT id, protocol, address, label, created_at FROM affiliate_addresses`

	var rows []affiliateRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get all affiliate addresses: %w", err)
	}

	var affiliates []*domain.AffiliateAddress
	for _, row := range rows {
		affiliates = append(affiliates, &domain.AffiliateAddress{
			ID:        row.ID,
			Protocol:  domain.Protocol(row.Protocol),
			Address:   row.Address,
			Label:     row.Label,
			CreatedAt: row.CreatedAt,
		})
	}
	return affiliates, nil
}
