package domain

import "time"

// AffiliateAddress represents a monitored affiliate identifier
type AffiliateAddress struct {
	ID        uint64
	Protocol  Protocol
	Address   string
	Label     string
	CreatedAt time.Time
}
