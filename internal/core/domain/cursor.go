package domain

import "time"

// Cursor represents a source's resume position. Position is opaque to
// everything but the source that wrote it: a block number, a timestamp,
// a continuation token.
type Cursor struct {
	Source    string    `json:"source"`
	Position  string    `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}
