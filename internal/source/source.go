package source

import (
	"context"
	"time"

	"affwatch/internal/core/domain"
)

// EmitFunc receives candidate items as a source finds them. A non-nil error
// tells the source to abort the current pass.
type EmitFunc func(ctx context.Context, item domain.CandidateItem) error

// Source defines one upstream feed of candidate items.
// Each implementation owns its wire format and its cursor encoding; the
// scanner only stores positions and schedules passes.
type Source interface {
	// Name identifies this source instance. Cursors, metrics and the dead
	// letter queue key on it.
	Name() string

	// Protocol is the protocol this source watches.
	Protocol() domain.Protocol

	// Poll performs one pass over the feed, emitting candidate items newer
	// than position. It returns the position the next pass should resume
	// from; returning position unchanged means nothing new was found.
	// Streaming sources treat one connection lifetime as one pass.
	Poll(ctx context.Context, position string, emit EmitFunc) (string, error)
}

// Options carries the feed settings shared by the HTTP sources.
type Options struct {
	Name      string
	URL       string
	Affiliate string
	Method    string
	Subscribe string
	PageSize  int
	MaxPages  int
	PageDelay time.Duration
}

// Pause sleeps for d unless ctx ends first. Sources call it between pages
// to stay under upstream rate limits.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
