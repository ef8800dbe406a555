package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/storage"
)

// MemoryStorage backs standalone runs and tests. All repositories share one
// lock; none of the operations here are hot enough to justify finer grain.
type MemoryStorage struct {
	records    map[string]*domain.TxRecord
	affiliates []*domain.AffiliateAddress
	cursors    map[string]*domain.Cursor
	seen       map[string]struct{}
	failed     map[string]*domain.FailedPass
	mu         sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*domain.TxRecord),
		cursors: make(map[string]*domain.Cursor),
		seen:    make(map[string]struct{}),
		failed:  make(map[string]*domain.FailedPass),
	}
}

// -----------------------------------------------------------------------------
// Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *MemoryStorage
}

func NewRecordRepo(store *MemoryStorage) *RecordRepo {
	return &RecordRepo{store: store}
}

func (r *RecordRepo) Save(ctx context.Context, rec *domain.TxRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.records[rec.ID]; exists {
		return nil
	}
	r.store.records[rec.ID] = rec
	return nil
}

func (r *RecordRepo) SaveBatch(ctx context.Context, recs []*domain.TxRecord) error {
	for _, rec := range recs {
		if err := r.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *RecordRepo) GetByID(ctx context.Context, id string) (*domain.TxRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[id]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return rec, nil
}

func (r *RecordRepo) CountByProtocol(ctx context.Context) (map[domain.Protocol]int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.Protocol]int64)
	for _, rec := range r.store.records {
		counts[rec.Protocol]++
	}
	return counts, nil
}

func (r *RecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var deleted int64
	for id, rec := range r.store.records {
		if rec.CapturedAt.Before(cutoff) {
			delete(r.store.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// -----------------------------------------------------------------------------
// Affiliate Repository
// -----------------------------------------------------------------------------

type AffiliateRepo struct {
	store *MemoryStorage
}

func NewAffiliateRepo(store *MemoryStorage) *AffiliateRepo {
	return &AffiliateRepo{store: store}
}

func (r *AffiliateRepo) Save(ctx context.Context, affiliate *domain.AffiliateAddress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.affiliates = append(r.store.affiliates, affiliate)
	return nil
}

func (r *AffiliateRepo) GetAll(ctx context.Context) ([]*domain.AffiliateAddress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.AffiliateAddress, len(r.store.affiliates))
	copy(out, r.store.affiliates)
	return out, nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context, source string) (*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if c, ok := r.store.cursors[source]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, storage.ErrCursorNotFound
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *cursor
	r.store.cursors[cursor.Source] = &cp
	return nil
}

func (r *CursorRepo) All(ctx context.Context) ([]*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Cursor, 0, len(r.store.cursors))
	for _, c := range r.store.cursors {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Seen Store
// -----------------------------------------------------------------------------

type SeenStore struct {
	store *MemoryStorage
}

func NewSeenStore(store *MemoryStorage) *SeenStore {
	return &SeenStore{store: store}
}

func (s *SeenStore) SeedSeen(ctx context.Context) ([]string, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	ids := make([]string, 0, len(s.store.seen))
	for id := range s.store.seen {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *SeenStore) AddSeen(ctx context.Context, id string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.seen[id] = struct{}{}
	return nil
}

func (s *SeenStore) ClearSeen(ctx context.Context, prefix string) (int, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if prefix == "" {
		n := len(s.store.seen)
		s.store.seen = make(map[string]struct{})
		return n, nil
	}
	n := 0
	for id := range s.store.seen {
		if strings.HasPrefix(id, prefix) {
			delete(s.store.seen, id)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Dead Letter Queue
// -----------------------------------------------------------------------------

type DeadLetterQueue struct {
	store *MemoryStorage
}

func NewDeadLetterQueue(store *MemoryStorage) *DeadLetterQueue {
	return &DeadLetterQueue{store: store}
}

func (q *DeadLetterQueue) Add(ctx context.Context, fp *domain.FailedPass) error {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	q.store.failed[fp.ID] = fp
	return nil
}

// Next returns the entry with the fewest retries, matching the ordering the
// redis-backed queue gets from its sorted set.
func (q *DeadLetterQueue) Next(ctx context.Context) (*domain.FailedPass, error) {
	q.store.mu.RLock()
	defer q.store.mu.RUnlock()
	var next *domain.FailedPass
	for _, fp := range q.store.failed {
		if next == nil || fp.RetryCount < next.RetryCount {
			next = fp
		}
	}
	return next, nil
}

func (q *DeadLetterQueue) IncrementRetry(ctx context.Context, id string) error {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	if fp, ok := q.store.failed[id]; ok {
		fp.RetryCount++
		fp.LastAttempt = time.Now().Unix()
	}
	return nil
}

func (q *DeadLetterQueue) Resolve(ctx context.Context, id string) error {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	delete(q.store.failed, id)
	return nil
}

func (q *DeadLetterQueue) Count(ctx context.Context) (int, error) {
	q.store.mu.RLock()
	defer q.store.mu.RUnlock()
	return len(q.store.failed), nil
}
