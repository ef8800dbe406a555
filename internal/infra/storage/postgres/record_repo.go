package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/storage"
)

// RecordRepo implements storage.RecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

const insertRecordQuery = `
	INSERT INTO affiliate_records (
		id, protocol, event_time, captured_at, matched, match_rule, match_hits,
		fee_bps, participants, amounts, app_code, memo, low_confidence, raw, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
	ON CONFLICT (id) DO NOTHING
`

// Save saves a record. Appends are idempotent on the transaction id.
func (r *RecordRepo) Save(ctx context.Context, rec *domain.TxRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, insertRecordQuery, args...); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// SaveBatch saves multiple records in one transaction.
func (r *RecordRepo) SaveBatch(ctx context.Context, recs []*domain.TxRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRecordQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		args, err := recordArgs(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func recordArgs(rec *domain.TxRecord) ([]any, error) {
	hits, err := json.Marshal(rec.Match.Hits)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match hits: %w", err)
	}
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}
	amounts, err := json.Marshal(rec.Amounts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal amounts: %w", err)
	}

	var eventTime sql.NullTime
	if !rec.Timestamp.IsZero() {
		eventTime = sql.NullTime{Time: rec.Timestamp.UTC(), Valid: true}
	}

	// fee_bps stays NULL when the fee is unknown; zero is a real value.
	var feeBps sql.NullInt32
	if rec.Match.FeeBps != nil {
		feeBps = sql.NullInt32{Int32: int32(*rec.Match.FeeBps), Valid: true}
	}

	return []any{
		rec.ID,
		string(rec.Protocol),
		eventTime,
		rec.CapturedAt.UTC(),
		rec.Match.Matched,
		nullString(string(rec.Match.Rule)),
		hits,
		feeBps,
		participants,
		amounts,
		nullString(rec.AppCode),
		nullString(rec.Memo),
		rec.LowConfidence,
		[]byte(rec.Raw),
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type recordRow struct {
	ID            string         `db:"id"`
	Protocol      string         `db:"protocol"`
	EventTime     sql.NullTime   `db:"event_time"`
	CapturedAt    time.Time      `db:"captured_at"`
	Matched       bool           `db:"matched"`
	MatchRule     sql.NullString `db:"match_rule"`
	MatchHits     []byte         `db:"match_hits"`
	FeeBps        sql.NullInt32  `db:"fee_bps"`
	Participants  []byte         `db:"participants"`
	Amounts       []byte         `db:"amounts"`
	AppCode       sql.NullString `db:"app_code"`
	Memo          sql.NullString `db:"memo"`
	LowConfidence bool           `db:"low_confidence"`
	Raw           []byte         `db:"raw"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (row *recordRow) toDomain() (*domain.TxRecord, error) {
	rec := &domain.TxRecord{
		ID:            row.ID,
		Protocol:      domain.Protocol(row.Protocol),
		CapturedAt:    row.CapturedAt,
		AppCode:       row.AppCode.String,
		Memo:          row.Memo.String,
		LowConfidence: row.LowConfidence,
		Raw:           json.RawMessage(row.Raw),
		Match: domain.MatchResult{
			Matched: row.Matched,
			Rule:    domain.MatchRule(row.MatchRule.String),
		},
	}
	if row.EventTime.Valid {
		rec.Timestamp = row.EventTime.Time
	}
	if row.FeeBps.Valid {
		fee := int(row.FeeBps.Int32)
		rec.Match.FeeBps = &fee
	}
	if len(row.MatchHits) > 0 {
		if err := json.Unmarshal(row.MatchHits, &rec.Match.Hits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal match hits: %w", err)
		}
	}
	if len(row.Participants) > 0 {
		if err := json.Unmarshal(row.Participants, &rec.Participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}
	if len(row.Amounts) > 0 {
		if err := json.Unmarshal(row.Amounts, &rec.Amounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal amounts: %w", err)
		}
	}
	return rec, nil
}

// GetByID retrieves a record by transaction id.
func (r *RecordRepo) GetByID(ctx context.Context, id string) (*domain.TxRecord, error) {
	query := `
		SELECT id, protocol, event_time, captured_at, matched, match_rule, match_hits,
		       fee_bps, participants, amounts, app_code, memo, low_confidence, raw, created_at
		FROM affiliate_records
		WHERE id = $1
	`

	var row recordRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return row.toDomain()
}

// CountByProtocol returns stored record counts per protocol.
func (r *RecordRepo) CountByProtocol(ctx context.Context) (map[domain.Protocol]int64, error) {
	query := `SELECT protocol, COUNT(*) AS count FROM affiliate_records GROUP BY protocol`

	var rows []struct {
		Protocol string `db:"protocol"`
		Count    int64  `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	counts := make(map[domain.Protocol]int64, len(rows))
	for _, row := range rows {
		counts[domain.Protocol(row.Protocol)] = row.Count
	}
	return counts, nil
}

// DeleteOlderThan removes records captured before cutoff.
func (r *RecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM affiliate_records WHERE captured_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old records: %w", err)
	}
	return res.RowsAffected()
}
