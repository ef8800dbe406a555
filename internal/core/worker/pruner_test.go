package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRecordPruner struct {
	calls   atomic.Int32
	deleted int64
	cutoff  time.Time
}

func (f *fakeRecordPruner) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.calls.Add(1)
	f.cutoff = cutoff
	return f.deleted, nil
}

type fakeAuditPruner struct {
	calls atomic.Int32
}

func (f *fakeAuditPruner) PruneRawOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

func TestPrunePrunesBothStores(t *testing.T) {
	records := &fakeRecordPruner{deleted: 3}
	audit := &fakeAuditPruner{}
	p := NewPruner(24*time.Hour, records, audit, nil)

	p.prune(context.Background())

	if records.calls.Load() != 1 || audit.calls.Load() != 1 {
		t.Errorf("calls = %d/%d, want one each", records.calls.Load(), audit.calls.Load())
	}
	wantCutoff := time.Now().Add(-24 * time.Hour)
	if diff := records.cutoff.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want about %v", records.cutoff, wantCutoff)
	}
}

func TestPruneSkipsMissingStores(t *testing.T) {
	p := NewPruner(24*time.Hour, nil, nil, nil)
	// Must not panic with no stores configured.
	p.prune(context.Background())
}

func TestStartDisabledWithoutRetention(t *testing.T) {
	records := &fakeRecordPruner{}
	p := NewPruner(0, records, nil, nil)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return with retention disabled")
	}
	if records.calls.Load() != 0 {
		t.Error("pruned despite retention being disabled")
	}
}
