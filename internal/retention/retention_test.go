package retention

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	batches []int64
	calls   int
}

func (f *fakeStore) DeleteTerminalBatch(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if f.calls >= len(f.batches) {
		return 0, nil
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func TestLoop_Cleanup_StopsOnShortBatch(t *testing.T) {
	store := &fakeStore{batches: []int64{10, 10, 3}}
	loop := New(store, Config{RetentionPeriod: time.Hour, BatchSize: 10}, nil)

	total := loop.Cleanup(context.Background(), time.Hour)

	if total != 23 {
		t.Fatalf("expected 23 deleted, got %d", total)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 batch calls, got %d", store.calls)
	}
}

func TestLoop_ManualCleanup_RunsToCompletion(t *testing.T) {
	store := &fakeStore{batches: []int64{5, 5, 5, 1}}
	loop := New(store, Config{RetentionPeriod: time.Hour, BatchSize: 5}, nil)

	total := loop.ManualCleanup(context.Background(), 48*time.Hour)

	if total != 16 {
		t.Fatalf("expected 16 deleted, got %d", total)
	}
}

func TestLoop_GetStats(t *testing.T) {
	loop := New(&fakeStore{}, Config{RetentionPeriod: 3 * 24 * time.Hour, BatchSize: 500}, nil)
	stats := loop.GetStats()

	if stats.BatchSize != 500 {
		t.Fatalf("expected batch size 500, got %d", stats.BatchSize)
	}
	if stats.RetentionPeriod != 3*24*time.Hour {
		t.Fatalf("unexpected retention period: %v", stats.RetentionPeriod)
	}
}
