package dedup

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	existsCalls int
	rows        map[string]bool
}

func (f *fakeStore) Exists(ctx context.Context, externalJobID, source string, scheduledAt time.Time) (bool, error) {
	f.existsCalls++
	return f.rows[Key(externalJobID, source, scheduledAt)], nil
}

func TestChecker_Seen_FallsThroughToStoreOnMiss(t *testing.T) {
	at := time.Now()
	store := &fakeStore{rows: map[string]bool{Key("job-1", "src", at): true}}
	checker := NewChecker(store, 10)

	seen, err := checker.Seen(context.Background(), "job-1", "src", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Fatal("expected seen=true")
	}
	if store.existsCalls != 1 {
		t.Fatalf("expected 1 store call, got %d", store.existsCalls)
	}
}

func TestChecker_Seen_CachesStoreHit(t *testing.T) {
	at := time.Now()
	store := &fakeStore{rows: map[string]bool{Key("job-2", "src", at): true}}
	checker := NewChecker(store, 10)

	for i := 0; i < 3; i++ {
		seen, err := checker.Seen(context.Background(), "job-2", "src", at)
		if err != nil || !seen {
			t.Fatalf("call %d: seen=%v err=%v", i, seen, err)
		}
	}
	if store.existsCalls != 1 {
		t.Fatalf("expected store to be consulted once, got %d calls", store.existsCalls)
	}
}

func TestChecker_Seen_NovelKeyHitsStoreEveryTime(t *testing.T) {
	at := time.Now()
	store := &fakeStore{rows: map[string]bool{}}
	checker := NewChecker(store, 10)

	seen, err := checker.Seen(context.Background(), "job-3", "src", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("expected seen=false for a novel key")
	}
	// A cache-miss on a novel key is never remembered as "seen", so a
	// second lookup still consults the store.
	if _, err := checker.Seen(context.Background(), "job-3", "src", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.existsCalls != 2 {
		t.Fatalf("expected 2 store calls, got %d", store.existsCalls)
	}
}

func TestChecker_Remember_AvoidsStoreRoundTrip(t *testing.T) {
	at := time.Now()
	store := &fakeStore{rows: map[string]bool{}}
	checker := NewChecker(store, 10)

	checker.Remember("job-4", "src", at)

	seen, err := checker.Seen(context.Background(), "job-4", "src", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Fatal("expected seen=true after Remember")
	}
	if store.existsCalls != 0 {
		t.Fatalf("expected no store calls, got %d", store.existsCalls)
	}
}
