package memory

import (
	"context"
	"errors"
	"testing"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/storage"
)

func sessionFixture(id, date string, startedAt int64) *domain.TradeSession {
	return &domain.TradeSession{
		ID:         id,
		Date:       date,
		Side:       domain.SideLong,
		MarginUSD:  5,
		Leverage:   40,
		EntryPrice: 68000,
		LuckPath:   []float64{0.5},
		Status:     domain.StatusSuccess,
		StartedAt:  startedAt,
	}
}

func TestSessionStore_SaveAndLoadCurrent(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	s := sessionFixture("s1", "2026-08-30", 1000)
	s.Status = domain.StatusRunning
	if err := store.SaveCurrent(ctx, s); err != nil {
		t.Fatalf("SaveCurrent failed: %v", err)
	}

	got, err := store.LoadCurrent(ctx)
	if err != nil {
		t.Fatalf("LoadCurrent failed: %v", err)
	}
	if got.ID != "s1" || got.Status != domain.StatusRunning {
		t.Errorf("unexpected session: %+v", got)
	}

	// Stored copy is isolated from caller mutations.
	s.LuckPath[0] = 0.9
	got2, _ := store.LoadCurrent(ctx)
	if got2.LuckPath[0] != 0.5 {
		t.Errorf("stored session shares LuckPath with caller")
	}
}

func TestSessionStore_LoadCurrentEmpty(t *testing.T) {
	store := NewSessionStore()

	_, err := store.LoadCurrent(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_ClearCurrent(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	if err := store.ClearCurrent(ctx); err != nil {
		t.Fatalf("ClearCurrent on empty slot failed: %v", err)
	}

	store.SaveCurrent(ctx, sessionFixture("s1", "2026-08-30", 1000))
	if err := store.ClearCurrent(ctx); err != nil {
		t.Fatalf("ClearCurrent failed: %v", err)
	}

	_, err := store.LoadCurrent(ctx)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after clear, got %v", err)
	}
}

func TestSessionStore_HistoryNewestFirst(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	for _, s := range []*domain.TradeSession{
		sessionFixture("s1", "2026-08-28", 1000),
		sessionFixture("s3", "2026-08-30", 3000),
		sessionFixture("s2", "2026-08-29", 2000),
	} {
		if err := store.AppendHistory(ctx, s); err != nil {
			t.Fatalf("AppendHistory failed: %v", err)
		}
	}

	all, err := store.History(ctx, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "s3" || all[2].ID != "s1" {
		t.Errorf("unexpected order: %v, %v, %v", all[0].ID, all[1].ID, all[2].ID)
	}

	limited, _ := store.History(ctx, 2)
	if len(limited) != 2 || limited[0].ID != "s3" {
		t.Errorf("unexpected limited history")
	}
}

func TestSessionStore_AppendHistoryDuplicate(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	s := sessionFixture("s1", "2026-08-30", 1000)
	if err := store.AppendHistory(ctx, s); err != nil {
		t.Fatalf("first append failed: %v", err)
	}

	err := store.AppendHistory(ctx, s)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSessionStore_CountByDate(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	store.AppendHistory(ctx, sessionFixture("s1", "2026-08-30", 1000))
	store.AppendHistory(ctx, sessionFixture("s2", "2026-08-30", 2000))
	store.AppendHistory(ctx, sessionFixture("s3", "2026-08-29", 3000))

	n, err := store.CountByDate(ctx, "2026-08-30")
	if err != nil {
		t.Fatalf("CountByDate failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}

	n, _ = store.CountByDate(ctx, "2026-01-01")
	if n != 0 {
		t.Errorf("Expected 0, got %d", n)
	}
}

func TestSessionStore_PruneHistory(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	for i, id := range []string{"s1", "s2", "s3", "s4"} {
		store.AppendHistory(ctx, sessionFixture(id, "2026-08-30", int64(1000*(i+1))))
	}

	if err := store.PruneHistory(ctx, 2); err != nil {
		t.Fatalf("PruneHistory failed: %v", err)
	}

	all, _ := store.History(ctx, 0)
	if len(all) != 2 || all[0].ID != "s4" || all[1].ID != "s3" {
		t.Errorf("expected newest two to survive, got %+v", all)
	}

	// Pruned ids can be appended again.
	if err := store.AppendHistory(ctx, sessionFixture("s1", "2026-08-30", 5000)); err != nil {
		t.Errorf("re-append after prune failed: %v", err)
	}
}
