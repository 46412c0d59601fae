package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tribu-digital/campaignbot/internal/domain"
)

func testTurn(q, a string) domain.Turn {
	return domain.Turn{Query: q, Answer: a, Timestamp: time.Now()}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{})
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := store.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same session id, got %q and %q", first.ID, second.ID)
	}
	if n, _ := store.Len(ctx); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestAppendStoresExactlyNTurns(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{})
	ctx := context.Background()
	const n = 25

	if _, err := store.GetOrCreate(ctx, "sess-1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	for i := 0; i < n; i++ {
		q := fmt.Sprintf("q%d", i)
		if err := store.Append(ctx, "sess-1", testTurn(q, "a")); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	turns, err := store.History(ctx, "sess-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != n {
		t.Fatalf("expected %d turns, got %d", n, len(turns))
	}
	for i, turn := range turns {
		if want := fmt.Sprintf("q%d", i); turn.Query != want {
			t.Errorf("turn %d: got query %q, want %q (insertion order violated)", i, turn.Query, want)
		}
	}
}

func TestAppendUnknownSessionFails(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{})
	err := store.Append(context.Background(), "nope", testTurn("q", "a"))
	if err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestHistoryCapDropsOldestTurns(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{MaxHistoryTurns: 3})
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "sess-1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, "sess-1", testTurn(fmt.Sprintf("q%d", i), "a")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	turns, _ := store.History(ctx, "sess-1")
	if len(turns) != 3 {
		t.Fatalf("expected 3 retained turns, got %d", len(turns))
	}
	if turns[0].Query != "q2" || turns[2].Query != "q4" {
		t.Errorf("expected oldest turns dropped, got %q..%q", turns[0].Query, turns[2].Query)
	}
}

func TestEvictExpiredRemovesIdleSessions(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{IdleTimeout: time.Minute})
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	if _, err := store.GetOrCreate(ctx, "idle"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := store.GetOrCreate(ctx, "fresh"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	evicted, err := store.EvictExpired(ctx, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if err := store.Append(ctx, "idle", testTurn("q", "a")); err != ErrSessionNotFound {
		t.Errorf("expected idle session gone, got %v", err)
	}
	if err := store.Append(ctx, "fresh", testTurn("q", "a")); err != nil {
		t.Errorf("fresh session should survive eviction: %v", err)
	}
}

func TestMaxSessionsEvictsLeastRecentlyActive(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{MaxSessions: 2})
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		store.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		if _, err := store.GetOrCreate(ctx, fmt.Sprintf("sess-%d", i)); err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
	}

	if n, _ := store.Len(ctx); n != 2 {
		t.Fatalf("expected 2 sessions after cap enforcement, got %d", n)
	}
	if err := store.Append(ctx, "sess-0", testTurn("q", "a")); err != ErrSessionNotFound {
		t.Errorf("expected least-recently-active session evicted, got %v", err)
	}
}

func TestConcurrentAppendsSameSessionDoNotCorrupt(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{})
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "sess-1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	const workers = 16
	const perWorker = 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tag := fmt.Sprintf("w%d-%d", w, i)
				if err := store.Append(ctx, "sess-1", testTurn("q-"+tag, "a-"+tag)); err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	turns, err := store.History(ctx, "sess-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != workers*perWorker {
		t.Fatalf("expected %d turns, got %d", workers*perWorker, len(turns))
	}
	// Each turn's query and answer must still belong together.
	for _, turn := range turns {
		if "a-"+turn.Query[2:] != turn.Answer {
			t.Fatalf("interleaved turn: query %q paired with answer %q", turn.Query, turn.Answer)
		}
	}
}

func TestConcurrentDistinctSessions(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{})
	ctx := context.Background()

	const sessions = 20
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sess-%d", i)
			if _, err := store.GetOrCreate(ctx, id); err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			for j := 0; j < 10; j++ {
				if err := store.Append(ctx, id, testTurn(fmt.Sprintf("q%d", j), "a")); err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if n, _ := store.Len(ctx); n != sessions {
		t.Fatalf("expected %d sessions, got %d", sessions, n)
	}
	for i := 0; i < sessions; i++ {
		turns, err := store.History(ctx, fmt.Sprintf("sess-%d", i))
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(turns) != 10 {
			t.Errorf("session %d: expected 10 turns, got %d", i, len(turns))
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(Policy{})
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "sess-1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := store.Append(ctx, "sess-1", testTurn("q", "a")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	turns, _ := store.History(ctx, "sess-1")
	turns[0].Answer = "mutated"

	again, _ := store.History(ctx, "sess-1")
	if again[0].Answer != "a" {
		t.Error("History returned a live reference instead of a snapshot")
	}
}
