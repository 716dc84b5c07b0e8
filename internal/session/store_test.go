package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/chat2carpool/internal/models"
)

func TestGetOrCreateAndRetention(t *testing.T) {
	st := NewStore(50)
	s := st.GetOrCreate("user-1")
	if s.ID != "user-1" || s.Intent != models.IntentUnset || s.IsComplete {
		t.Fatalf("fresh session has non-default state: %+v", s)
	}

	st.SetIntent("user-1", models.IntentRideRequest)
	st.SetDetails("user-1", models.RideDetails{PickupLocation: models.String("DHA")})

	again := st.GetOrCreate("user-1")
	if again.Intent != models.IntentRideRequest || again.Details.PickupLocation == nil {
		t.Fatalf("session did not retain state: %+v", again)
	}
}

func TestAppendMessageTrimsOldest(t *testing.T) {
	st := NewStore(3)
	for i := 0; i < 5; i++ {
		st.AppendMessage("u", RoleUser, fmt.Sprintf("msg-%d", i))
	}
	msgs := st.History("u", 0)
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "msg-2" || msgs[2].Content != "msg-4" {
		t.Fatalf("trim kept wrong messages: %+v", msgs)
	}
}

func TestHistoryLastN(t *testing.T) {
	st := NewStore(50)
	for i := 0; i < 5; i++ {
		st.AppendMessage("u", RoleUser, fmt.Sprintf("msg-%d", i))
	}
	msgs := st.History("u", 2)
	if len(msgs) != 2 || msgs[1].Content != "msg-4" {
		t.Fatalf("lastN = %+v", msgs)
	}
}

func TestClearKeepsIdentity(t *testing.T) {
	st := NewStore(50)
	st.SetIntent("u", models.IntentRideOffer)
	st.AppendMessage("u", RoleUser, "hi")
	st.MarkComplete("u", true)
	created := st.GetOrCreate("u").CreatedAt

	st.Clear("u")
	s := st.GetOrCreate("u")
	if s.Intent != models.IntentUnset || s.IsComplete || len(s.Messages) != 0 {
		t.Fatalf("clear left state: %+v", s)
	}
	if !s.CreatedAt.Equal(created) {
		t.Fatal("clear must keep creation time")
	}
	if st.Count() != 1 {
		t.Fatalf("count = %d, want 1", st.Count())
	}
}

func TestDelete(t *testing.T) {
	st := NewStore(50)
	st.GetOrCreate("u")
	if !st.Delete("u") {
		t.Fatal("expected delete to report existing session")
	}
	if st.Delete("u") {
		t.Fatal("double delete must report not found")
	}
}

func TestExpireOlderThan(t *testing.T) {
	st := NewStore(50)
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return clock }

	st.SetDetails("stale", models.RideDetails{PickupLocation: models.String("DHA")})
	st.GetOrCreate("fresh")

	clock = clock.Add(31 * time.Minute)
	st.GetOrCreate("fresh") // touch within window

	evicted := st.ExpireOlderThan(30 * time.Minute)
	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Fatalf("evicted = %v", evicted)
	}

	// Evicted session comes back fresh, prior details gone.
	s := st.GetOrCreate("stale")
	if s.Details.PickupLocation != nil {
		t.Fatal("evicted session must not retain details")
	}
	if st.Count() != 2 {
		t.Fatalf("count = %d, want 2", st.Count())
	}
}

func TestSweepSkipsRecentlyTouched(t *testing.T) {
	st := NewStore(50)
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return clock }

	st.GetOrCreate("u")
	clock = clock.Add(10 * time.Minute)
	if evicted := st.ExpireOlderThan(30 * time.Minute); evicted != nil {
		t.Fatalf("nothing should expire, got %v", evicted)
	}
}

func TestConcurrentAccessDistinctSessions(t *testing.T) {
	st := NewStore(50)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("user-%d", i%4)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				st.AppendMessage(id, RoleUser, "hello")
				st.Update(id, func(s *Session) { s.IsComplete = !s.IsComplete })
				_ = st.GetOrCreate(id)
				_ = st.ExpireOlderThan(time.Hour)
			}
		}(id)
	}
	wg.Wait()
	if st.Count() != 4 {
		t.Fatalf("count = %d, want 4", st.Count())
	}
	msgs := st.History("user-0", 0)
	if len(msgs) != 50 {
		t.Fatalf("history capped at %d, want 50", len(msgs))
	}
}

func TestSnapshotIsolation(t *testing.T) {
	st := NewStore(50)
	st.SetDetails("u", models.RideDetails{Route: []string{"A", "B"}})
	snap := st.GetOrCreate("u")
	snap.Details.Route[0] = "mutated"
	if got := st.GetOrCreate("u").Details.Route[0]; got != "A" {
		t.Fatalf("snapshot mutation leaked into store: %q", got)
	}
}
