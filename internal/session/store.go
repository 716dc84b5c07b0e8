// Package session owns per-user conversational state. The store is the unit
// of mutual exclusion for a conversation: operations on one session
// serialize against each other while unrelated sessions proceed
// independently. A background sweeper evicts sessions idle past a timeout;
// eviction destroys all in-progress state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/chat2carpool/internal/models"
	"github.com/example/chat2carpool/internal/observability"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is a snapshot of one conversation's state. Mutations go through
// the store; snapshots are safe to retain.
type Session struct {
	ID           string
	Messages     []models.ConversationMessage
	Details      models.RideDetails
	Intent       models.Intent
	IsComplete   bool
	CreatedAt    time.Time
	LastActivity time.Time
}

type entry struct {
	mu sync.Mutex
	s  Session
}

// Store is a thread-safe in-memory session map. The map lock is held only
// for lookup, insertion and eviction; all state mutation happens under the
// per-session lock.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*entry
	maxHistory int
	now        func() time.Time
}

// NewStore creates a store that caps each transcript at maxHistory
// messages, trimming oldest first.
func NewStore(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Store{
		sessions:   make(map[string]*entry),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

func (st *Store) getOrCreateEntry(id string) *entry {
	st.mu.RLock()
	e, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return e
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok = st.sessions[id]; ok {
		return e
	}
	now := st.now()
	e = &entry{s: Session{ID: id, CreatedAt: now, LastActivity: now}}
	st.sessions[id] = e
	observability.ActiveSessions.Set(float64(len(st.sessions)))
	return e
}

// snapshot copies the session so callers never share slices with the store.
func snapshot(s *Session) Session {
	out := *s
	out.Messages = append([]models.ConversationMessage(nil), s.Messages...)
	out.Details.Route = append([]string(nil), s.Details.Route...)
	if len(s.Details.Route) == 0 {
		out.Details.Route = nil
	}
	return out
}

// GetOrCreate returns the session for id, creating it with empty defaults
// when absent. Every call refreshes last activity; there is no not-found
// condition on this path.
func (st *Store) GetOrCreate(id string) Session {
	e := st.getOrCreateEntry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.LastActivity = st.now()
	return snapshot(&e.s)
}

// Update runs fn on the session under its lock and returns the resulting
// snapshot. All typed mutators are built on this.
func (st *Store) Update(id string, fn func(*Session)) Session {
	e := st.getOrCreateEntry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.s)
	e.s.LastActivity = st.now()
	return snapshot(&e.s)
}

// AppendMessage appends one transcript turn, trimming the oldest messages
// beyond the retention cap.
func (st *Store) AppendMessage(id, role, content string) {
	ts := st.now()
	st.Update(id, func(s *Session) {
		s.Messages = append(s.Messages, models.ConversationMessage{Role: role, Content: content, Timestamp: ts})
		if over := len(s.Messages) - st.maxHistory; over > 0 {
			s.Messages = append([]models.ConversationMessage(nil), s.Messages[over:]...)
		}
	})
}

// SetDetails replaces the session's accumulated ride details.
func (st *Store) SetDetails(id string, d models.RideDetails) {
	st.Update(id, func(s *Session) { s.Details = d })
}

// SetIntent records the classified intent for the conversation.
func (st *Store) SetIntent(id string, intent models.Intent) {
	st.Update(id, func(s *Session) { s.Intent = intent })
}

// MarkComplete flags the session as having all required fields; the next
// user turn is treated as a confirmation reply, never re-extraction.
func (st *Store) MarkComplete(id string, complete bool) {
	st.Update(id, func(s *Session) { s.IsComplete = complete })
}

// Clear wipes details, intent, completeness and transcript but keeps the
// session identity and creation time.
func (st *Store) Clear(id string) {
	st.Update(id, func(s *Session) {
		s.Messages = nil
		s.Details = models.RideDetails{}
		s.Intent = models.IntentUnset
		s.IsComplete = false
	})
}

// Delete removes the session entirely. Reports whether it existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	observability.ActiveSessions.Set(float64(len(st.sessions)))
	return true
}

// History returns up to lastN most recent transcript turns (all when
// lastN <= 0).
func (st *Store) History(id string, lastN int) []models.ConversationMessage {
	s := st.GetOrCreate(id)
	if lastN > 0 && len(s.Messages) > lastN {
		return s.Messages[len(s.Messages)-lastN:]
	}
	return s.Messages
}

// Count reports the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// ActiveIDs lists the ids of live sessions.
func (st *Store) ActiveIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		out = append(out, id)
	}
	return out
}

// ExpireOlderThan removes sessions idle longer than maxAge and returns the
// evicted ids. Candidates are identified without holding the map write
// lock; each is re-checked before removal so a session touched mid-sweep
// survives.
func (st *Store) ExpireOlderThan(maxAge time.Duration) []string {
	cutoff := st.now().Add(-maxAge)

	st.mu.RLock()
	candidates := make(map[string]*entry)
	for id, e := range st.sessions {
		candidates[id] = e
	}
	st.mu.RUnlock()

	var stale []string
	for id, e := range candidates {
		e.mu.Lock()
		if e.s.LastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
		e.mu.Unlock()
	}
	if len(stale) == 0 {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	evicted := stale[:0]
	for _, id := range stale {
		e, ok := st.sessions[id]
		if !ok {
			continue
		}
		e.mu.Lock()
		expired := e.s.LastActivity.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(st.sessions, id)
			evicted = append(evicted, id)
		}
	}
	observability.ActiveSessions.Set(float64(len(st.sessions)))
	return evicted
}

// StartSweeper runs the expiry sweep on a fixed interval until ctx is done.
func (st *Store) StartSweeper(ctx context.Context, interval, maxAge time.Duration, logger *slog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := st.ExpireOlderThan(maxAge); len(evicted) > 0 {
					logger.Info("expired idle sessions", "count", len(evicted))
				}
			}
		}
	}()
}
