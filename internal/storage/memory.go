package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/chat2carpool/internal/models"
)

// MemoryStore is the in-process RideStore used when no Postgres DSN is
// configured. One mutex guards all tables, which also makes ConfirmMatch
// trivially atomic.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[int64]*models.RideRequest
	offers   map[int64]*models.RideOffer
	matches  map[int64]*models.Match
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[int64]*models.RideRequest),
		offers:   make(map[int64]*models.RideOffer),
		matches:  make(map[int64]*models.Match),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func cloneRequest(r *models.RideRequest) *models.RideRequest {
	out := *r
	out.Route = append([]string(nil), r.Route...)
	if r.MatchedOfferID != nil {
		v := *r.MatchedOfferID
		out.MatchedOfferID = &v
	}
	return &out
}

func cloneOffer(o *models.RideOffer) *models.RideOffer {
	out := *o
	out.Route = append([]string(nil), o.Route...)
	return &out
}

func (m *MemoryStore) SaveRequest(_ context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	r.ID = m.id()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.IsActive = true
	m.requests[r.ID] = cloneRequest(r)
	return nil
}

func (m *MemoryStore) SaveOffer(_ context.Context, o *models.RideOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	o.ID = m.id()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.IsActive = true
	m.offers[o.ID] = cloneOffer(o)
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id int64) (*models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(r), nil
}

func (m *MemoryStore) GetOffer(_ context.Context, id int64) (*models.RideOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOffer(o), nil
}

func (m *MemoryStore) ListActiveOffers(_ context.Context, date string) ([]*models.RideOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RideOffer
	for _, o := range m.offers {
		if !o.IsActive || o.SeatsFilled >= o.AvailableSeats {
			continue
		}
		if date != "" && o.Date != date {
			continue
		}
		out = append(out, cloneOffer(o))
	}
	return out, nil
}

func (m *MemoryStore) ListActiveRequests(_ context.Context, date string) ([]*models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RideRequest
	for _, r := range m.requests {
		if !r.IsActive || r.IsMatched {
			continue
		}
		if date != "" && r.Date != date {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	return out, nil
}

func (m *MemoryStore) SaveMatch(_ context.Context, mt *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt.ID = m.id()
	mt.CreatedAt = time.Now().UTC()
	if mt.Status == "" {
		mt.Status = models.MatchPending
	}
	cp := *mt
	m.matches[mt.ID] = &cp
	return nil
}

func (m *MemoryStore) GetMatch(_ context.Context, id int64) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mt
	return &cp, nil
}

func (m *MemoryStore) ListPendingMatchesForUser(_ context.Context, userID string) ([]PendingMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingMatch
	for _, mt := range m.matches {
		if mt.Status != models.MatchPending {
			continue
		}
		r, okR := m.requests[mt.RequestID]
		o, okO := m.offers[mt.OfferID]
		if !okR || !okO {
			continue
		}
		if r.UserID != userID && o.UserID != userID {
			continue
		}
		out = append(out, PendingMatch{Match: *mt, Request: cloneRequest(r), Offer: cloneOffer(o)})
	}
	return out, nil
}

func (m *MemoryStore) ConfirmMatch(_ context.Context, matchID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if mt.Status != models.MatchPending {
		return ErrAlreadyDecided
	}
	r, ok := m.requests[mt.RequestID]
	if !ok {
		return ErrNotFound
	}
	o, ok := m.offers[mt.OfferID]
	if !ok {
		return ErrNotFound
	}
	if o.AvailableSeats-o.SeatsFilled < r.Passengers {
		return ErrInsufficientCapacity
	}

	now := time.Now().UTC()
	mt.Status = models.MatchAccepted
	r.IsMatched = true
	r.IsActive = false
	offerID := o.ID
	r.MatchedOfferID = &offerID
	r.UpdatedAt = now
	o.SeatsFilled += r.Passengers
	if o.SeatsFilled >= o.AvailableSeats {
		o.IsActive = false
	}
	o.UpdatedAt = now
	return nil
}

func (m *MemoryStore) RejectMatch(_ context.Context, matchID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if mt.Status != models.MatchPending {
		return ErrAlreadyDecided
	}
	mt.Status = models.MatchRejected
	return nil
}

func (m *MemoryStore) CompleteMatch(_ context.Context, matchID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if mt.Status != models.MatchAccepted {
		return ErrAlreadyDecided
	}
	mt.Status = models.MatchCompleted
	return nil
}
