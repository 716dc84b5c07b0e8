// Package lifecycle owns match status transitions. Confirmation adjusts
// seat occupancy and activation flags on both sides of the match in one
// storage transaction; this package adds the authorization and status
// checks in front of it and the best-effort payment hold behind it.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/chat2carpool/internal/models"
	"github.com/example/chat2carpool/internal/observability"
	"github.com/example/chat2carpool/internal/storage"
)

var (
	ErrNotFound             = storage.ErrNotFound
	ErrAlreadyConfirmed     = storage.ErrAlreadyDecided
	ErrInsufficientCapacity = storage.ErrInsufficientCapacity
	ErrUnauthorized         = errors.New("user is not a participant in this match")
)

// PaymentHolder places and settles seat-fare holds, the manual-capture
// payment-intent flow: hold when the match is accepted, capture when the
// ride completes.
type PaymentHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
}

// Manager coordinates confirm/reject/complete on stored matches.
type Manager struct {
	Store    storage.RideStore
	Payments PaymentHolder // optional
	// SeatFare is the per-passenger hold amount in the smallest currency
	// unit. Zero disables holds even when Payments is set.
	SeatFare int64
	Currency string
	Logger   *slog.Logger

	mu    sync.Mutex
	holds map[int64]string // matchID -> payment intent id
}

// Confirmation is the state of a match after a successful confirm.
type Confirmation struct {
	Match   *models.Match
	Request *models.RideRequest
	Offer   *models.RideOffer
}

// Confirm accepts the match on behalf of actingUserID. Checks run in a
// fixed order: existence, authorization, prior decision, capacity. The
// five-field mutation (match status, request matched/active/offer-ref,
// offer seat count and activation) is delegated to the store transaction,
// which re-checks status and capacity; of two confirms racing on the last
// seat, exactly one returns nil and the other ErrInsufficientCapacity.
func (m *Manager) Confirm(ctx context.Context, matchID int64, actingUserID string) (*Confirmation, error) {
	match, req, offer, err := m.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if req.UserID != actingUserID && offer.UserID != actingUserID {
		return nil, ErrUnauthorized
	}
	if match.Status != models.MatchPending {
		return nil, ErrAlreadyConfirmed
	}
	if offer.RemainingSeats() < req.Passengers {
		return nil, ErrInsufficientCapacity
	}

	if err := m.Store.ConfirmMatch(ctx, matchID); err != nil {
		observability.ObserveStoreOp("confirm_match", err)
		return nil, err
	}
	observability.ObserveStoreOp("confirm_match", nil)

	m.holdFare(ctx, matchID, req)

	match, req, offer, err = m.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return &Confirmation{Match: match, Request: req, Offer: offer}, nil
}

// Reject declines the match. No seat or activation side effects; rejecting
// a match that is no longer pending returns ErrAlreadyConfirmed.
func (m *Manager) Reject(ctx context.Context, matchID int64, actingUserID string) error {
	match, req, offer, err := m.load(ctx, matchID)
	if err != nil {
		return err
	}
	if req.UserID != actingUserID && offer.UserID != actingUserID {
		return ErrUnauthorized
	}
	if match.Status != models.MatchPending {
		return ErrAlreadyConfirmed
	}
	if err := m.Store.RejectMatch(ctx, matchID); err != nil {
		observability.ObserveStoreOp("reject_match", err)
		return err
	}
	observability.ObserveStoreOp("reject_match", nil)
	return nil
}

// Complete marks an accepted match finished and captures the fare hold.
func (m *Manager) Complete(ctx context.Context, matchID int64, actingUserID string) error {
	_, req, offer, err := m.load(ctx, matchID)
	if err != nil {
		return err
	}
	if req.UserID != actingUserID && offer.UserID != actingUserID {
		return ErrUnauthorized
	}
	if err := m.Store.CompleteMatch(ctx, matchID); err != nil {
		observability.ObserveStoreOp("complete_match", err)
		return err
	}
	observability.ObserveStoreOp("complete_match", nil)
	m.captureFare(ctx, matchID)
	return nil
}

// UserMatches returns every pending match where the user owns either side,
// summarized from the counterpart's perspective with live remaining seats.
func (m *Manager) UserMatches(ctx context.Context, userID string) ([]models.MatchSummary, error) {
	pending, err := m.Store.ListPendingMatchesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.MatchSummary, 0, len(pending))
	for _, pm := range pending {
		out = append(out, models.MatchSummary{
			MatchID:        pm.Match.ID,
			MatchType:      pm.Match.MatchType,
			Score:          pm.Match.Score,
			Pickup:         pm.Offer.PickupLocation,
			Drop:           pm.Offer.DropLocation,
			Route:          pm.Offer.Route,
			Date:           pm.Offer.Date,
			Time:           pm.Offer.Time,
			RemainingSeats: pm.Offer.RemainingSeats(),
		})
	}
	return out, nil
}

func (m *Manager) load(ctx context.Context, matchID int64) (*models.Match, *models.RideRequest, *models.RideOffer, error) {
	match, err := m.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, nil, err
	}
	req, err := m.Store.GetRequest(ctx, match.RequestID)
	if err != nil {
		return nil, nil, nil, err
	}
	offer, err := m.Store.GetOffer(ctx, match.OfferID)
	if err != nil {
		return nil, nil, nil, err
	}
	return match, req, offer, nil
}

// holdFare places the seat-fare hold after the transaction commits.
// Payment failures never unwind a confirmed match.
func (m *Manager) holdFare(ctx context.Context, matchID int64, req *models.RideRequest) {
	if m.Payments == nil || m.SeatFare <= 0 {
		return
	}
	amount := m.SeatFare * int64(req.Passengers)
	id, err := m.Payments.Hold(ctx, amount, m.Currency, req.UserID)
	if err != nil {
		m.Logger.Warn("seat fare hold failed", "match_id", matchID, "error", err)
		return
	}
	m.mu.Lock()
	if m.holds == nil {
		m.holds = make(map[int64]string)
	}
	m.holds[matchID] = id
	m.mu.Unlock()
}

func (m *Manager) captureFare(ctx context.Context, matchID int64) {
	if m.Payments == nil {
		return
	}
	m.mu.Lock()
	id, ok := m.holds[matchID]
	if ok {
		delete(m.holds, matchID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.Payments.Capture(ctx, id); err != nil {
		m.Logger.Warn("seat fare capture failed", "match_id", matchID, "error", err)
	}
}
