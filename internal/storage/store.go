// Package storage persists confirmed ride requests, offers and matches.
// Conversational state never lands here; only confirmed entities do.
package storage

import (
	"context"
	"errors"

	"github.com/example/chat2carpool/internal/models"
)

var (
	// ErrNotFound reports a missing request, offer or match.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyDecided reports a match that is no longer pending.
	ErrAlreadyDecided = errors.New("match already decided")
	// ErrInsufficientCapacity reports an offer without enough open seats.
	ErrInsufficientCapacity = errors.New("not enough seats remaining")
)

// PendingMatch joins a stored match with both of its sides.
type PendingMatch struct {
	Match   models.Match
	Request *models.RideRequest
	Offer   *models.RideOffer
}

// RideStore is the persistence surface consumed by the core. Save methods
// assign IDs and timestamps on the passed record. ConfirmMatch is the one
// transactional compound operation: the match status, both request flags
// and the offer seat count change together or not at all, and two confirms
// racing on the last seat resolve with exactly one winner.
type RideStore interface {
	SaveRequest(ctx context.Context, r *models.RideRequest) error
	SaveOffer(ctx context.Context, o *models.RideOffer) error
	GetRequest(ctx context.Context, id int64) (*models.RideRequest, error)
	GetOffer(ctx context.Context, id int64) (*models.RideOffer, error)

	// ListActiveOffers returns active offers with at least one open seat,
	// optionally filtered by exact date string.
	ListActiveOffers(ctx context.Context, date string) ([]*models.RideOffer, error)
	// ListActiveRequests returns active, unmatched requests, optionally
	// filtered by exact date string.
	ListActiveRequests(ctx context.Context, date string) ([]*models.RideRequest, error)

	SaveMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id int64) (*models.Match, error)
	ListPendingMatchesForUser(ctx context.Context, userID string) ([]PendingMatch, error)

	ConfirmMatch(ctx context.Context, matchID int64) error
	RejectMatch(ctx context.Context, matchID int64) error
	CompleteMatch(ctx context.Context, matchID int64) error
}
