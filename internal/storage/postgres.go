package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/chat2carpool/internal/models"
)

// PostgresStore backs RideStore with Postgres. The confirm transaction uses
// row locks plus a conditional seat update, so concurrent confirms racing
// on the last seat serialize and exactly one wins.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// DB exposes the underlying handle for migrations and health checks.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func routeJSON(route []string) (any, error) {
	if len(route) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(route)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func parseRoute(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var route []string
	if err := json.Unmarshal(raw, &route); err != nil {
		return nil
	}
	return route
}

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.RideRequest) error {
	route, err := routeJSON(r.Route)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO ride_requests
			(session_id, user_id, pickup_location, drop_location, route, date, time, passengers, additional_info, created_at, updated_at, is_active, is_matched)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10,TRUE,FALSE)
		RETURNING id`,
		r.SessionID, r.UserID, r.PickupLocation, r.DropLocation, route, r.Date, r.Time, r.Passengers, r.AdditionalInfo, now,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	r.CreatedAt, r.UpdatedAt, r.IsActive = now, now, true
	return nil
}

func (p *PostgresStore) SaveOffer(ctx context.Context, o *models.RideOffer) error {
	route, err := routeJSON(o.Route)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO ride_offers
			(session_id, user_id, pickup_location, drop_location, route, date, time, available_seats, seats_filled, additional_info, created_at, updated_at, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$10,$10,TRUE)
		RETURNING id`,
		o.SessionID, o.UserID, o.PickupLocation, o.DropLocation, route, o.Date, o.Time, o.AvailableSeats, o.AdditionalInfo, now,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("save offer: %w", err)
	}
	o.CreatedAt, o.UpdatedAt, o.IsActive = now, now, true
	return nil
}

const requestColumns = `id, session_id, user_id, pickup_location, drop_location, route, date, time, passengers, additional_info, created_at, updated_at, is_active, is_matched, matched_with`

func scanRequest(row interface{ Scan(...any) error }) (*models.RideRequest, error) {
	var r models.RideRequest
	var route []byte
	var info sql.NullString
	var matched sql.NullInt64
	err := row.Scan(&r.ID, &r.SessionID, &r.UserID, &r.PickupLocation, &r.DropLocation, &route,
		&r.Date, &r.Time, &r.Passengers, &info, &r.CreatedAt, &r.UpdatedAt, &r.IsActive, &r.IsMatched, &matched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Route = parseRoute(route)
	r.AdditionalInfo = info.String
	if matched.Valid {
		r.MatchedOfferID = &matched.Int64
	}
	return &r, nil
}

const offerColumns = `id, session_id, user_id, pickup_location, drop_location, route, date, time, available_seats, seats_filled, additional_info, created_at, updated_at, is_active`

func scanOffer(row interface{ Scan(...any) error }) (*models.RideOffer, error) {
	var o models.RideOffer
	var route []byte
	var info sql.NullString
	err := row.Scan(&o.ID, &o.SessionID, &o.UserID, &o.PickupLocation, &o.DropLocation, &route,
		&o.Date, &o.Time, &o.AvailableSeats, &o.SeatsFilled, &info, &o.CreatedAt, &o.UpdatedAt, &o.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Route = parseRoute(route)
	o.AdditionalInfo = info.String
	return &o, nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id int64) (*models.RideRequest, error) {
	return scanRequest(p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id = $1`, id))
}

func (p *PostgresStore) GetOffer(ctx context.Context, id int64) (*models.RideOffer, error) {
	return scanOffer(p.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM ride_offers WHERE id = $1`, id))
}

func (p *PostgresStore) ListActiveOffers(ctx context.Context, date string) ([]*models.RideOffer, error) {
	q := `SELECT ` + offerColumns + ` FROM ride_offers WHERE is_active AND seats_filled < available_seats`
	args := []any{}
	if date != "" {
		q += ` AND date = $1`
		args = append(args, date)
	}
	q += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RideOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListActiveRequests(ctx context.Context, date string) ([]*models.RideRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM ride_requests WHERE is_active AND NOT is_matched`
	args := []any{}
	if date != "" {
		q += ` AND date = $1`
		args = append(args, date)
	}
	q += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RideRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveMatch(ctx context.Context, m *models.Match) error {
	if m.Status == "" {
		m.Status = models.MatchPending
	}
	now := time.Now().UTC()
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO matches (request_id, offer_id, match_type, match_score, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		m.RequestID, m.OfferID, m.MatchType, m.Score, m.Status, now,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("save match: %w", err)
	}
	m.CreatedAt = now
	return nil
}

func (p *PostgresStore) GetMatch(ctx context.Context, id int64) (*models.Match, error) {
	var m models.Match
	err := p.db.QueryRowContext(ctx, `
		SELECT id, request_id, offer_id, match_type, match_score, status, created_at
		FROM matches WHERE id = $1`, id,
	).Scan(&m.ID, &m.RequestID, &m.OfferID, &m.MatchType, &m.Score, &m.Status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PostgresStore) ListPendingMatchesForUser(ctx context.Context, userID string) ([]PendingMatch, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.request_id, m.offer_id, m.match_type, m.match_score, m.status, m.created_at
		FROM matches m
		JOIN ride_requests r ON r.id = m.request_id
		JOIN ride_offers o ON o.id = m.offer_id
		WHERE m.status = 'pending' AND (r.user_id = $1 OR o.user_id = $1)
		ORDER BY m.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingMatch
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.ID, &m.RequestID, &m.OfferID, &m.MatchType, &m.Score, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, PendingMatch{Match: m})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Request, err = p.GetRequest(ctx, out[i].Match.RequestID); err != nil {
			return nil, err
		}
		if out[i].Offer, err = p.GetOffer(ctx, out[i].Match.OfferID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *PostgresStore) ConfirmMatch(ctx context.Context, matchID int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status models.MatchStatus
	var requestID, offerID int64
	err = tx.QueryRowContext(ctx, `
		SELECT status, request_id, offer_id FROM matches WHERE id = $1 FOR UPDATE`, matchID,
	).Scan(&status, &requestID, &offerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != models.MatchPending {
		return ErrAlreadyDecided
	}

	var passengers int
	err = tx.QueryRowContext(ctx, `
		SELECT passengers FROM ride_requests WHERE id = $1 FOR UPDATE`, requestID,
	).Scan(&passengers)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	// Seat allocation is the race: the conditional update claims seats only
	// while enough remain, so the losing confirm sees zero rows.
	res, err := tx.ExecContext(ctx, `
		UPDATE ride_offers
		SET seats_filled = seats_filled + $1,
		    is_active = (seats_filled + $1 < available_seats),
		    updated_at = NOW()
		WHERE id = $2 AND available_seats - seats_filled >= $1`, passengers, offerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT TRUE FROM ride_offers WHERE id = $1`, offerID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return ErrInsufficientCapacity
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ride_requests
		SET is_matched = TRUE, is_active = FALSE, matched_with = $1, updated_at = NOW()
		WHERE id = $2`, offerID, requestID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE matches SET status = 'accepted' WHERE id = $1`, matchID); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) RejectMatch(ctx context.Context, matchID int64) error {
	return p.transitionMatch(ctx, matchID, models.MatchPending, models.MatchRejected)
}

func (p *PostgresStore) CompleteMatch(ctx context.Context, matchID int64) error {
	return p.transitionMatch(ctx, matchID, models.MatchAccepted, models.MatchCompleted)
}

func (p *PostgresStore) transitionMatch(ctx context.Context, matchID int64, from, to models.MatchStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE matches SET status = $1 WHERE id = $2 AND status = $3`, to, matchID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetMatch(ctx, matchID); err != nil {
			return err
		}
		return ErrAlreadyDecided
	}
	return nil
}
