package models

import "time"

// Intent is the classification of an inbound message.
type Intent string

const (
	IntentUnset       Intent = ""
	IntentRideRequest Intent = "ride_request"
	IntentRideOffer   Intent = "ride_offer"
	IntentOther       Intent = "other"
)

// RideDetails is the partially-filled ride record accumulated over a
// conversation. Nil means the field has not been provided yet; a nil field
// never overwrites an existing value during merge.
type RideDetails struct {
	PickupLocation *string  `json:"pickup_location"`
	DropLocation   *string  `json:"drop_location"`
	Route          []string `json:"route,omitempty"`
	Date           *string  `json:"date"`
	Time           *string  `json:"time"`
	Passengers     *int     `json:"passengers"`
	AvailableSeats *int     `json:"available_seats"`
	AdditionalInfo *string  `json:"additional_info"`
}

// String returns a pointer to s, for building RideDetails literals.
func String(s string) *string { return &s }

// Int returns a pointer to i.
func Int(i int) *int { return &i }

// ConversationMessage is one turn of a session transcript.
type ConversationMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RideRequest is a persisted, confirmed request from a passenger.
type RideRequest struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	PickupLocation string    `json:"pickup_location"`
	DropLocation   string    `json:"drop_location"`
	Route          []string  `json:"route,omitempty"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	Passengers     int       `json:"passengers"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	IsActive       bool      `json:"is_active"`
	IsMatched      bool      `json:"is_matched"`
	MatchedOfferID *int64    `json:"matched_offer_id,omitempty"`
}

// RideOffer is a persisted, confirmed offer from a driver.
type RideOffer struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	PickupLocation string    `json:"pickup_location"`
	DropLocation   string    `json:"drop_location"`
	Route          []string  `json:"route,omitempty"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	AvailableSeats int       `json:"available_seats"`
	SeatsFilled    int       `json:"seats_filled"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	IsActive       bool      `json:"is_active"`
}

// RemainingSeats reports the seats still open on the offer.
func (o *RideOffer) RemainingSeats() int { return o.AvailableSeats - o.SeatsFilled }

type MatchType string

const (
	MatchExact        MatchType = "exact"
	MatchExactRoute   MatchType = "exact_route"
	MatchPartialRoute MatchType = "partial_route"
	MatchNone         MatchType = "no_match"
)

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchAccepted  MatchStatus = "accepted"
	MatchRejected  MatchStatus = "rejected"
	MatchCompleted MatchStatus = "completed"
)

// Match is a scored pairing of one request and one offer.
type Match struct {
	ID        int64       `json:"id"`
	RequestID int64       `json:"request_id"`
	OfferID   int64       `json:"offer_id"`
	MatchType MatchType   `json:"match_type"`
	Score     float64     `json:"match_score"`
	Status    MatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Candidate is one matching-engine result before persistence. Offer is set
// when matching a request against the offer pool; Request is set for the
// reverse direction.
type Candidate struct {
	Offer          *RideOffer   `json:"offer,omitempty"`
	Request        *RideRequest `json:"request,omitempty"`
	MatchType      MatchType    `json:"match_type"`
	LocationScore  float64      `json:"location_score"`
	TimeScore      float64      `json:"time_score"`
	OverallScore   float64      `json:"overall_score"`
	RemainingSeats int          `json:"remaining_seats"`
}

// InboundMessage is an incoming chat message from the webhook or the
// message topic.
type InboundMessage struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	Body       string `json:"body"`
	MessageSID string `json:"message_sid,omitempty"`
}

// NextAction values returned to callers of ProcessMessage.
const (
	ActionAwaitingIntent       = "awaiting_intent"
	ActionAwaitingDetails      = "awaiting_details"
	ActionAwaitingConfirmation = "awaiting_confirmation"
	ActionCompleted            = "completed"
)

// MatchSummary is the caller-facing view of a stored match.
type MatchSummary struct {
	MatchID        int64     `json:"match_id"`
	MatchType      MatchType `json:"match_type"`
	Score          float64   `json:"score"`
	Pickup         string    `json:"pickup"`
	Drop           string    `json:"drop"`
	Route          []string  `json:"route,omitempty"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	RemainingSeats int       `json:"remaining_seats"`
}

// Reply is the outcome of processing one inbound message.
type Reply struct {
	Intent        Intent         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	Details       RideDetails    `json:"details"`
	MissingFields []string       `json:"missing_fields"`
	IsComplete    bool           `json:"is_complete"`
	Response      string         `json:"response"`
	NextAction    string         `json:"next_action"`
	Matches       []MatchSummary `json:"matches,omitempty"`
}
