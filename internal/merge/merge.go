// Package merge implements the field-merge and completeness engine: a pure
// function that folds newly extracted ride details into the session-held
// record, applies defaults, and reports which required fields are still
// missing for the current intent.
package merge

import (
	"github.com/example/chat2carpool/internal/models"
)

// Field names as exposed to callers and the extraction oracle.
const (
	FieldPickup         = "pickup_location"
	FieldDrop           = "drop_location"
	FieldDate           = "date"
	FieldTime           = "time"
	FieldPassengers     = "passengers"
	FieldAvailableSeats = "available_seats"
)

// EndpointPolicy controls what happens when a single update supplies both a
// route and an explicit pickup or drop that contradicts the route's
// endpoints. The source system has no documented precedence, so both
// behaviors are kept selectable.
type EndpointPolicy int

const (
	// ExplicitWins keeps an explicitly stated pickup/drop over the
	// route-inferred endpoint. Default.
	ExplicitWins EndpointPolicy = iota
	// RouteWins always re-derives pickup/drop from the route endpoints.
	RouteWins
)

// Merge folds incoming into existing with last-write-wins per field, infers
// pickup/drop from a newly supplied route, applies the passengers default
// for ride requests, and recomputes the missing required fields.
//
// The returned missing list is ordered by clarification priority:
// pickup, drop, date, time, passengers, available_seats.
func Merge(intent models.Intent, existing, incoming models.RideDetails, policy EndpointPolicy) (models.RideDetails, []string, bool) {
	merged := existing

	if incoming.PickupLocation != nil {
		merged.PickupLocation = incoming.PickupLocation
	}
	if incoming.DropLocation != nil {
		merged.DropLocation = incoming.DropLocation
	}
	if len(incoming.Route) > 0 {
		// Routes replace wholesale, never concatenate.
		merged.Route = incoming.Route
	}
	if incoming.Date != nil {
		merged.Date = incoming.Date
	}
	if incoming.Time != nil {
		merged.Time = incoming.Time
	}
	if incoming.Passengers != nil {
		merged.Passengers = incoming.Passengers
	}
	if incoming.AvailableSeats != nil {
		merged.AvailableSeats = incoming.AvailableSeats
	}
	if incoming.AdditionalInfo != nil {
		merged.AdditionalInfo = incoming.AdditionalInfo
	}

	// A newly supplied route implies its endpoints. An explicit pickup/drop
	// in the same update wins unless the policy says otherwise.
	if len(incoming.Route) >= 2 {
		if policy == RouteWins || incoming.PickupLocation == nil {
			merged.PickupLocation = models.String(incoming.Route[0])
		}
		if policy == RouteWins || incoming.DropLocation == nil {
			merged.DropLocation = models.String(incoming.Route[len(incoming.Route)-1])
		}
	}

	if intent == models.IntentRideRequest && merged.Passengers == nil {
		merged.Passengers = models.Int(1)
	}

	missing := missingFields(intent, merged)
	return merged, missing, len(missing) == 0
}

func missingFields(intent models.Intent, d models.RideDetails) []string {
	var missing []string
	if d.PickupLocation == nil {
		missing = append(missing, FieldPickup)
	}
	if d.DropLocation == nil {
		missing = append(missing, FieldDrop)
	}
	if d.Date == nil {
		missing = append(missing, FieldDate)
	}
	if d.Time == nil {
		missing = append(missing, FieldTime)
	}
	switch intent {
	case models.IntentRideRequest:
		if d.Passengers == nil {
			missing = append(missing, FieldPassengers)
		}
	case models.IntentRideOffer:
		if d.AvailableSeats == nil {
			missing = append(missing, FieldAvailableSeats)
		}
	}
	return missing
}

var prompts = map[string]string{
	FieldPickup:         "Where will you be starting from?",
	FieldDrop:           "Where do you need to go?",
	FieldDate:           "When do you need this ride? (e.g., today, tomorrow)",
	FieldTime:           "What time do you need the ride?",
	FieldPassengers:     "How many passengers will be traveling?",
	FieldAvailableSeats: "How many seats do you have available?",
}

// NextPrompt returns the clarifying question for the highest-priority
// missing field. The priority is fixed and never depends on extraction
// confidence; Merge already emits missing fields in priority order.
func NextPrompt(missing []string) string {
	for _, f := range missing {
		if q, ok := prompts[f]; ok {
			return q
		}
	}
	return "Could you please provide more details about your ride?"
}
