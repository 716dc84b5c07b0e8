package merge

import (
	"reflect"
	"testing"

	"github.com/example/chat2carpool/internal/models"
)

func TestMergeCompletenessMatchesMissing(t *testing.T) {
	cases := []struct {
		name     string
		intent   models.Intent
		existing models.RideDetails
		incoming models.RideDetails
		missing  []string
		complete bool
	}{
		{
			name:    "empty request",
			intent:  models.IntentRideRequest,
			missing: []string{FieldPickup, FieldDrop, FieldDate, FieldTime},
		},
		{
			name:   "full request",
			intent: models.IntentRideRequest,
			incoming: models.RideDetails{
				PickupLocation: models.String("DHA"),
				DropLocation:   models.String("Airport"),
				Date:           models.String("today"),
				Time:           models.String("5pm"),
				Passengers:     models.Int(2),
			},
			complete: true,
		},
		{
			name:   "offer missing seats",
			intent: models.IntentRideOffer,
			incoming: models.RideDetails{
				PickupLocation: models.String("Clifton"),
				DropLocation:   models.String("Saddar"),
				Date:           models.String("tomorrow"),
				Time:           models.String("9am"),
			},
			missing: []string{FieldAvailableSeats},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, missing, complete := Merge(tc.intent, tc.existing, tc.incoming, ExplicitWins)
			if !reflect.DeepEqual(missing, tc.missing) {
				t.Fatalf("missing = %v, want %v", missing, tc.missing)
			}
			if complete != tc.complete {
				t.Fatalf("complete = %v, want %v", complete, tc.complete)
			}
			if complete != (len(missing) == 0) {
				t.Fatalf("completeness invariant violated: complete=%v missing=%v", complete, missing)
			}
		})
	}
}

func TestMergeEmptyPartialIsNoOp(t *testing.T) {
	existing := models.RideDetails{
		PickupLocation: models.String("DHA"),
		DropLocation:   models.String("Airport"),
		Route:          []string{"DHA", "Korangi", "Airport"},
		Date:           models.String("today"),
		Time:           models.String("5pm"),
		Passengers:     models.Int(2),
	}
	merged, _, _ := Merge(models.IntentRideRequest, existing, models.RideDetails{}, ExplicitWins)
	if !reflect.DeepEqual(merged, existing) {
		t.Fatalf("no-op merge changed details: %+v vs %+v", merged, existing)
	}
}

func TestMergeLastWriteWinsPerField(t *testing.T) {
	existing := models.RideDetails{
		PickupLocation: models.String("DHA"),
		Date:           models.String("today"),
	}
	incoming := models.RideDetails{PickupLocation: models.String("Clifton")}
	merged, _, _ := Merge(models.IntentRideRequest, existing, incoming, ExplicitWins)
	if got := *merged.PickupLocation; got != "Clifton" {
		t.Fatalf("pickup = %q, want Clifton", got)
	}
	if got := *merged.Date; got != "today" {
		t.Fatalf("date = %q, want today (nil incoming must not clear)", got)
	}
}

func TestMergeRouteReplacesNotAppends(t *testing.T) {
	existing := models.RideDetails{Route: []string{"A", "B"}}
	incoming := models.RideDetails{Route: []string{"C", "D", "E"}}
	merged, _, _ := Merge(models.IntentRideOffer, existing, incoming, ExplicitWins)
	if !reflect.DeepEqual(merged.Route, []string{"C", "D", "E"}) {
		t.Fatalf("route = %v, want replacement", merged.Route)
	}
}

func TestMergeRouteInfersEndpoints(t *testing.T) {
	incoming := models.RideDetails{Route: []string{"FAST", "Drigh Road", "Sohrab Goth"}}
	merged, _, _ := Merge(models.IntentRideOffer, models.RideDetails{}, incoming, ExplicitWins)
	if *merged.PickupLocation != "FAST" || *merged.DropLocation != "Sohrab Goth" {
		t.Fatalf("inferred endpoints = %v/%v", merged.PickupLocation, merged.DropLocation)
	}
}

func TestMergeExplicitEndpointBeatsRouteByDefault(t *testing.T) {
	incoming := models.RideDetails{
		Route:          []string{"FAST", "Drigh Road", "Sohrab Goth"},
		PickupLocation: models.String("Millennium"),
	}
	merged, _, _ := Merge(models.IntentRideOffer, models.RideDetails{}, incoming, ExplicitWins)
	if *merged.PickupLocation != "Millennium" {
		t.Fatalf("pickup = %q, want explicit Millennium", *merged.PickupLocation)
	}
	if *merged.DropLocation != "Sohrab Goth" {
		t.Fatalf("drop = %q, want inferred Sohrab Goth", *merged.DropLocation)
	}

	merged, _, _ = Merge(models.IntentRideOffer, models.RideDetails{}, incoming, RouteWins)
	if *merged.PickupLocation != "FAST" {
		t.Fatalf("pickup = %q, want route endpoint under RouteWins", *merged.PickupLocation)
	}
}

func TestMergePassengerDefault(t *testing.T) {
	incoming := models.RideDetails{
		PickupLocation: models.String("DHA"),
		DropLocation:   models.String("Airport"),
		Date:           models.String("today"),
		Time:           models.String("5pm"),
	}
	merged, missing, complete := Merge(models.IntentRideRequest, models.RideDetails{}, incoming, ExplicitWins)
	if merged.Passengers == nil || *merged.Passengers != 1 {
		t.Fatalf("passengers = %v, want default 1", merged.Passengers)
	}
	if !complete || len(missing) != 0 {
		t.Fatalf("default must count toward completeness, missing=%v", missing)
	}

	// Offers get no seat default.
	_, missing, complete = Merge(models.IntentRideOffer, models.RideDetails{}, incoming, ExplicitWins)
	if complete || missing[len(missing)-1] != FieldAvailableSeats {
		t.Fatalf("offer should still miss seats, missing=%v", missing)
	}
}

func TestNextPromptPriority(t *testing.T) {
	missing := []string{FieldDrop, FieldTime, FieldPassengers}
	if q := NextPrompt(missing); q != "Where do you need to go?" {
		t.Fatalf("prompt = %q", q)
	}
	if q := NextPrompt(nil); q == "" {
		t.Fatal("expected generic fallback prompt")
	}
}
