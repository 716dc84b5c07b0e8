package conversation

import (
	"fmt"
	"strings"

	"github.com/example/chat2carpool/internal/models"
)

const helpText = "Hi! I can help you share rides. Tell me if you need a ride " +
	"(e.g., 'I need a ride from DHA to Airport tomorrow at 5pm') or if you're " +
	"offering one (e.g., 'Going from Gulshan to Saddar at 9am, 3 seats free')."

// confirmationSummary renders the completed record back to the user for
// a yes/no sign-off.
func confirmationSummary(intent models.Intent, d models.RideDetails) string {
	var b strings.Builder
	if intent == models.IntentRideOffer {
		b.WriteString("Here's your ride offer:\n")
	} else {
		b.WriteString("Here's your ride request:\n")
	}
	fmt.Fprintf(&b, "  From: %s\n", deref(d.PickupLocation))
	fmt.Fprintf(&b, "  To: %s\n", deref(d.DropLocation))
	if len(d.Route) > 0 {
		fmt.Fprintf(&b, "  Route: %s\n", strings.Join(d.Route, " -> "))
	}
	fmt.Fprintf(&b, "  Date: %s\n", deref(d.Date))
	fmt.Fprintf(&b, "  Time: %s\n", deref(d.Time))
	if intent == models.IntentRideOffer {
		fmt.Fprintf(&b, "  Seats available: %d\n", derefInt(d.AvailableSeats, 1))
	} else {
		fmt.Fprintf(&b, "  Passengers: %d\n", derefInt(d.Passengers, 1))
	}
	if info := deref(d.AdditionalInfo); info != "" {
		fmt.Fprintf(&b, "  Notes: %s\n", info)
	}
	b.WriteString("Is this correct? (yes/no)")
	return b.String()
}

func requestSavedText(matches []models.MatchSummary) string {
	if len(matches) == 0 {
		return "Your ride request is saved. No drivers are going that way yet; I'll notify you as soon as one matches."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your ride request is saved. I found %d matching %s:\n",
		len(matches), plural(len(matches), "ride", "rides"))
	writeMatchList(&b, matches)
	b.WriteString("Reply 'accept <number>' to book a ride or 'reject <number>' to pass.")
	return b.String()
}

func offerSavedText(matches []models.MatchSummary) string {
	if len(matches) == 0 {
		return "Your ride offer is saved. No passengers need that route yet; I'll notify you as soon as someone matches."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your ride offer is saved. %d %s already %s your route:\n",
		len(matches), plural(len(matches), "passenger", "passengers"), plural(len(matches), "needs", "need"))
	writeMatchList(&b, matches)
	b.WriteString("Reply 'accept <number>' to take a passenger or 'reject <number>' to pass.")
	return b.String()
}

func writeMatchList(b *strings.Builder, matches []models.MatchSummary) {
	for _, m := range matches {
		fmt.Fprintf(b, "  [%d] %s to %s on %s at %s", m.MatchID, m.Pickup, m.Drop, m.Date, m.Time)
		if m.RemainingSeats > 0 {
			fmt.Fprintf(b, " (%d %s left)", m.RemainingSeats, plural(m.RemainingSeats, "seat", "seats"))
		}
		fmt.Fprintf(b, " - %.0f%% match\n", m.Score*100)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
