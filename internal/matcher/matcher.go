// Package matcher pairs ride requests with ride offers. Matching is
// deliberately name/string based: locations compare after normalization,
// routes align by stop-name containment, and times bucket into coarse
// periods. No geographic distance is involved.
package matcher

import (
	"math"
	"sort"
	"strings"

	"github.com/example/chat2carpool/internal/models"
)

const (
	locationWeight = 0.7
	timeWeight     = 0.3
)

// Normalize prepares a location name for comparison: lowercase, trimmed,
// double spaces collapsed.
func Normalize(location string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(location)), "  ", " ")
}

func exactMatch(req *models.RideRequest, offer *models.RideOffer) bool {
	return Normalize(req.PickupLocation) == Normalize(offer.PickupLocation) &&
		Normalize(req.DropLocation) == Normalize(offer.DropLocation)
}

// RouteAlignment checks whether the request's pickup and drop lie along the
// offer's route, in order. Offers without a usable route fall back to exact
// pickup/drop matching.
func RouteAlignment(req *models.RideRequest, offer *models.RideOffer) (bool, models.MatchType, float64) {
	if len(offer.Route) < 2 {
		if exactMatch(req, offer) {
			return true, models.MatchExact, 1.0
		}
		return false, models.MatchNone, 0.0
	}

	route := make([]string, len(offer.Route))
	for i, stop := range offer.Route {
		route[i] = Normalize(stop)
	}
	pickup := Normalize(req.PickupLocation)
	drop := Normalize(req.DropLocation)

	pickupIdx := findStop(route, pickup)
	dropIdx := findStop(route, drop)
	if pickupIdx < 0 || dropIdx < 0 || pickupIdx >= dropIdx {
		return false, models.MatchNone, 0.0
	}

	if pickupIdx == 0 && dropIdx == len(route)-1 {
		return true, models.MatchExactRoute, 1.0
	}

	// Longer covered segments score closer to a full-route match.
	coverage := float64(dropIdx-pickupIdx) / float64(len(route)-1)
	return true, models.MatchPartialRoute, 0.7 + 0.3*coverage
}

// findStop returns the first route index whose stop name contains, or is
// contained in, the wanted location.
func findStop(route []string, wanted string) int {
	for i, stop := range route {
		if strings.Contains(stop, wanted) || strings.Contains(wanted, stop) {
			return i
		}
	}
	return -1
}

var timePeriods = []struct {
	name     string
	keywords []string
}{
	{"morning", []string{"morning", "am", "6am", "7am", "8am", "9am", "10am"}},
	{"afternoon", []string{"afternoon", "12pm", "1pm", "2pm", "3pm", "4pm"}},
	{"evening", []string{"evening", "5pm", "6pm", "7pm", "8pm", "9pm"}},
}

// TimeScore rates how well two free-text times agree. Time never hard-fails
// a match; an unrecognized pair still scores the 0.6 floor.
func TimeScore(requestTime, offerTime string) float64 {
	req := strings.TrimSpace(strings.ToLower(requestTime))
	off := strings.TrimSpace(strings.ToLower(offerTime))

	if req == off {
		return 1.0
	}
	for _, p := range timePeriods {
		if containsAny(req, p.keywords) && containsAny(off, p.keywords) {
			return 0.8
		}
	}
	return 0.6
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func overallScore(locationScore, timeScore float64) float64 {
	return math.Round((locationWeight*locationScore+timeWeight*timeScore)*1000) / 1000
}

// FindMatches scores every compatible offer for the request and returns the
// candidates sorted best-first. Ties keep encounter order; there is no
// secondary ranking key.
func FindMatches(req *models.RideRequest, offers []*models.RideOffer) []models.Candidate {
	var out []models.Candidate
	for _, offer := range offers {
		if req.Date != offer.Date {
			continue
		}
		remaining := offer.RemainingSeats()
		if remaining < req.Passengers {
			continue
		}
		aligned, matchType, locScore := RouteAlignment(req, offer)
		if !aligned {
			continue
		}
		timeScore := TimeScore(req.Time, offer.Time)
		out = append(out, models.Candidate{
			Offer:          offer,
			MatchType:      matchType,
			LocationScore:  locScore,
			TimeScore:      timeScore,
			OverallScore:   overallScore(locScore, timeScore),
			RemainingSeats: remaining,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OverallScore > out[j].OverallScore })
	return out
}

// FindRequestsForOffer runs the reverse direction: a freshly confirmed offer
// against the pool of pending requests.
func FindRequestsForOffer(offer *models.RideOffer, requests []*models.RideRequest) []models.Candidate {
	var out []models.Candidate
	for _, req := range requests {
		if req.Date != offer.Date {
			continue
		}
		remaining := offer.RemainingSeats()
		if remaining < req.Passengers {
			continue
		}
		aligned, matchType, locScore := RouteAlignment(req, offer)
		if !aligned {
			continue
		}
		timeScore := TimeScore(req.Time, offer.Time)
		out = append(out, models.Candidate{
			Request:        req,
			MatchType:      matchType,
			LocationScore:  locScore,
			TimeScore:      timeScore,
			OverallScore:   overallScore(locScore, timeScore),
			RemainingSeats: remaining,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OverallScore > out[j].OverallScore })
	return out
}
