package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/chat2carpool/internal/models"
)

// KeywordClassifier is the deterministic intent classifier used when the
// oracle is unavailable or unconvincing.
type KeywordClassifier struct{}

var (
	requestKeywords = []string{"need", "want", "looking for", "require", "going to", "going from", "take me", "anyone going"}
	offerKeywords   = []string{"offering", "have space", "empty seat", "can take", "available seat", "driving", "have room", "have seats"}
)

func (KeywordClassifier) Classify(_ context.Context, message string) (Classification, error) {
	lower := strings.ToLower(message)
	for _, kw := range offerKeywords {
		if strings.Contains(lower, kw) {
			return Classification{Intent: models.IntentRideOffer, Confidence: 0.8, Reasoning: "offer keyword: " + kw}, nil
		}
	}
	for _, kw := range requestKeywords {
		if strings.Contains(lower, kw) {
			return Classification{Intent: models.IntentRideRequest, Confidence: 0.8, Reasoning: "request keyword: " + kw}, nil
		}
	}
	return Classification{Intent: models.IntentOther, Confidence: 0.5, Reasoning: "no keyword matched"}, nil
}

// RegexExtractor is the rule-based field extractor. It recognizes clock
// times and day-period words, relative dates, passenger/seat counts,
// "from X to Y" location phrases and arrow/dash-separated route lists.
type RegexExtractor struct{}

var (
	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{1,2}:\d{2}\s*(?:am|pm))\b`),
		regexp.MustCompile(`\b(\d{1,2}\s*(?:am|pm))\b`),
		regexp.MustCompile(`\b(morning|afternoon|evening|noon|night)\b`),
	}
	countPattern  = regexp.MustCompile(`\b(\d+)\s*(?:people|person|passengers?|seats?)\b`)
	fromToPattern = regexp.MustCompile(`from\s+(.+?)\s+to\s+(.+?)(?:\s+(?:at|on|by|around|for|today|tomorrow|tonight)\b|[,.!]|$)`)
	toPattern     = regexp.MustCompile(`\bto\s+(\S+)`)
	routePrefix   = regexp.MustCompile(`(?i)route\s*:\s*`)
	routeSplit    = regexp.MustCompile(`\s*(?:->|→|–|—)\s*`)
)

var dateKeywords = []string{"today", "tomorrow", "tonight"}

func (RegexExtractor) Extract(_ context.Context, req Request) (models.RideDetails, error) {
	var d models.RideDetails
	lower := strings.ToLower(req.Message)

	for _, p := range timePatterns {
		if m := p.FindStringSubmatch(lower); m != nil {
			d.Time = models.String(m[1])
			break
		}
	}

	for _, kw := range dateKeywords {
		if strings.Contains(lower, kw) {
			d.Date = models.String(kw)
			break
		}
	}

	if m := countPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			switch req.Intent {
			case models.IntentRideOffer:
				d.AvailableSeats = models.Int(n)
			default:
				d.Passengers = models.Int(n)
			}
		}
	}

	if route := parseRoute(req.Message); len(route) >= 2 {
		d.Route = route
	} else if m := fromToPattern.FindStringSubmatch(lower); m != nil {
		d.PickupLocation = models.String(strings.TrimSpace(m[1]))
		d.DropLocation = models.String(strings.TrimSpace(m[2]))
	} else if m := toPattern.FindStringSubmatch(lower); m != nil {
		d.DropLocation = models.String(strings.TrimSpace(m[1]))
	}

	return d, nil
}

// parseRoute pulls an ordered stop list out of "Route: A – B – C" or
// "A -> B -> C" style text. Fewer than two stops is not a route.
func parseRoute(message string) []string {
	text := routePrefix.ReplaceAllString(message, "")
	if !routeSplit.MatchString(text) {
		return nil
	}
	parts := routeSplit.Split(text, -1)
	stops := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stops = append(stops, s)
		}
	}
	if len(stops) < 2 {
		return nil
	}
	return stops
}
