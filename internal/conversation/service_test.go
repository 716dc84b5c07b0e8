package conversation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/chat2carpool/internal/extract"
	"github.com/example/chat2carpool/internal/lifecycle"
	"github.com/example/chat2carpool/internal/models"
	"github.com/example/chat2carpool/internal/session"
	"github.com/example/chat2carpool/internal/storage"
)

type fixedClassifier struct {
	intent     models.Intent
	confidence float64
}

func (c fixedClassifier) Classify(context.Context, string) (extract.Classification, error) {
	return extract.Classification{Intent: c.intent, Confidence: c.confidence}, nil
}

// scriptedExtractor returns one canned result per call, holding on the
// last one once the script runs out.
type scriptedExtractor struct {
	steps []models.RideDetails
	i     int
}

func (e *scriptedExtractor) Extract(context.Context, extract.Request) (models.RideDetails, error) {
	d := e.steps[e.i]
	if e.i < len(e.steps)-1 {
		e.i++
	}
	return d, nil
}

type recordingNotifier struct {
	users    []string
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, userID, message string) error {
	n.users = append(n.users, userID)
	n.messages = append(n.messages, message)
	return nil
}

func newService(intent models.Intent, steps ...models.RideDetails) (*Service, *storage.MemoryStore, *recordingNotifier) {
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := &Service{
		Sessions:     session.NewStore(50),
		Classifier:   fixedClassifier{intent: intent, confidence: 0.9},
		Extractor:    &scriptedExtractor{steps: steps},
		Store:        store,
		Lifecycle:    &lifecycle.Manager{Store: store, Logger: logger},
		Notifier:     notifier,
		MatchesShown: 3,
		Logger:       logger,
	}
	return svc, store, notifier
}

func send(svc *Service, sessionID, userID, body string) models.Reply {
	return svc.ProcessMessage(context.Background(), models.InboundMessage{
		SessionID: sessionID, UserID: userID, Body: body,
	})
}

func TestRequestFlowEndToEnd(t *testing.T) {
	svc, store, _ := newService(models.IntentRideRequest,
		models.RideDetails{
			PickupLocation: models.String("DHA"),
			DropLocation:   models.String("Airport"),
		},
		models.RideDetails{
			Date: models.String("tomorrow"),
			Time: models.String("5pm"),
		},
	)

	r := send(svc, "s1", "alice", "I need a ride from DHA to Airport")
	if r.NextAction != models.ActionAwaitingDetails {
		t.Fatalf("next action = %s", r.NextAction)
	}
	if len(r.MissingFields) == 0 || r.MissingFields[0] != "date" {
		t.Fatalf("missing = %v, want date first", r.MissingFields)
	}

	r = send(svc, "s1", "alice", "tomorrow at 5pm")
	if r.NextAction != models.ActionAwaitingConfirmation {
		t.Fatalf("next action = %s", r.NextAction)
	}
	if !r.IsComplete {
		t.Fatal("record should be complete")
	}
	if r.Details.Passengers == nil || *r.Details.Passengers != 1 {
		t.Fatalf("passengers = %v, want default 1", r.Details.Passengers)
	}
	if !strings.Contains(r.Response, "DHA") || !strings.Contains(r.Response, "yes/no") {
		t.Fatalf("confirmation text: %q", r.Response)
	}

	r = send(svc, "s1", "alice", "yes")
	if r.NextAction != models.ActionCompleted {
		t.Fatalf("next action = %s", r.NextAction)
	}
	reqs, err := store.ListActiveRequests(context.Background(), "")
	if err != nil || len(reqs) != 1 {
		t.Fatalf("stored requests = %d (%v)", len(reqs), err)
	}
	if reqs[0].UserID != "alice" || reqs[0].PickupLocation != "DHA" {
		t.Fatalf("stored request: %+v", reqs[0])
	}

	// Session was reset; the next message starts a new conversation.
	sess := svc.Sessions.GetOrCreate("s1")
	if sess.Intent != models.IntentUnset || sess.IsComplete {
		t.Fatalf("session not cleared: %+v", sess)
	}
}

func TestFinalizeRunsMatchingAndNotifies(t *testing.T) {
	svc, store, notifier := newService(models.IntentRideRequest,
		models.RideDetails{
			PickupLocation: models.String("DHA"),
			DropLocation:   models.String("Airport"),
			Date:           models.String("today"),
			Time:           models.String("5pm"),
		},
	)
	offer := &models.RideOffer{
		SessionID: "s-bob", UserID: "bob",
		PickupLocation: "dha", DropLocation: "airport",
		Date: "today", Time: "5 pm", AvailableSeats: 3,
	}
	if err := store.SaveOffer(context.Background(), offer); err != nil {
		t.Fatal(err)
	}

	send(svc, "s1", "alice", "ride from DHA to Airport today at 5pm please")
	r := send(svc, "s1", "alice", "yes")

	if len(r.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(r.Matches))
	}
	m := r.Matches[0]
	if m.MatchType != models.MatchExact || m.RemainingSeats != 3 {
		t.Fatalf("match summary: %+v", m)
	}
	if !strings.Contains(r.Response, "accept") {
		t.Fatalf("response should explain accept/reject: %q", r.Response)
	}
	stored, err := store.GetMatch(context.Background(), m.MatchID)
	if err != nil {
		t.Fatalf("match not persisted: %v", err)
	}
	if stored.Status != models.MatchPending {
		t.Fatalf("status = %s", stored.Status)
	}
	if len(notifier.users) != 1 || notifier.users[0] != "bob" {
		t.Fatalf("notified = %v, want driver bob", notifier.users)
	}
}

func TestNoConfirmationClearsRecord(t *testing.T) {
	svc, store, _ := newService(models.IntentRideOffer,
		models.RideDetails{
			PickupLocation: models.String("Gulshan"),
			DropLocation:   models.String("Saddar"),
			Date:           models.String("today"),
			Time:           models.String("9am"),
			AvailableSeats: models.Int(3),
		},
	)

	send(svc, "s1", "bob", "going from Gulshan to Saddar today 9am, 3 seats")
	r := send(svc, "s1", "bob", "no")
	if r.NextAction != models.ActionAwaitingIntent {
		t.Fatalf("next action = %s", r.NextAction)
	}
	offers, _ := store.ListActiveOffers(context.Background(), "")
	if len(offers) != 0 {
		t.Fatal("nothing should be persisted after a 'no'")
	}
	sess := svc.Sessions.GetOrCreate("s1")
	if sess.Details.PickupLocation != nil {
		t.Fatal("details should be cleared")
	}
}

func TestCorrectionDuringConfirmation(t *testing.T) {
	svc, _, _ := newService(models.IntentRideRequest,
		models.RideDetails{
			PickupLocation: models.String("DHA"),
			DropLocation:   models.String("Airport"),
			Date:           models.String("today"),
			Time:           models.String("5pm"),
		},
		models.RideDetails{Time: models.String("6pm")},
	)

	send(svc, "s1", "alice", "ride from DHA to Airport today at 5pm")
	r := send(svc, "s1", "alice", "actually make it 6pm")
	if r.NextAction != models.ActionAwaitingConfirmation {
		t.Fatalf("next action = %s", r.NextAction)
	}
	if r.Details.Time == nil || *r.Details.Time != "6pm" {
		t.Fatalf("time = %v, want corrected 6pm", r.Details.Time)
	}
	if r.Details.PickupLocation == nil || *r.Details.PickupLocation != "DHA" {
		t.Fatal("correction must not drop previously captured fields")
	}
}

func TestUnrelatedMessageGetsHelp(t *testing.T) {
	svc, _, _ := newService(models.IntentOther, models.RideDetails{})

	r := send(svc, "s1", "alice", "what's the weather like")
	if r.NextAction != models.ActionAwaitingIntent {
		t.Fatalf("next action = %s", r.NextAction)
	}
	if r.Intent != models.IntentOther {
		t.Fatalf("intent = %s", r.Intent)
	}
	if !strings.Contains(r.Response, "ride") {
		t.Fatalf("help text: %q", r.Response)
	}
}

func TestAcceptCommand(t *testing.T) {
	svc, store, notifier := newService(models.IntentOther, models.RideDetails{})
	ctx := context.Background()

	req := &models.RideRequest{SessionID: "s-a", UserID: "alice",
		PickupLocation: "DHA", DropLocation: "Airport", Date: "today", Time: "5pm", Passengers: 1}
	offer := &models.RideOffer{SessionID: "s-b", UserID: "bob",
		PickupLocation: "DHA", DropLocation: "Airport", Date: "today", Time: "5pm", AvailableSeats: 2}
	if err := store.SaveRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveOffer(ctx, offer); err != nil {
		t.Fatal(err)
	}
	match := &models.Match{RequestID: req.ID, OfferID: offer.ID, MatchType: models.MatchExact, Score: 1.0}
	if err := store.SaveMatch(ctx, match); err != nil {
		t.Fatal(err)
	}

	r := send(svc, "s-a", "alice", fmt.Sprintf("accept %d", match.ID))
	if !strings.Contains(r.Response, "confirmed") {
		t.Fatalf("response: %q", r.Response)
	}
	m, _ := store.GetMatch(ctx, match.ID)
	if m.Status != models.MatchAccepted {
		t.Fatalf("status = %s", m.Status)
	}
	if len(notifier.users) != 1 || notifier.users[0] != "bob" {
		t.Fatalf("counterpart notified = %v, want bob", notifier.users)
	}
}

func TestCompleteCommand(t *testing.T) {
	svc, store, _ := newService(models.IntentOther, models.RideDetails{})
	ctx := context.Background()

	req := &models.RideRequest{SessionID: "s-a", UserID: "alice",
		PickupLocation: "DHA", DropLocation: "Airport", Date: "today", Time: "5pm", Passengers: 1}
	offer := &models.RideOffer{SessionID: "s-b", UserID: "bob",
		PickupLocation: "DHA", DropLocation: "Airport", Date: "today", Time: "5pm", AvailableSeats: 2}
	if err := store.SaveRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveOffer(ctx, offer); err != nil {
		t.Fatal(err)
	}
	match := &models.Match{RequestID: req.ID, OfferID: offer.ID, MatchType: models.MatchExact, Score: 1.0}
	if err := store.SaveMatch(ctx, match); err != nil {
		t.Fatal(err)
	}

	// A pending match cannot be completed.
	r := send(svc, "s-b", "bob", fmt.Sprintf("complete %d", match.ID))
	if !strings.Contains(r.Response, "already been decided") {
		t.Fatalf("response: %q", r.Response)
	}

	send(svc, "s-a", "alice", fmt.Sprintf("accept %d", match.ID))
	r = send(svc, "s-b", "bob", fmt.Sprintf("complete %d", match.ID))
	if !strings.Contains(r.Response, "complete") {
		t.Fatalf("response: %q", r.Response)
	}
	m, _ := store.GetMatch(ctx, match.ID)
	if m.Status != models.MatchCompleted {
		t.Fatalf("status = %s", m.Status)
	}
}

func TestExtractorErrorKeepsCollecting(t *testing.T) {
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := &Service{
		Sessions:   session.NewStore(50),
		Classifier: fixedClassifier{intent: models.IntentRideRequest, confidence: 0.9},
		Extractor:  erroringExtractor{},
		Store:      store,
		Logger:     logger,
	}
	svc.Sessions.SetIntent("s1", models.IntentRideRequest)
	svc.Sessions.SetDetails("s1", models.RideDetails{PickupLocation: models.String("DHA")})

	r := send(svc, "s1", "alice", "garbled input")
	if r.NextAction != models.ActionAwaitingDetails {
		t.Fatalf("next action = %s, want re-prompt", r.NextAction)
	}
	if len(r.MissingFields) == 0 || r.MissingFields[0] != "drop_location" {
		t.Fatalf("missing = %v, want drop_location first", r.MissingFields)
	}
	if r.Details.PickupLocation == nil || *r.Details.PickupLocation != "DHA" {
		t.Fatal("captured fields must survive an extraction failure")
	}
}

type erroringExtractor struct{}

func (erroringExtractor) Extract(context.Context, extract.Request) (models.RideDetails, error) {
	return models.RideDetails{}, fmt.Errorf("oracle unreachable")
}

func TestDecisionErrors(t *testing.T) {
	svc, _, _ := newService(models.IntentOther, models.RideDetails{})

	r := send(svc, "s1", "alice", "accept 42")
	if !strings.Contains(r.Response, "couldn't find") {
		t.Fatalf("response: %q", r.Response)
	}
	r = send(svc, "s1", "alice", "reject 42")
	if !strings.Contains(r.Response, "couldn't find") {
		t.Fatalf("response: %q", r.Response)
	}
}
