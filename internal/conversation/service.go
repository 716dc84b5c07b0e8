// Package conversation drives the per-session intake state machine: it
// classifies each inbound message, extracts and merges ride details,
// asks clarifying questions until the record is complete, confirms it
// with the user, and on confirmation persists the ride and runs the
// matching engine.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/chat2carpool/internal/extract"
	"github.com/example/chat2carpool/internal/lifecycle"
	"github.com/example/chat2carpool/internal/matcher"
	"github.com/example/chat2carpool/internal/merge"
	"github.com/example/chat2carpool/internal/models"
	"github.com/example/chat2carpool/internal/observability"
	"github.com/example/chat2carpool/internal/session"
	"github.com/example/chat2carpool/internal/storage"
)

// Notifier pushes a message to a user outside the current conversation,
// typically the counterpart of a freshly created match.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// EventPublisher emits match lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishMatch(ctx context.Context, event string, m *models.Match) error
}

// Service processes inbound messages for all sessions. All fields except
// Sessions, Classifier, Extractor and Store are optional.
type Service struct {
	Sessions     *session.Store
	Classifier   extract.Classifier
	Extractor    extract.Extractor
	Store        storage.RideStore
	Lifecycle    *lifecycle.Manager
	Notifier     Notifier
	Events       EventPublisher
	Policy       merge.EndpointPolicy
	MatchesShown int
	Logger       *slog.Logger
}

var decisionPattern = regexp.MustCompile(`^(accept|reject|complete)\s+#?(\d+)$`)

var affirmatives = map[string]bool{
	"yes": true, "yep": true, "yeah": true, "correct": true,
	"confirm": true, "confirmed": true, "ok": true, "okay": true,
}

var negatives = map[string]bool{
	"no": true, "nope": true, "wrong": true, "incorrect": true,
}

// ProcessMessage runs one inbound message through the state machine and
// returns the reply to deliver. It never returns an error: failures of
// the extraction oracle fall through to the deterministic fallback, and
// persistence failures produce an apologetic reply.
func (s *Service) ProcessMessage(ctx context.Context, msg models.InboundMessage) models.Reply {
	sess := s.Sessions.GetOrCreate(msg.SessionID)
	s.Sessions.AppendMessage(msg.SessionID, session.RoleUser, msg.Body)

	text := strings.ToLower(strings.TrimSpace(msg.Body))

	// Match decisions work from any conversation state and do not touch
	// the in-flight intake.
	if m := decisionPattern.FindStringSubmatch(text); m != nil {
		return s.reply(msg.SessionID, s.handleDecision(ctx, msg.UserID, m[1], m[2], sess))
	}

	if sess.IsComplete {
		return s.reply(msg.SessionID, s.handleConfirmation(ctx, msg, sess, text))
	}

	intent := sess.Intent
	if intent == models.IntentUnset || intent == models.IntentOther {
		cl, err := s.Classifier.Classify(ctx, msg.Body)
		if err != nil {
			s.Logger.Error("classification failed", "session_id", msg.SessionID, "error", err)
			return s.reply(msg.SessionID, errorReply())
		}
		intent = cl.Intent
		if intent != models.IntentRideRequest && intent != models.IntentRideOffer {
			observability.IntentsTotal.WithLabelValues(string(models.IntentOther)).Inc()
			return s.reply(msg.SessionID, models.Reply{
				Intent:     models.IntentOther,
				Confidence: cl.Confidence,
				Response:   helpText,
				NextAction: models.ActionAwaitingIntent,
			})
		}
		observability.IntentsTotal.WithLabelValues(string(intent)).Inc()
		s.Sessions.SetIntent(msg.SessionID, intent)
	}

	return s.reply(msg.SessionID, s.collect(ctx, msg, sess, intent))
}

// collect extracts from the current message, merges into the session
// record, and either asks the next clarifying question or moves to
// confirmation.
func (s *Service) collect(ctx context.Context, msg models.InboundMessage, sess session.Session, intent models.Intent) models.Reply {
	extracted, err := s.Extractor.Extract(ctx, extract.Request{
		Message:  msg.Body,
		Intent:   intent,
		History:  sess.Messages,
		Existing: sess.Details,
	})
	if err != nil {
		// Extraction failure must not stall the intake: merge nothing and
		// re-ask for the highest-priority missing field.
		s.Logger.Error("extraction failed", "session_id", msg.SessionID, "error", err)
		extracted = models.RideDetails{}
	}

	merged, missing, complete := merge.Merge(intent, sess.Details, extracted, s.Policy)
	s.Sessions.SetDetails(msg.SessionID, merged)

	if !complete {
		return models.Reply{
			Intent:        intent,
			Details:       merged,
			MissingFields: missing,
			Response:      merge.NextPrompt(missing),
			NextAction:    models.ActionAwaitingDetails,
		}
	}

	s.Sessions.MarkComplete(msg.SessionID, true)
	return models.Reply{
		Intent:     intent,
		Details:    merged,
		IsComplete: true,
		Response:   confirmationSummary(intent, merged),
		NextAction: models.ActionAwaitingConfirmation,
	}
}

// handleConfirmation resolves the yes/no/correction branch once the
// record is complete and awaiting user sign-off.
func (s *Service) handleConfirmation(ctx context.Context, msg models.InboundMessage, sess session.Session, text string) models.Reply {
	switch {
	case affirmatives[text]:
		return s.finalize(ctx, msg, sess)
	case negatives[text]:
		s.Sessions.Clear(msg.SessionID)
		return models.Reply{
			Response:   "No problem, let's start over. Are you looking for a ride, or offering one?",
			NextAction: models.ActionAwaitingIntent,
		}
	default:
		// Anything else is treated as a correction to the pending record.
		s.Sessions.MarkComplete(msg.SessionID, false)
		return s.collect(ctx, msg, sess, sess.Intent)
	}
}

// finalize persists the confirmed ride, runs matching against the other
// side of the pool, stores the top candidates as pending matches, and
// resets the session for the next conversation.
func (s *Service) finalize(ctx context.Context, msg models.InboundMessage, sess session.Session) models.Reply {
	var (
		reply models.Reply
		err   error
	)
	switch sess.Intent {
	case models.IntentRideRequest:
		reply, err = s.finalizeRequest(ctx, msg, sess.Details)
	case models.IntentRideOffer:
		reply, err = s.finalizeOffer(ctx, msg, sess.Details)
	default:
		s.Sessions.Clear(msg.SessionID)
		return models.Reply{Response: helpText, NextAction: models.ActionAwaitingIntent}
	}
	if err != nil {
		s.Logger.Error("finalize failed", "session_id", msg.SessionID, "intent", string(sess.Intent), "error", err)
		return errorReply()
	}
	s.Sessions.Clear(msg.SessionID)
	return reply
}

func (s *Service) finalizeRequest(ctx context.Context, msg models.InboundMessage, d models.RideDetails) (models.Reply, error) {
	req := &models.RideRequest{
		SessionID:      msg.SessionID,
		UserID:         msg.UserID,
		PickupLocation: deref(d.PickupLocation),
		DropLocation:   deref(d.DropLocation),
		Route:          d.Route,
		Date:           deref(d.Date),
		Time:           deref(d.Time),
		Passengers:     derefInt(d.Passengers, 1),
		AdditionalInfo: deref(d.AdditionalInfo),
	}
	if err := s.Store.SaveRequest(ctx, req); err != nil {
		observability.ObserveStoreOp("save_request", err)
		return models.Reply{}, err
	}
	observability.ObserveStoreOp("save_request", nil)

	offers, err := s.Store.ListActiveOffers(ctx, req.Date)
	if err != nil {
		return models.Reply{}, err
	}
	cands := matcher.FindMatches(req, offers)

	summaries := make([]models.MatchSummary, 0, len(cands))
	for _, c := range s.topCandidates(cands) {
		m := &models.Match{
			RequestID: req.ID,
			OfferID:   c.Offer.ID,
			MatchType: c.MatchType,
			Score:     c.OverallScore,
		}
		if err := s.Store.SaveMatch(ctx, m); err != nil {
			observability.ObserveStoreOp("save_match", err)
			return models.Reply{}, err
		}
		observability.ObserveStoreOp("save_match", nil)
		observability.MatchesFoundTotal.WithLabelValues(string(c.MatchType)).Inc()
		s.announceMatch(ctx, m, c.Offer.UserID,
			fmt.Sprintf("A passenger needs a ride along your route on %s at %s. Reply 'accept %d' or 'reject %d'.",
				req.Date, req.Time, m.ID, m.ID))
		summaries = append(summaries, models.MatchSummary{
			MatchID:        m.ID,
			MatchType:      c.MatchType,
			Score:          c.OverallScore,
			Pickup:         c.Offer.PickupLocation,
			Drop:           c.Offer.DropLocation,
			Route:          c.Offer.Route,
			Date:           c.Offer.Date,
			Time:           c.Offer.Time,
			RemainingSeats: c.RemainingSeats,
		})
	}

	return models.Reply{
		Intent:     models.IntentRideRequest,
		Details:    d,
		IsComplete: true,
		Response:   requestSavedText(summaries),
		NextAction: models.ActionCompleted,
		Matches:    summaries,
	}, nil
}

func (s *Service) finalizeOffer(ctx context.Context, msg models.InboundMessage, d models.RideDetails) (models.Reply, error) {
	offer := &models.RideOffer{
		SessionID:      msg.SessionID,
		UserID:         msg.UserID,
		PickupLocation: deref(d.PickupLocation),
		DropLocation:   deref(d.DropLocation),
		Route:          d.Route,
		Date:           deref(d.Date),
		Time:           deref(d.Time),
		AvailableSeats: derefInt(d.AvailableSeats, 1),
		AdditionalInfo: deref(d.AdditionalInfo),
	}
	if err := s.Store.SaveOffer(ctx, offer); err != nil {
		observability.ObserveStoreOp("save_offer", err)
		return models.Reply{}, err
	}
	observability.ObserveStoreOp("save_offer", nil)

	requests, err := s.Store.ListActiveRequests(ctx, offer.Date)
	if err != nil {
		return models.Reply{}, err
	}
	cands := matcher.FindRequestsForOffer(offer, requests)

	summaries := make([]models.MatchSummary, 0, len(cands))
	for _, c := range s.topCandidates(cands) {
		m := &models.Match{
			RequestID: c.Request.ID,
			OfferID:   offer.ID,
			MatchType: c.MatchType,
			Score:     c.OverallScore,
		}
		if err := s.Store.SaveMatch(ctx, m); err != nil {
			observability.ObserveStoreOp("save_match", err)
			return models.Reply{}, err
		}
		observability.ObserveStoreOp("save_match", nil)
		observability.MatchesFoundTotal.WithLabelValues(string(c.MatchType)).Inc()
		s.announceMatch(ctx, m, c.Request.UserID,
			fmt.Sprintf("A driver is going your way on %s at %s. Reply 'accept %d' or 'reject %d'.",
				offer.Date, offer.Time, m.ID, m.ID))
		summaries = append(summaries, models.MatchSummary{
			MatchID:        m.ID,
			MatchType:      c.MatchType,
			Score:          c.OverallScore,
			Pickup:         c.Request.PickupLocation,
			Drop:           c.Request.DropLocation,
			Route:          c.Request.Route,
			Date:           c.Request.Date,
			Time:           c.Request.Time,
			RemainingSeats: c.RemainingSeats,
		})
	}

	return models.Reply{
		Intent:     models.IntentRideOffer,
		Details:    d,
		IsComplete: true,
		Response:   offerSavedText(summaries),
		NextAction: models.ActionCompleted,
		Matches:    summaries,
	}, nil
}

func (s *Service) topCandidates(cands []models.Candidate) []models.Candidate {
	n := s.MatchesShown
	if n <= 0 {
		n = 3
	}
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// handleDecision applies an accept/reject/complete command to a stored
// match.
func (s *Service) handleDecision(ctx context.Context, userID, verb, rawID string, sess session.Session) models.Reply {
	if s.Lifecycle == nil {
		return models.Reply{Response: "Match decisions are not available right now.", NextAction: nextActionFor(sess)}
	}
	matchID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return models.Reply{Response: "I couldn't read that match number.", NextAction: nextActionFor(sess)}
	}

	if verb == "reject" {
		if err := s.Lifecycle.Reject(ctx, matchID, userID); err != nil {
			return models.Reply{Response: decisionErrorText(err), NextAction: nextActionFor(sess)}
		}
		s.publishEvent(ctx, "match.rejected", &models.Match{ID: matchID})
		return models.Reply{
			Response:   fmt.Sprintf("Match %d declined. I'll keep looking.", matchID),
			NextAction: nextActionFor(sess),
		}
	}

	if verb == "complete" {
		if err := s.Lifecycle.Complete(ctx, matchID, userID); err != nil {
			return models.Reply{Response: decisionErrorText(err), NextAction: nextActionFor(sess)}
		}
		s.publishEvent(ctx, "match.completed", &models.Match{ID: matchID})
		return models.Reply{
			Response:   fmt.Sprintf("Match %d marked complete. Thanks for riding together!", matchID),
			NextAction: nextActionFor(sess),
		}
	}

	conf, err := s.Lifecycle.Confirm(ctx, matchID, userID)
	if err != nil {
		return models.Reply{Response: decisionErrorText(err), NextAction: nextActionFor(sess)}
	}
	s.publishEvent(ctx, "match.accepted", conf.Match)

	counterpart := conf.Offer.UserID
	note := fmt.Sprintf("Your ride on %s at %s is confirmed (match %d).", conf.Offer.Date, conf.Offer.Time, matchID)
	if userID == conf.Offer.UserID {
		counterpart = conf.Request.UserID
	}
	s.notify(ctx, counterpart, note)

	return models.Reply{
		Response: fmt.Sprintf("Match %d confirmed. Pickup %s, drop %s on %s at %s.",
			matchID, conf.Offer.PickupLocation, conf.Offer.DropLocation, conf.Offer.Date, conf.Offer.Time),
		NextAction: nextActionFor(sess),
	}
}

func (s *Service) announceMatch(ctx context.Context, m *models.Match, counterpartID, note string) {
	s.publishEvent(ctx, "match.found", m)
	s.notify(ctx, counterpartID, note)
}

func (s *Service) publishEvent(ctx context.Context, event string, m *models.Match) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishMatch(ctx, event, m); err != nil {
		s.Logger.Warn("match event publish failed", "event", event, "match_id", m.ID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, userID, message string) {
	if s.Notifier == nil || userID == "" {
		return
	}
	if err := s.Notifier.Notify(ctx, userID, message); err != nil {
		s.Logger.Warn("notify failed", "user_id", userID, "error", err)
	}
}

// reply records the assistant turn in the transcript before returning.
func (s *Service) reply(sessionID string, r models.Reply) models.Reply {
	s.Sessions.AppendMessage(sessionID, session.RoleAssistant, r.Response)
	return r
}

func nextActionFor(sess session.Session) string {
	switch {
	case sess.IsComplete:
		return models.ActionAwaitingConfirmation
	case sess.Intent == models.IntentRideRequest || sess.Intent == models.IntentRideOffer:
		return models.ActionAwaitingDetails
	default:
		return models.ActionAwaitingIntent
	}
}

func decisionErrorText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, lifecycle.ErrNotFound):
		return "I couldn't find that match. Check the match number and try again."
	case errors.Is(err, lifecycle.ErrUnauthorized):
		return "That match doesn't belong to you."
	case errors.Is(err, lifecycle.ErrAlreadyConfirmed):
		return "That match has already been decided."
	case errors.Is(err, lifecycle.ErrInsufficientCapacity):
		return "Sorry, that ride just filled up. I'll keep looking for another one."
	default:
		return "Sorry, something went wrong handling that match. Please try again."
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func errorReply() models.Reply {
	return models.Reply{
		Response:   "Sorry, I had trouble processing that. Could you try again?",
		NextAction: models.ActionAwaitingIntent,
	}
}
