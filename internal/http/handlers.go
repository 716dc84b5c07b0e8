// Package httpapi exposes the conversation pipeline over HTTP: the Twilio
// webhook, a JSON API for testing and match decisions, the notification
// websocket, and the operational endpoints.
package httpapi

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/chat2carpool/internal/config"
	"github.com/example/chat2carpool/internal/conversation"
	"github.com/example/chat2carpool/internal/dispatch"
	"github.com/example/chat2carpool/internal/extract"
	"github.com/example/chat2carpool/internal/ingest"
	"github.com/example/chat2carpool/internal/lifecycle"
	"github.com/example/chat2carpool/internal/models"
	"github.com/example/chat2carpool/internal/payments"
	"github.com/example/chat2carpool/internal/session"
	"github.com/example/chat2carpool/internal/storage"
)

type Server struct {
	Conversations *conversation.Service
	Lifecycle     *lifecycle.Manager
	Sessions      *session.Store
	Deduper       ingest.Deduper
	WSReg         *dispatch.WSRegistry
	DB            *sql.DB

	mux     *mux.Router
	logger  *slog.Logger
	closers []func() error
}

// NewServer assembles a server from pre-built components. Deduper, WSReg
// and Lifecycle may be nil; the corresponding endpoints degrade gracefully.
func NewServer(conv *conversation.Service, lc *lifecycle.Manager, sessions *session.Store, deduper ingest.Deduper, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Conversations: conv,
		Lifecycle:     lc,
		Sessions:      sessions,
		Deduper:       deduper,
		WSReg:         wsreg,
		mux:           mux.NewRouter(),
		logger:        logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig wires the full component graph: Postgres or memory
// storage, Redis or memory dedupe, optional Kafka producer, optional LLM
// extractor with the deterministic fallback, optional Stripe fares.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var store storage.RideStore
	var db *sql.DB
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
		db = ps.DB()
	} else {
		store = storage.NewMemoryStore()
	}

	var deduper ingest.Deduper
	var closers []func() error
	if cfg.RedisAddr != "" {
		rd := ingest.NewRedisDeduper(cfg.RedisAddr, cfg.RedisPassword, cfg.DedupeTTL)
		deduper = rd
		closers = append(closers, rd.Close)
	} else {
		deduper = ingest.NewMemoryDeduper(cfg.DedupeTTL)
	}

	var events conversation.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.MatchEventTopic)
		events = kp
		closers = append(closers, kp.Close)
	}

	fallback := &extract.RegexExtractor{}
	var extractor extract.Extractor = fallback
	var classifier extract.Classifier = &extract.KeywordClassifier{}
	if cfg.ExtractorEndpoint != "" {
		llm := extract.NewLLMClient(cfg.ExtractorEndpoint, cfg.ExtractorAPIKey, cfg.ExtractorModel, cfg.ExtractorTimeout)
		extractor = &extract.Chain{Primary: llm, Fallback: fallback, Logger: logger}
		classifier = &extract.ClassifierChain{Primary: llm, Fallback: &extract.KeywordClassifier{}, MinConfidence: 0.5, Logger: logger}
	}

	lc := &lifecycle.Manager{Store: store, Logger: logger}
	if cfg.SeatFare > 0 {
		lc.Payments = payments.NewStripeClient()
		lc.SeatFare = cfg.SeatFare
		lc.Currency = cfg.FareCurrency
	}

	wsreg := dispatch.NewWSRegistry()
	notifier := dispatch.NewPushNotifier(wsreg, cfg.PushEndpoint, logger)

	sessions := session.NewStore(cfg.MaxSessionHistory)
	conv := &conversation.Service{
		Sessions:     sessions,
		Classifier:   classifier,
		Extractor:    extractor,
		Store:        store,
		Lifecycle:    lc,
		Notifier:     notifier,
		Events:       events,
		MatchesShown: cfg.MatchesShown,
		Logger:       logger,
	}

	s := NewServer(conv, lc, sessions, deduper, wsreg, logger)
	s.DB = db
	s.closers = closers
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/webhook/whatsapp", s.handleWebhook).Methods("POST")
	s.mux.HandleFunc("/api/v1/messages", s.handleMessage).Methods("POST")
	s.mux.HandleFunc("/api/v1/matches", s.handleListMatches).Methods("GET")
	s.mux.HandleFunc("/api/v1/matches/{id}/confirm", s.handleConfirm).Methods("POST")
	s.mux.HandleFunc("/api/v1/matches/{id}/reject", s.handleReject).Methods("POST")
	s.mux.HandleFunc("/api/v1/matches/{id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close releases producer and dedupe connections.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// handleWebhook receives Twilio form posts. Retried deliveries carry the
// same MessageSid and are answered with an empty TwiML body so Twilio
// stops retrying without the pipeline running twice.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	sid := r.PostFormValue("MessageSid")
	if from == "" || body == "" {
		http.Error(w, "From and Body are required", http.StatusBadRequest)
		return
	}

	if sid != "" && s.Deduper != nil {
		seen, err := s.Deduper.Seen(r.Context(), sid)
		if err != nil {
			s.logger.Warn("dedupe check failed", "message_sid", sid, "error", err)
		} else if seen {
			writeTwiML(w, twiml{})
			return
		}
	}

	reply := s.Conversations.ProcessMessage(r.Context(), models.InboundMessage{
		SessionID:  from,
		UserID:     from,
		Body:       body,
		MessageSID: sid,
	})
	writeTwiML(w, twiml{Message: reply.Response})
}

func writeTwiML(w http.ResponseWriter, t twiml) {
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(t)
}

// handleMessage is the JSON mirror of the webhook, used by tests and
// non-Twilio clients. It returns the full structured reply.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if msg.SessionID == "" || msg.Body == "" {
		http.Error(w, "session_id and body are required", http.StatusBadRequest)
		return
	}
	if msg.UserID == "" {
		msg.UserID = msg.SessionID
	}
	reply := s.Conversations.ProcessMessage(r.Context(), msg)
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	if !s.lifecycleReady(w) {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	matches, err := s.Lifecycle.UserMatches(r.Context(), userID)
	if err != nil {
		http.Error(w, "listing matches failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

type decisionRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	matchID, userID, ok := s.decisionParams(w, r)
	if !ok {
		return
	}
	conf, err := s.Lifecycle.Confirm(r.Context(), matchID, userID)
	if err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"match":   conf.Match,
		"request": conf.Request,
		"offer":   conf.Offer,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	matchID, userID, ok := s.decisionParams(w, r)
	if !ok {
		return
	}
	if err := s.Lifecycle.Reject(r.Context(), matchID, userID); err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rejected"})
}

// handleComplete settles an accepted match: the ride happened, the fare
// hold is captured. Either party may call it.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	matchID, userID, ok := s.decisionParams(w, r)
	if !ok {
		return
	}
	if err := s.Lifecycle.Complete(r.Context(), matchID, userID); err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed"})
}

func (s *Server) lifecycleReady(w http.ResponseWriter) bool {
	if s.Lifecycle == nil {
		http.Error(w, "match lifecycle unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) decisionParams(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	if !s.lifecycleReady(w) {
		return 0, "", false
	}
	matchID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid match id", http.StatusBadRequest)
		return 0, "", false
	}
	var body decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return 0, "", false
	}
	return matchID, body.UserID, true
}

func writeDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		http.Error(w, "match not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrUnauthorized):
		http.Error(w, "not a party to this match", http.StatusForbidden)
	case errors.Is(err, lifecycle.ErrAlreadyConfirmed):
		http.Error(w, "match already decided", http.StatusConflict)
	case errors.Is(err, lifecycle.ErrInsufficientCapacity):
		http.Error(w, "not enough seats remaining", http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WSReg == nil {
		http.Error(w, "websocket delivery unavailable", http.StatusServiceUnavailable)
		return
	}
	userID := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(userID, conn)
	// Read pump: we never expect client frames, but reading is how we
	// learn the peer went away.
	go func() {
		defer func() {
			s.WSReg.Remove(userID, conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
