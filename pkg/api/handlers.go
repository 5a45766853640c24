package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cymbal-labs/ucp-engine/pkg/catalog"
	"github.com/cymbal-labs/ucp-engine/pkg/checkout"
	"github.com/cymbal-labs/ucp-engine/pkg/events"
	"github.com/cymbal-labs/ucp-engine/pkg/payment"
	"github.com/cymbal-labs/ucp-engine/pkg/profile"
)

// Server binds the checkout engine to the REST surface.
type Server struct {
	engine    *checkout.Engine
	catalog   *catalog.Catalog
	tokenizer *payment.MockTokenizer
	hub       *events.Hub
	business  *profile.Profile
	keys      *profile.KeySet
	metrics   OperationTracker
	logger    *slog.Logger
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Engine    *checkout.Engine
	Catalog   *catalog.Catalog
	Tokenizer *payment.MockTokenizer
	Hub       *events.Hub
	Business  *profile.Profile
	Keys      *profile.KeySet
	Metrics   OperationTracker
}

// NewServer creates the REST server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		engine:    cfg.Engine,
		catalog:   cfg.Catalog,
		tokenizer: cfg.Tokenizer,
		hub:       cfg.Hub,
		business:  cfg.Business,
		keys:      cfg.Keys,
		metrics:   cfg.Metrics,
		logger:    slog.Default().With("component", "api"),
	}
}

// Handler assembles the route table with the middleware stack applied.
// The idempotency store may be nil to disable replay.
func (s *Server) Handler(limiter *GlobalRateLimiter, idem IdempotencyStorer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/ucp", s.handleDiscovery)
	mux.HandleFunc("GET /api/v1/products", s.handleProducts)
	mux.HandleFunc("POST /api/v1/checkout-sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/checkout-sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /api/v1/checkout-sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("POST /api/v1/checkout-sessions/{id}/complete", s.handleCompleteSession)
	mux.HandleFunc("POST /api/v1/checkout-sessions/{id}/cancel", s.handleCancelSession)
	mux.HandleFunc("POST /api/v1/tokenize", s.handleTokenize)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	var h http.Handler = mux
	if idem != nil {
		h = IdempotencyMiddleware(idem)(h)
	}
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	if s.metrics != nil {
		h = MetricsMiddleware(s.metrics)(h)
	}
	h = LoggingMiddleware(s.logger)(h)
	h = RequestIDMiddleware(h)
	return h
}

// platformProfile extracts the calling platform's profile from the
// UCP-Agent header. A missing or non-declarative header means the
// platform mirrors the business's full capability set.
func (s *Server) platformProfile(r *http.Request) (*profile.Profile, error) {
	return profile.ParsePlatform(r.Header.Get("UCP-Agent"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	published := *s.business
	if s.keys != nil {
		published.SigningKeys = s.keys.PublicJWKs()
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, &published)
}

func (s *Server) handleProducts(w http.ResponseWriter, _ *http.Request) {
	type productView struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		ImageURL    string `json:"image_url,omitempty"`
		Price       int64  `json:"price"`
		Currency    string `json:"currency"`
	}
	products := s.catalog.All()
	views := make([]productView, len(products))
	for i, p := range products {
		views[i] = productView{
			ID: p.ID, Title: p.Title, Description: p.Description,
			ImageURL: p.ImageURL, Price: p.Price, Currency: p.Currency,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": views})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	platform, err := s.platformProfile(r)
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "invalid UCP-Agent profile: "+err.Error())
		return
	}

	var req checkout.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	session, err := s.engine.Create(r.Context(), platform, req)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var patch checkout.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	session, err := s.engine.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	var req checkout.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	session, err := s.engine.Complete(r.Context(), r.PathValue("id"), req)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	// The demo tokenizer accepts any payload and mints an opaque token;
	// card data in the request is discarded unread.
	token := s.tokenizer.Tokenize()
	writeJSON(w, http.StatusCreated, token)
}

// eventView flattens an engine event for the inspector UI: operation,
// session, and the status transition it caused.
type eventView struct {
	Op           string    `json:"op"`
	SessionID    string    `json:"session_id"`
	StatusBefore string    `json:"status_before,omitempty"`
	StatusAfter  string    `json:"status_after,omitempty"`
	At           time.Time `json:"at"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	recent := s.hub.Recent()
	views := make([]eventView, len(recent))
	for i, ev := range recent {
		v := eventView{Op: ev.Op, SessionID: ev.SessionID, At: ev.At}
		if ev.Before != nil {
			v.StatusBefore = string(ev.Before.Status)
		}
		if ev.After != nil {
			v.StatusAfter = string(ev.After.Status)
		}
		views[i] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
