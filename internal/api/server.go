package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yangwenmai/draftflow/internal/docstore"
	"github.com/yangwenmai/draftflow/internal/lifecycle"
	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/store"
	"github.com/yangwenmai/draftflow/internal/worker"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// Lifecycle is the item service behind the API.
type Lifecycle interface {
	Ingest(ctx context.Context, req lifecycle.IngestRequest) (*model.ContentItem, error)
	IngestURL(ctx context.Context, rawURL, contentType string) (*model.ContentItem, error)
	Get(ctx context.Context, id string) (*model.ContentItem, error)
	Document(ctx context.Context, id string) (*model.VersionedDocument, error)
	ListInbox(ctx context.Context, f model.ItemFilter) ([]model.ContentItem, error)
	ListRefinement(ctx context.Context, f model.ItemFilter) ([]model.ContentItem, error)
	Approve(ctx context.Context, id string) (*model.ContentItem, error)
	MarkDone(ctx context.Context, id string) (*model.ContentItem, error)
	Skip(ctx context.Context, id string) (*model.ContentItem, error)
	Publish(ctx context.Context, id string) (*model.ContentItem, error)
	SetFlag(ctx context.Context, id string, flagged bool) (*model.ContentItem, error)
	SaveEdit(ctx context.Context, id, text string) (*model.ContentItem, *model.Edit, error)
	TriggerRefinement(ctx context.Context, id string) (*worker.Ticket, error)
	GenerateArtifacts(ctx context.Context, id string) (*worker.Ticket, error)
}

// Health reports process state for /api/health.
type Health interface {
	Stats() worker.Stats
}

// Counter reports item counts per status.
type Counter interface {
	CountByStatus(ctx context.Context) (store.StatusCounts, error)
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	svc        Lifecycle
	health     Health
	counts     Counter
	corsOrigin string
	logger     *slog.Logger
	mux        *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithHealth adds job pool stats and item counts to the health endpoint.
func WithHealth(h Health, c Counter) Option {
	return func(s *Server) { s.health, s.counts = h, c }
}

// WithCORSOrigin sets the allowed CORS origin. Defaults to "*".
func WithCORSOrigin(origin string) Option {
	return func(s *Server) {
		if origin != "" {
			s.corsOrigin = origin
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new API server.
func New(svc Lifecycle, opts ...Option) *Server {
	srv := &Server{svc: svc, corsOrigin: "*", logger: slog.Default(), mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(srv)
	}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.cors(limitBody(jsonContent(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/inbox", s.handleInbox)
	s.mux.HandleFunc("GET /api/refinement", s.handleRefinement)
	s.mux.HandleFunc("POST /api/items", s.handleIngest)
	s.mux.HandleFunc("POST /api/items/from-url", s.handleIngestURL)
	s.mux.HandleFunc("GET /api/items/{id}", s.handleGetItem)
	s.mux.HandleFunc("GET /api/items/{id}/document", s.handleDocument)
	s.mux.HandleFunc("POST /api/items/{id}/approve", s.itemAction(s.svc.Approve))
	s.mux.HandleFunc("POST /api/items/{id}/done", s.itemAction(s.svc.MarkDone))
	s.mux.HandleFunc("POST /api/items/{id}/skip", s.itemAction(s.svc.Skip))
	s.mux.HandleFunc("POST /api/items/{id}/publish", s.itemAction(s.svc.Publish))
	s.mux.HandleFunc("POST /api/items/{id}/flag", s.handleFlag(true))
	s.mux.HandleFunc("POST /api/items/{id}/unflag", s.handleFlag(false))
	s.mux.HandleFunc("POST /api/items/{id}/refine", s.jobAction(s.svc.TriggerRefinement))
	s.mux.HandleFunc("POST /api/items/{id}/artifacts", s.jobAction(s.svc.GenerateArtifacts))
	s.mux.HandleFunc("PUT /api/items/{id}/edit", s.handleEdit)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeServiceError maps service errors onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, model.ErrPrecondition):
		writeError(w, http.StatusBadRequest, "precondition_failed", err.Error())
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrUnknownType):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, worker.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
