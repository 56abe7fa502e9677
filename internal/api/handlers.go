package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/yangwenmai/draftflow/internal/lifecycle"
	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/store"
	"github.com/yangwenmai/draftflow/internal/worker"
)

// ---------------------------------------------------------------------------
// GET /api/health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status string             `json:"status"`
	Jobs   *worker.Stats      `json:"jobs,omitempty"`
	Items  store.StatusCounts `json:"items,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.health != nil {
		st := s.health.Stats()
		resp.Jobs = &st
	}
	if s.counts != nil {
		counts, err := s.counts.CountByStatus(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		resp.Items = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// GET /api/inbox, GET /api/refinement
// ---------------------------------------------------------------------------

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, s.svc.ListInbox)
}

func (s *Server) handleRefinement(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, s.svc.ListRefinement)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, fn func(context.Context, model.ItemFilter) ([]model.ContentItem, error)) {
	f, err := parseFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items, err := fn(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []model.ContentItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// parseFilter reads ?status=a,b&type=post,thread&flagged=true&q=text&limit=n.
func parseFilter(r *http.Request) (model.ItemFilter, error) {
	q := r.URL.Query()
	var f model.ItemFilter
	for _, raw := range splitComma(q.Get("status")) {
		st, err := model.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = append(f.Status, st)
	}
	for _, raw := range splitComma(q.Get("type")) {
		t, err := model.ParseContentType(raw)
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, t)
	}
	if v := q.Get("flagged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("%w: flagged must be a boolean", model.ErrInvalidInput)
		}
		f.Flagged = &b
	}
	f.Query = q.Get("q")
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("%w: limit must be a positive integer", model.ErrInvalidInput)
		}
		f.Limit = n
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// POST /api/items, POST /api/items/from-url
// ---------------------------------------------------------------------------

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	item, err := s.svc.Ingest(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type ingestURLRequest struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	var req ingestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "url is required")
		return
	}
	item, err := s.svc.IngestURL(r.Context(), req.URL, req.Type)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ---------------------------------------------------------------------------
// GET /api/items/{id}, GET /api/items/{id}/document
// ---------------------------------------------------------------------------

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type documentResponse struct {
	ID          string            `json:"id"`
	CurrentText string            `json:"current_text"`
	Latest      *model.Alias      `json:"latest,omitempty"`
	Rounds      []model.RoundView `json:"rounds"`
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	rounds := doc.Rounds()
	if rounds == nil {
		rounds = []model.RoundView{}
	}
	writeJSON(w, http.StatusOK, documentResponse{
		ID:          doc.ID,
		CurrentText: doc.CurrentText(),
		Latest:      doc.Latest(),
		Rounds:      rounds,
	})
}

// ---------------------------------------------------------------------------
// POST /api/items/{id}/{action}
// ---------------------------------------------------------------------------

func (s *Server) itemAction(fn func(context.Context, string) (*model.ContentItem, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := fn(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleFlag(flagged bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := s.svc.SetFlag(r.Context(), r.PathValue("id"), flagged)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

type jobResponse struct {
	ID     string `json:"id"`
	Ticket string `json:"ticket"`
	Kind   string `json:"kind"`
}

// jobAction hands work to the background and answers 202 at once.
func (s *Server) jobAction(fn func(context.Context, string) (*worker.Ticket, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		t, err := fn(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobResponse{ID: id, Ticket: t.ID, Kind: t.Kind})
	}
}

// ---------------------------------------------------------------------------
// PUT /api/items/{id}/edit
// ---------------------------------------------------------------------------

type editRequest struct {
	Text string `json:"text"`
}

type editResponse struct {
	Item *model.ContentItem `json:"item"`
	Edit *model.Edit        `json:"edit"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	item, edit, err := s.svc.SaveEdit(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Item: item, Edit: edit})
}
