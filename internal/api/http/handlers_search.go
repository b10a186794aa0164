package apihttp

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/search"
)

// searchView is a query snapshot plus the aggregate card derived from it.
type searchView struct {
	domain.QuerySnapshot
	Card *domain.AggregateCard `json:"card,omitempty"`
}

func newSearchView(snap domain.QuerySnapshot) searchView {
	view := searchView{QuerySnapshot: snap}
	if card, ok := search.AggregateCard(snap); ok {
		view.Card = &card
	}
	return view
}

func readQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return "", false
	}
	return query, true
}

// handleSearch runs the one-shot aggregated search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.aggregator == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	query, ok := readQuery(w, r)
	if !ok {
		return
	}

	response, err := s.aggregator.Aggregate(r.Context(), query)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(query, 80)),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}
	s.logger.Info("search completed",
		slog.String("query", truncate(query, 80)),
		slog.Int("items", len(response.Items)),
		slog.Int("sites", response.Sites),
		slog.Int64("elapsedMs", response.ElapsedMS),
		slog.Int("failedSites", len(response.Errors)),
	)
	writeJSON(w, http.StatusOK, response)
}

// handleSearchStream starts (or joins) the run for a query and streams
// every state change until it settles.
func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.states == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}
	query, ok := readQuery(w, r)
	if !ok {
		return
	}
	if parseOptionalBool(r.URL.Query().Get("refresh")) {
		s.states.Invalidate(s.states.KeyFor(r.Context(), query))
	}

	key := s.states.KeyFor(r.Context(), query)
	started := s.states.EnsureSearch(key)
	state := s.states.StateFor(key)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "bootstrap", map[string]any{
		"phase":   "bootstrap",
		"final":   false,
		"query":   query,
		"key":     key.String(),
		"started": started,
	}); err != nil {
		return
	}

	for {
		snap, changed := state.Watch()
		if err := writeSSEEvent(w, flusher, "update", newSearchView(snap)); err != nil {
			return
		}
		if snap.Status != domain.RunRunning {
			_ = writeSSEEvent(w, flusher, "done", map[string]any{
				"final":  true,
				"status": snap.Status,
				"error":  snap.Error,
			})
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-changed:
		}
	}
}

// handleSearchState serves the current snapshot, starting a run when the
// query has none. DELETE drops the cached state.
func (s *Server) handleSearchState(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/state" {
		http.NotFound(w, r)
		return
	}
	if s.states == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	query, ok := readQuery(w, r)
	if !ok {
		return
	}
	key := s.states.KeyFor(r.Context(), query)

	switch r.Method {
	case http.MethodGet:
		s.states.EnsureSearch(key)
		writeJSON(w, http.StatusOK, newSearchView(s.states.StateFor(key).Snapshot()))
	case http.MethodDelete:
		s.states.Invalidate(key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSearchSites(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/sites" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items := []domain.SiteDiagnostics{}
	if s.health != nil {
		if diag := s.health.Diagnostics(); diag != nil {
			items = diag
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     items,
	})
}
