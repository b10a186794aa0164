package apihttp

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/episodes"
	"github.com/jenfonro/MeowFilmTV/internal/playback"
)

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/detail" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.playback == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "playback service is not configured")
		return
	}

	q := r.URL.Query()
	videoID := strings.TrimSpace(q.Get("videoId"))
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "videoId is required")
		return
	}
	line, err := parseNonNegativeInt(r, "line", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid line")
		return
	}
	rangeIndex, err := parseNonNegativeInt(r, "range", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
		return
	}
	size, err := parsePositiveInt(r, "size", episodes.DefaultRangeSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid size")
		return
	}

	view, err := s.playback.Detail(r.Context(), playback.DetailRequest{
		Source: domain.SourceRef{
			SiteKey:   strings.TrimSpace(q.Get("siteKey")),
			SiteName:  strings.TrimSpace(q.Get("siteName")),
			SpiderAPI: strings.TrimSpace(q.Get("spiderApi")),
			VideoID:   videoID,
		},
		Line: line,
		Options: episodes.Options{
			ShowRaw:    parseOptionalBool(q.Get("showRaw")),
			Descending: parseOptionalBool(q.Get("desc")),
		},
		Range:     rangeIndex,
		RangeSize: size,
	})
	if err != nil {
		s.logger.Warn("detail request failed",
			slog.String("site", q.Get("siteKey")),
			slog.String("videoId", videoID),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/play" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.playback == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "playback service is not configured")
		return
	}

	var req domain.PlayRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.playback.Play(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	body := map[string]any{
		"source":  result.Source,
		"history": result.History,
	}
	if s.player != nil {
		body["player"] = s.player.State()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/history" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.playback == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "playback service is not configured")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	items, err := s.playback.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("history list failed", slog.String("error", err.Error()))
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []domain.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
