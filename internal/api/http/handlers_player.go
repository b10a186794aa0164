package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jenfonro/MeowFilmTV/internal/player"
)

func (s *Server) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/player" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.player == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "player is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.player.State())
}

func (s *Server) handlePlayerEngine(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/player/engine" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.player == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "player is not configured")
		return
	}
	var payload struct {
		Engine string `json:"engine"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	kind, err := player.ParseEngineKind(payload.Engine)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.player.SwitchTo(kind); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.player.State())
}

func (s *Server) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/player/stop" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.player == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "player is not configured")
		return
	}
	if err := s.player.Stop(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.player.State())
}

func (s *Server) handlePlayerWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "renderer hub is not configured")
		return
	}
	s.hub.serve(w, r)
}

// handleRendererMessage feeds renderer reports into the controller.
func (s *Server) handleRendererMessage(msg rendererMessage) {
	kind, err := player.ParseEngineKind(msg.Engine)
	if err != nil {
		s.logger.Debug("renderer message for unknown engine", slog.String("engine", msg.Engine))
		return
	}
	switch msg.Type {
	case "error":
		ctx, cancel := context.WithTimeout(context.Background(), rendererReportTimeout)
		defer cancel()
		if s.player.ReportError(ctx, kind, msg.failure()) {
			s.logger.Info("renderer error triggered engine fallback", slog.String("engine", msg.Engine))
		}
	case "status":
		status, ok := player.ParseStatus(msg.Status)
		if !ok {
			s.logger.Debug("renderer sent unknown status", slog.String("status", msg.Status))
			return
		}
		s.player.ReportStatus(kind, status)
	default:
		s.logger.Debug("renderer sent unknown message", slog.String("type", msg.Type))
	}
}
