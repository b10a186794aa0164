package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/playback"
	"github.com/jenfonro/MeowFilmTV/internal/player"
	"github.com/jenfonro/MeowFilmTV/internal/search"
	"github.com/jenfonro/MeowFilmTV/internal/spider"
)

type SearchStates interface {
	KeyFor(ctx context.Context, query string) search.QueryKey
	StateFor(key search.QueryKey) *search.QueryState
	EnsureSearch(key search.QueryKey) bool
	Invalidate(key search.QueryKey)
}

type Aggregator interface {
	Aggregate(ctx context.Context, keyword string) (domain.AggregateResponse, error)
}

type SiteDiagnostics interface {
	Diagnostics() []domain.SiteDiagnostics
}

type PlaybackService interface {
	Detail(ctx context.Context, req playback.DetailRequest) (playback.DetailView, error)
	Play(ctx context.Context, req domain.PlayRequest) (playback.PlayResult, error)
	History(ctx context.Context, limit int) ([]domain.HistoryRecord, error)
}

type PlayerControl interface {
	State() player.State
	SwitchTo(kind player.EngineKind) error
	Stop() error
	ReportError(ctx context.Context, kind player.EngineKind, failure error) bool
	ReportStatus(kind player.EngineKind, status player.Status)
}

type Server struct {
	states     SearchStates
	aggregator Aggregator
	health     SiteDiagnostics
	playback   PlaybackService
	player     PlayerControl
	hub        *RendererHub
	logger     *slog.Logger

	rateLimitRPS   float64
	rateLimitBurst int
}

const (
	maxQueryLength        = 500
	rendererReportTimeout = 10 * time.Second
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithAggregator(aggregator Aggregator) ServerOption {
	return func(s *Server) {
		s.aggregator = aggregator
	}
}

func WithSiteDiagnostics(health SiteDiagnostics) ServerOption {
	return func(s *Server) {
		s.health = health
	}
}

func WithPlayback(svc PlaybackService) ServerOption {
	return func(s *Server) {
		s.playback = svc
	}
}

func WithPlayer(control PlayerControl, hub *RendererHub) ServerOption {
	return func(s *Server) {
		s.player = control
		s.hub = hub
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimitRPS = rps
		s.rateLimitBurst = burst
	}
}

func NewServer(states SearchStates, options ...ServerOption) *Server {
	server := &Server{
		states:         states,
		logger:         slog.Default(),
		rateLimitRPS:   50,
		rateLimitBurst: 100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.hub != nil && server.player != nil {
		server.hub.setHandler(server.handleRendererMessage)
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/search/stream", s.handleSearchStream)
	mux.HandleFunc("/search/state", s.handleSearchState)
	mux.HandleFunc("/search/sites", s.handleSearchSites)
	mux.HandleFunc("/detail", s.handleDetail)
	mux.HandleFunc("/play", s.handlePlay)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/player", s.handlePlayerState)
	mux.HandleFunc("/player/engine", s.handlePlayerEngine)
	mux.HandleFunc("/player/stop", s.handlePlayerStop)
	mux.HandleFunc("/player/ws", s.handlePlayerWS)
	traced := otelhttp.NewHandler(mux, "meowfilm-tv",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != "/player/ws"
		}),
	)
	return observeMiddleware(s.logger, recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst, traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if s.hub != nil {
		body["renderers"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, body)
}

// writeServiceError maps package errors onto the error envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	var statusErr *spider.StatusError
	switch {
	case errors.Is(err, playback.ErrInvalidRequest),
		errors.Is(err, domain.ErrEmptyKeyword),
		errors.Is(err, spider.ErrInvalidSpiderAPI):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotConfigured),
		errors.Is(err, domain.ErrNoSites),
		errors.Is(err, spider.ErrMissingAPIBase):
		writeError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
	case errors.Is(err, domain.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not_authenticated", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, player.ErrReleased):
		writeError(w, http.StatusConflict, "player_released", err.Error())
	case errors.Is(err, playback.ErrResolve),
		errors.Is(err, spider.ErrNoPlayableURL),
		errors.Is(err, spider.ErrInvalidResponse),
		errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseNonNegativeInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // client disconnected
	}
	flusher.Flush()
	return nil
}
