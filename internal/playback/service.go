// Package playback ties a detail lookup, play resolution, history and the
// player controller together into the flow a TV front end drives.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/episodes"
	"github.com/jenfonro/MeowFilmTV/internal/metrics"
	"github.com/jenfonro/MeowFilmTV/internal/spider"
	"github.com/jenfonro/MeowFilmTV/internal/textnorm"
)

const defaultDetailTTL = 10 * time.Minute

type SessionProvider interface {
	Session(ctx context.Context) (domain.Session, error)
}

type Resolver interface {
	Detail(ctx context.Context, endpoint spider.Endpoint, spiderAPI, videoID string) (domain.VideoDetail, error)
	Play(ctx context.Context, endpoint spider.Endpoint, spiderAPI, flag, id string) (domain.PlaybackSource, error)
}

type DetailCache interface {
	Get(ctx context.Context, key string) (domain.VideoDetail, bool, error)
	Set(ctx context.Context, key string, detail domain.VideoDetail, ttl time.Duration) error
}

type HistoryStore interface {
	Upsert(ctx context.Context, record domain.HistoryRecord) error
	ListRecent(ctx context.Context, limit int) ([]domain.HistoryRecord, error)
}

// HistorySync mirrors local history to the MeowFilm server.
type HistorySync interface {
	PushHistory(ctx context.Context, record domain.HistoryRecord) error
}

type Player interface {
	SetSource(ctx context.Context, url string, headers map[string]string, force bool) error
}

type Service struct {
	sessions SessionProvider
	resolver Resolver
	history  HistoryStore
	player   Player

	cache     DetailCache
	detailTTL time.Duration
	sync      HistorySync
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithDetailCache(cache DetailCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		if ttl > 0 {
			s.detailTTL = ttl
		}
	}
}

func WithHistorySync(sync HistorySync) Option {
	return func(s *Service) {
		s.sync = sync
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(sessions SessionProvider, resolver Resolver, history HistoryStore, player Player, opts ...Option) *Service {
	s := &Service{
		sessions:  sessions,
		resolver:  resolver,
		history:   history,
		player:    player,
		detailTTL: defaultDetailTTL,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type DetailRequest struct {
	Source    domain.SourceRef
	Line      int
	Options   episodes.Options
	Range     int
	RangeSize int
}

type DetailView struct {
	Detail     domain.VideoDetail `json:"detail"`
	Lines      []domain.PlayLine  `json:"lines"`
	Line       int                `json:"line"`
	Episodes   []domain.Episode   `json:"episodes"`
	Range      int                `json:"range"`
	RangeCount int                `json:"rangeCount"`
	Cached     bool               `json:"cached"`
}

// Detail loads one video and projects the selected line through the
// display options and range page.
func (s *Service) Detail(ctx context.Context, req DetailRequest) (DetailView, error) {
	if strings.TrimSpace(req.Source.VideoID) == "" {
		return DetailView{}, ErrInvalidRequest
	}
	session, err := s.sessions.Session(ctx)
	if err != nil {
		return DetailView{}, err
	}
	endpoint := spider.EndpointFor(session)
	spiderAPI := resolveSpiderAPI(session, req.Source.SiteKey, req.Source.SpiderAPI)

	detail, cached, err := s.loadDetail(ctx, endpoint, spiderAPI, req.Source.VideoID)
	if err != nil {
		return DetailView{}, err
	}

	lines := episodes.Parse(detail.PlayFrom, detail.PlayURL, episodes.CompileRules(session.Settings))
	view := DetailView{
		Detail:     detail,
		Lines:      lines,
		Range:      max(req.Range, 0),
		RangeCount: 1,
		Cached:     cached,
	}
	if len(lines) == 0 {
		return view, nil
	}
	if req.Line >= 0 && req.Line < len(lines) {
		view.Line = req.Line
	}
	size := req.RangeSize
	if size <= 0 {
		size = episodes.DefaultRangeSize
	}
	list := episodes.View(lines[view.Line], req.Options)
	view.RangeCount = episodes.RangeCount(len(list), size)
	if view.Range >= view.RangeCount {
		view.Range = 0
	}
	view.Episodes = episodes.Slice(list, view.Range, size)
	return view, nil
}

func (s *Service) loadDetail(ctx context.Context, endpoint spider.Endpoint, spiderAPI, videoID string) (domain.VideoDetail, bool, error) {
	key := spider.DetailCacheKey(endpoint, spiderAPI, videoID)
	if s.cache != nil {
		detail, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Debug("detail cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		case ok:
			metrics.DetailCacheHitsTotal.Inc()
			return detail, true, nil
		}
		metrics.DetailCacheMissesTotal.Inc()
	}

	detail, err := s.resolver.Detail(ctx, endpoint, spiderAPI, videoID)
	if err != nil {
		return domain.VideoDetail{}, false, err
	}
	if s.cache != nil && strings.TrimSpace(detail.PlayURL) != "" {
		if err := s.cache.Set(ctx, key, detail, s.detailTTL); err != nil {
			s.logger.Debug("detail cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return detail, false, nil
}

// resolveSpiderAPI prefers the site's configured API over the one the
// caller carried along, so a stale reference follows a moved spider.
func resolveSpiderAPI(session domain.Session, siteKey, fallback string) string {
	if site, ok := session.SiteByKey(siteKey); ok && strings.TrimSpace(site.API) != "" {
		return site.API
	}
	return strings.TrimSpace(fallback)
}

type PlayResult struct {
	Source  domain.PlaybackSource `json:"source"`
	History domain.HistoryRecord  `json:"history"`
}

// Play resolves one episode, records it in history and hands the stream to
// the player. Replaying the source already on the player does not reload it.
// History failures are logged, never returned.
func (s *Service) Play(ctx context.Context, req domain.PlayRequest) (PlayResult, error) {
	if strings.TrimSpace(req.VideoID) == "" || strings.TrimSpace(req.EpisodeID) == "" {
		return PlayResult{}, ErrInvalidRequest
	}
	session, err := s.sessions.Session(ctx)
	if err != nil {
		return PlayResult{}, err
	}
	endpoint := spider.EndpointFor(session)
	if strings.TrimSpace(endpoint.APIBase) == "" || strings.TrimSpace(endpoint.TVUser) == "" {
		return PlayResult{}, domain.ErrNotConfigured
	}
	spiderAPI := resolveSpiderAPI(session, req.SiteKey, req.SpiderAPI)

	source, err := s.resolver.Play(ctx, endpoint, spiderAPI, req.Flag, req.EpisodeID)
	metrics.PlayResolveTotal.WithLabelValues(resolveStatus(err)).Inc()
	if err != nil {
		s.logger.Warn("play resolve failed",
			slog.String("site", req.SiteKey),
			slog.String("videoId", req.VideoID),
			slog.String("error", err.Error()),
		)
		return PlayResult{}, wrapResolve(err)
	}

	record := s.historyRecord(req, spiderAPI)
	s.recordHistory(ctx, record)

	if err := s.player.SetSource(ctx, source.URL, source.Headers, false); err != nil {
		return PlayResult{}, wrapPlayer(err)
	}
	s.logger.Info("playback started",
		slog.String("site", req.SiteKey),
		slog.String("title", req.Title),
		slog.Int("episode", record.EpisodeIndex),
	)
	return PlayResult{Source: source, History: record}, nil
}

func (s *Service) historyRecord(req domain.PlayRequest, spiderAPI string) domain.HistoryRecord {
	title := strings.TrimSpace(req.Title)
	key := textnorm.Normalize(title)
	if key == "" {
		key = title
	}
	return domain.HistoryRecord{
		ContentKey:   key,
		Title:        title,
		Poster:       strings.TrimSpace(req.Poster),
		SiteKey:      strings.TrimSpace(req.SiteKey),
		SiteName:     strings.TrimSpace(req.SiteName),
		SpiderAPI:    spiderAPI,
		VideoID:      strings.TrimSpace(req.VideoID),
		PlayFlag:     strings.TrimSpace(req.Flag),
		EpisodeIndex: max(req.EpisodeIndex, 1),
		EpisodeName:  strings.TrimSpace(req.EpisodeName),
		UpdatedAt:    s.now(),
	}
}

func (s *Service) recordHistory(ctx context.Context, record domain.HistoryRecord) {
	if record.Title == "" {
		return
	}
	if s.history != nil {
		if err := s.history.Upsert(ctx, record); err != nil {
			s.logger.Warn("history write failed", slog.String("title", record.Title), slog.String("error", err.Error()))
		}
	}
	if s.sync != nil {
		if err := s.sync.PushHistory(ctx, record); err != nil {
			s.logger.Debug("history sync failed", slog.String("title", record.Title), slog.String("error", err.Error()))
		}
	}
}

func (s *Service) History(ctx context.Context, limit int) ([]domain.HistoryRecord, error) {
	if s.history == nil {
		return []domain.HistoryRecord{}, nil
	}
	return s.history.ListRecent(ctx, limit)
}

func resolveStatus(err error) string {
	var statusErr *spider.StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, spider.ErrNoPlayableURL):
		return "no_url"
	case errors.As(err, &statusErr):
		return "http_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
