package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

const (
	defaultRefreshInterval = 10 * time.Minute
	sessionLoadTimeout     = 45 * time.Second
)

type Credentials struct {
	ServerURL string
	Username  string
	Password  string
}

type cachedSession struct {
	session   domain.Session
	token     string
	fetchedAt time.Time
}

// Provider logs in to the MeowFilm server and caches the resulting session.
// Concurrent callers share one in-flight bootstrap.
type Provider struct {
	api     *APIClient
	creds   Credentials
	tokens  TokenStore
	retry   RetryConfig
	refresh time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group  singleflight.Group
	mu     sync.RWMutex
	cached *cachedSession
}

type ProviderOption func(*Provider)

func WithTokenStore(store TokenStore) ProviderOption {
	return func(p *Provider) {
		if store != nil {
			p.tokens = store
		}
	}
}

func WithRetryConfig(cfg RetryConfig) ProviderOption {
	return func(p *Provider) {
		p.retry = cfg
	}
}

func WithRefreshInterval(interval time.Duration) ProviderOption {
	return func(p *Provider) {
		if interval > 0 {
			p.refresh = interval
		}
	}
}

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProvider(api *APIClient, creds Credentials, opts ...ProviderOption) *Provider {
	p := &Provider{
		api:     api,
		creds:   creds,
		tokens:  NewMemoryTokenStore(),
		retry:   DefaultRetryConfig(),
		refresh: defaultRefreshInterval,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Session returns the cached session, bootstrapping it when missing or stale.
// The shared bootstrap is detached from any one caller, so a cancelled
// request only abandons its own wait.
func (p *Provider) Session(ctx context.Context) (domain.Session, error) {
	if cached := p.current(); cached != nil {
		return cached.session, nil
	}
	flight := p.group.DoChan("session", func() (any, error) {
		if cached := p.current(); cached != nil {
			return cached, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionLoadTimeout)
		defer cancel()
		loaded, err := p.load(loadCtx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cached = loaded
		p.mu.Unlock()
		return loaded, nil
	})
	select {
	case <-ctx.Done():
		return domain.Session{}, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return domain.Session{}, res.Err
		}
		return res.Val.(*cachedSession).session, nil
	}
}

// Invalidate drops the cached session so the next call bootstraps again.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// PushHistory mirrors a play record to the server using the current token.
func (p *Provider) PushHistory(ctx context.Context, record domain.HistoryRecord) error {
	if _, err := p.Session(ctx); err != nil {
		return err
	}
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached == nil {
		return domain.ErrNotAuthenticated
	}
	return p.api.PushHistory(ctx, p.creds.ServerURL, cached.token, record)
}

func (p *Provider) current() *cachedSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached == nil {
		return nil
	}
	if p.now().Sub(p.cached.fetchedAt) > p.refresh {
		return nil
	}
	return p.cached
}

func (p *Provider) load(ctx context.Context) (*cachedSession, error) {
	base := normalizeServer(p.creds.ServerURL)
	user := strings.TrimSpace(p.creds.Username)
	if base == "" || user == "" {
		return nil, domain.ErrNotConfigured
	}

	saved, err := p.tokens.Load(ctx, base, user)
	if err != nil {
		p.logger.Warn("token store load failed", slog.String("error", err.Error()))
	}
	if saved != "" {
		boot, err := p.bootstrap(ctx, base, saved)
		if err != nil {
			return nil, err
		}
		if boot.Authenticated {
			return p.finish(ctx, base, user, saved, boot)
		}
		p.logger.Info("saved token rejected, logging in again", slog.String("username", user))
		if err := p.tokens.Clear(ctx, base, user); err != nil {
			p.logger.Warn("token store clear failed", slog.String("error", err.Error()))
		}
	}

	if strings.TrimSpace(p.creds.Password) == "" {
		return nil, ErrMissingPassword
	}
	token, err := p.api.Login(ctx, base, user, p.creds.Password)
	if err != nil {
		return nil, err
	}
	if err := p.tokens.Save(ctx, base, user, token); err != nil {
		p.logger.Warn("token store save failed", slog.String("error", err.Error()))
	}
	boot, err := p.bootstrap(ctx, base, token)
	if err != nil {
		return nil, err
	}
	if !boot.Authenticated {
		return nil, domain.ErrNotAuthenticated
	}
	return p.finish(ctx, base, user, token, boot)
}

func (p *Provider) bootstrap(ctx context.Context, base, token string) (Bootstrap, error) {
	var boot Bootstrap
	err := RetryWithBackoff(ctx, p.retry, func() error {
		var err error
		boot, err = p.api.Bootstrap(ctx, base, token)
		return err
	})
	if err != nil {
		return Bootstrap{}, fmt.Errorf("bootstrap: %w", err)
	}
	return boot, nil
}

func (p *Provider) finish(ctx context.Context, base, user, token string, boot Bootstrap) (*cachedSession, error) {
	var sites []domain.Site
	err := RetryWithBackoff(ctx, p.retry, func() error {
		var err error
		sites, err = p.api.UserSites(ctx, base, token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("user sites: %w", err)
	}

	session := BuildSession(base, user, boot, sites)
	p.logger.Info("session ready",
		slog.String("server", base),
		slog.String("username", user),
		slog.String("role", session.Role),
		slog.Int("sites", len(sites)),
		slog.Int("threads", session.ThreadCount),
		slog.Bool("hasCatApiBase", session.CatAPIBase != ""),
	)
	return &cachedSession{session: session, token: token, fetchedAt: p.now()}, nil
}

// BuildSession assembles the working session from a bootstrap and site list.
func BuildSession(serverURL, username string, boot Bootstrap, sites []domain.Site) domain.Session {
	role := ""
	if boot.User != nil {
		role = boot.User.Role
	}
	return domain.Session{
		ServerURL:   normalizeServer(serverURL),
		Username:    strings.TrimSpace(username),
		Role:        role,
		SiteName:    boot.SiteName,
		CatAPIBase:  boot.CatAPIBase(),
		TVUser:      boot.TVUser(),
		ThreadCount: boot.Settings.SearchThreadCount,
		Sites:       sites,
		Settings: domain.SearchSettings{
			SiteOrder:         boot.Settings.SearchSiteOrder,
			CoverSite:         boot.Settings.SearchCoverSite,
			EpisodeRules:      boot.Settings.EpisodeRules,
			EpisodeCleanRules: boot.Settings.EpisodeCleanRules,
			AggregateRules:    boot.Settings.AggregateRules,
		},
	}
}
