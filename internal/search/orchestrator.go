// Package search fans a keyword out to every searchable site of a session
// and accumulates the results per query.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/metrics"
	"github.com/jenfonro/MeowFilmTV/internal/spider"
	"github.com/jenfonro/MeowFilmTV/internal/textnorm"
)

const (
	defaultSearchConcurrencyCap = 12
	sessionResolveTimeout       = 30 * time.Second
)

type SessionProvider interface {
	Session(ctx context.Context) (domain.Session, error)
}

type SiteSearcher interface {
	Search(ctx context.Context, endpoint spider.Endpoint, site domain.Site, keyword string) ([]domain.SearchResultItem, error)
}

// Orchestrator owns the per-query states and the runs that fill them.
type Orchestrator struct {
	sessions SessionProvider
	searcher SiteSearcher
	health   *SiteHealth
	cap      int // worker ceiling regardless of the session thread count
	logger   *slog.Logger
	now      func() time.Time

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	states map[string]*QueryState
	closed bool
}

type OrchestratorOption func(*Orchestrator)

func WithConcurrencyCap(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.cap = n
		}
	}
}

func WithSiteHealth(health *SiteHealth) OrchestratorOption {
	return func(o *Orchestrator) {
		o.health = health
	}
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewOrchestrator(sessions SessionProvider, searcher SiteSearcher, opts ...OrchestratorOption) *Orchestrator {
	root, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessions: sessions,
		searcher: searcher,
		cap:      defaultSearchConcurrencyCap,
		logger:   slog.Default(),
		now:      time.Now,
		root:     root,
		stop:     stop,
		states:   make(map[string]*QueryState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// KeyFor builds the state key for query under the current session. When no
// session is available the key carries only the query; the run then settles
// with the session error.
func (o *Orchestrator) KeyFor(ctx context.Context, query string) QueryKey {
	session, err := o.sessions.Session(ctx)
	if err != nil {
		return NewQueryKey("", "", query)
	}
	return NewQueryKey(session.ServerURL, session.Username, query)
}

// StateFor returns the state for key, creating an idle one on first access.
func (o *Orchestrator) StateFor(key QueryKey) *QueryState {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := key.String()
	st, ok := o.states[id]
	if !ok {
		st = newQueryState(key)
		o.states[id] = st
	}
	return st
}

// Invalidate cancels any active run for key and drops its state.
func (o *Orchestrator) Invalidate(key QueryKey) {
	o.mu.Lock()
	st, ok := o.states[key.String()]
	delete(o.states, key.String())
	o.mu.Unlock()
	if ok {
		st.cancelRun()
	}
}

// EnsureSearch starts a run for key unless one is active or the settled
// result is still usable. It reports whether a run was started. A session
// that cannot support a search settles the state before EnsureSearch
// returns, so the caller never observes a loading state for it.
func (o *Orchestrator) EnsureSearch(key QueryKey) bool {
	st := o.StateFor(key)

	st.mu.Lock()
	if key.Query == "" {
		st.failLocked(domain.ErrEmptyKeyword.Error(), o.now())
		st.mu.Unlock()
		return false
	}
	busy := st.status == domain.RunRunning || st.cachedLocked()
	st.mu.Unlock()
	if busy {
		return false
	}

	prepCtx, cancelPrep := context.WithTimeout(o.root, sessionResolveTimeout)
	session, sites, prepErr := prepareSearch(prepCtx, o.sessions)
	cancelPrep()
	if prepErr != nil && o.root.Err() != nil {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status == domain.RunRunning || st.cachedLocked() {
		return false
	}
	if prepErr != nil {
		o.logger.Warn("search not started",
			slog.String("query", key.Query),
			slog.String("error", prepErr.Error()),
		)
		st.failLocked(prepErr.Error(), o.now())
		metrics.SearchRunsTotal.WithLabelValues("error").Inc()
		return false
	}

	o.mu.Lock()
	closed := o.closed
	if !closed {
		o.wg.Add(1)
	}
	o.mu.Unlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithCancel(o.root)
	runID := uuid.NewString()
	st.beginLocked(runID, cancel, o.now())
	st.total = len(sites)

	go o.run(ctx, cancel, st, runID, session, sites)
	return true
}

// Close cancels every active run and waits for them to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()
	o.wg.Wait()
}

// Health exposes the per-site request diagnostics.
func (o *Orchestrator) Health() *SiteHealth {
	return o.health
}

type siteOutcome struct {
	site  domain.Site
	items []domain.SearchResultItem
	err   error
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, st *QueryState, runID string, session domain.Session, sites []domain.Site) {
	defer o.wg.Done()
	defer cancel()

	startedAt := o.now()
	query := st.key.Query
	logger := o.logger.With(slog.String("runId", runID), slog.String("query", query))

	workers := searchWorkers(session, o.cap, len(sites))
	logger.Info("search started", slog.Int("sites", len(sites)), slog.Int("workers", workers))

	errs := fanOut(ctx, workers, sites, func(site domain.Site) siteOutcome {
		return o.searchSite(ctx, spider.EndpointFor(session), site, query)
	}, func(out siteOutcome) {
		if out.err == nil {
			st.applySite(runID, out.site, out.items, textnorm.Normalize(query), o.now())
		}
		st.siteDone(runID, o.now())
	})

	if ctx.Err() != nil {
		st.abandon(runID, o.now())
		metrics.SearchRunsTotal.WithLabelValues("cancelled").Inc()
		logger.Info("search cancelled")
		return
	}

	st.settle(runID, combineErrors(errs), o.now())
	snap := st.Snapshot()
	outcome := "ok"
	if snap.Error != "" {
		outcome = "error"
	}
	metrics.SearchRunsTotal.WithLabelValues(outcome).Inc()
	logger.Info("search finished",
		slog.Int("items", len(snap.Items)),
		slog.Int("errors", len(errs)),
		slog.Duration("elapsed", o.now().Sub(startedAt)),
	)
}

// prepareSearch resolves the session and the site list, failing before any
// network call to a site when the configuration cannot support a search.
func prepareSearch(ctx context.Context, sessions SessionProvider) (domain.Session, []domain.Site, error) {
	session, err := sessions.Session(ctx)
	if err != nil {
		return domain.Session{}, nil, err
	}
	if session.Blank() ||
		spider.NormalizeAPIBase(session.CatAPIBase) == "" ||
		strings.TrimSpace(session.TVUser) == "" {
		return domain.Session{}, nil, domain.ErrNotConfigured
	}
	sites := session.SearchableSites()
	if len(sites) == 0 {
		return domain.Session{}, nil, domain.ErrNoSites
	}
	return session, sites, nil
}

// searchWorkers is the session thread count bounded by the service cap and
// the number of sites.
func searchWorkers(session domain.Session, ceiling, sites int) int {
	return max(min(session.EffectiveThreadCount(), ceiling, sites), 1)
}

func (o *Orchestrator) searchSite(ctx context.Context, endpoint spider.Endpoint, site domain.Site, query string) siteOutcome {
	started := time.Now()
	items, err := o.searcher.Search(ctx, endpoint, site, query)
	if ctx.Err() == nil {
		o.health.Record(site, query, err, time.Since(started), o.now())
	}
	if err != nil {
		o.logger.Debug("site search failed",
			slog.String("site", site.Key),
			slog.String("error", err.Error()),
		)
	}
	return siteOutcome{site: site, items: items, err: err}
}

// siteQueue is claimed by workers one site at a time.
type siteQueue struct {
	mu    sync.Mutex
	sites []domain.Site
}

func (q *siteQueue) pop() (domain.Site, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.sites) == 0 {
		return domain.Site{}, false
	}
	site := q.sites[0]
	q.sites = q.sites[1:]
	return site, true
}

// fanOut runs search for every site on a fixed set of workers. Each outcome
// is handed to collect on the calling goroutine, which is therefore the only
// writer of whatever collect touches. Failures come back as
// "{siteName}: {message}" in completion order.
func fanOut(ctx context.Context, workers int, sites []domain.Site, search func(domain.Site) siteOutcome, collect func(siteOutcome)) []string {
	queue := &siteQueue{sites: append([]domain.Site(nil), sites...)}
	outcomes := make(chan siteOutcome)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < max(workers, 1); i++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				site, ok := queue.pop()
				if !ok {
					return nil
				}
				out := search(site)
				select {
				case outcomes <- out:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}
	go func() {
		_ = g.Wait()
		close(outcomes)
	}()

	var errs []string
	for out := range outcomes {
		if out.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", out.site.DisplayName(), errorMessage(out.err)))
		}
		collect(out)
	}
	return errs
}

func errorMessage(err error) string {
	if message := strings.TrimSpace(err.Error()); message != "" {
		return message
	}
	return "error"
}

// combineErrors joins the first two distinct messages.
func combineErrors(errs []string) string {
	var picked []string
	for _, e := range errs {
		if len(picked) == 2 {
			break
		}
		duplicate := false
		for _, p := range picked {
			if p == e {
				duplicate = true
				break
			}
		}
		if !duplicate {
			picked = append(picked, e)
		}
	}
	return strings.Join(picked, "；")
}
