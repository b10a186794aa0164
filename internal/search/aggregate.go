package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/magic"
	"github.com/jenfonro/MeowFilmTV/internal/spider"
	"github.com/jenfonro/MeowFilmTV/internal/textnorm"
)

const (
	AggregateSiteKey = "AGG"

	// missingPriority ranks sites absent from the priority order last.
	missingPriority = 999999

	defaultAggregateConcurrencyCap = 20
)

// AggregateCard builds the synthetic card for a title that at least two
// sites matched exactly. Title and poster come from the first exact item.
func AggregateCard(snap domain.QuerySnapshot) (domain.AggregateCard, bool) {
	sources := dedupeSources(snap.ExactSources)
	if len(sources) < 2 {
		return domain.AggregateCard{}, false
	}
	var cover *domain.SearchResultItem
	for i := range snap.Items {
		if snap.Items[i].Exact {
			cover = &snap.Items[i]
			break
		}
	}
	if cover == nil {
		return domain.AggregateCard{}, false
	}
	title := cover.Title
	if strings.TrimSpace(title) == "" {
		title = snap.Query
	}
	return domain.AggregateCard{
		SiteKey:  AggregateSiteKey,
		SiteName: fmt.Sprintf("聚合 · %d源", len(sources)),
		Title:    title,
		Poster:   cover.Poster,
		Sources:  sources,
	}, true
}

func dedupeSources(refs []domain.SourceRef) []domain.SourceRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]domain.SourceRef, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.Key()]; ok {
			continue
		}
		seen[ref.Key()] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// NormalizedKey is the grouping key of a title after the aggregate replace
// rules. An empty key never groups.
func NormalizedKey(title string, rules []magic.Rule) string {
	return textnorm.Normalize(magic.ApplyReplace(title, rules))
}

type Group struct {
	Key   string
	Items []domain.SearchResultItem
}

// GroupItems buckets items by NormalizedKey in first-seen order.
func GroupItems(items []domain.SearchResultItem, rules []magic.Rule) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, item := range items {
		key := NormalizedKey(item.Title, rules)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// Priority ranks sites for cover and ordering decisions.
type Priority struct {
	coverSite string
	order     map[string]int
}

func NewPriority(settings domain.SearchSettings) Priority {
	order := make(map[string]int, len(settings.SiteOrder))
	for i, key := range settings.SiteOrder {
		if _, ok := order[key]; !ok {
			order[key] = i
		}
	}
	return Priority{coverSite: strings.TrimSpace(settings.CoverSite), order: order}
}

func (p Priority) Rank(siteKey string) int {
	if rank, ok := p.order[siteKey]; ok {
		return rank
	}
	return missingPriority
}

// Primary picks the cover site's item, else the best ranked, else the first.
func (p Priority) Primary(items []domain.SearchResultItem) (domain.SearchResultItem, bool) {
	if len(items) == 0 {
		return domain.SearchResultItem{}, false
	}
	if p.coverSite != "" {
		for _, item := range items {
			if item.SiteKey == p.coverSite {
				return item, true
			}
		}
	}
	best := items[0]
	for _, item := range items[1:] {
		if p.Rank(item.SiteKey) < p.Rank(best.SiteKey) {
			best = item
		}
	}
	return best, true
}

// Aggregator is the one-shot path that returns a merged result list instead
// of a live state.
type Aggregator struct {
	sessions SessionProvider
	searcher SiteSearcher
	health   *SiteHealth
	cap      int
	logger   *slog.Logger
}

type AggregatorOption func(*Aggregator)

func WithAggregateConcurrencyCap(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.cap = n
		}
	}
}

func WithAggregateHealth(health *SiteHealth) AggregatorOption {
	return func(a *Aggregator) {
		a.health = health
	}
}

func WithAggregateLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAggregator(sessions SessionProvider, searcher SiteSearcher, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		sessions: sessions,
		searcher: searcher,
		cap:      defaultAggregateConcurrencyCap,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate searches every site and merges titles that share a normalized
// key. A blank keyword yields an empty response. The call fails only when
// every site failed.
func (a *Aggregator) Aggregate(ctx context.Context, keyword string) (domain.AggregateResponse, error) {
	startedAt := time.Now()
	query := strings.TrimSpace(keyword)
	response := domain.AggregateResponse{Query: query, Items: []domain.AggregatedResult{}}
	if query == "" {
		return response, nil
	}

	session, sites, err := prepareSearch(ctx, a.sessions)
	if err != nil {
		return domain.AggregateResponse{}, err
	}

	endpoint := spider.EndpointFor(session)
	workers := searchWorkers(session, a.cap, len(sites))
	var items []domain.SearchResultItem
	errs := fanOut(ctx, workers, sites, func(site domain.Site) siteOutcome {
		started := time.Now()
		got, err := a.searcher.Search(ctx, endpoint, site, query)
		if ctx.Err() == nil {
			a.health.Record(site, query, err, time.Since(started), time.Now())
		}
		return siteOutcome{site: site, items: got, err: err}
	}, func(out siteOutcome) {
		items = append(items, out.items...)
	})
	if err := ctx.Err(); err != nil {
		return domain.AggregateResponse{}, err
	}
	response.Sites = len(sites)
	response.Errors = errs
	if len(items) == 0 && len(errs) > 0 {
		return domain.AggregateResponse{}, errors.New(combineErrors(errs))
	}

	rules := magic.CompileReplaceRules(session.Settings.AggregateRules)
	priority := NewPriority(session.Settings)
	response.Items = merge(GroupItems(items, rules), priority)
	response.ElapsedMS = time.Since(startedAt).Milliseconds()
	a.logger.Info("aggregate search finished",
		slog.String("query", query),
		slog.Int("sites", len(sites)),
		slog.Int("items", len(items)),
		slog.Int("groups", len(response.Items)),
		slog.Int("errors", len(errs)),
	)
	return response, nil
}

// merge turns groups into results ordered by the rank of each group's first
// source, then by title.
func merge(groups []Group, priority Priority) []domain.AggregatedResult {
	results := make([]domain.AggregatedResult, 0, len(groups))
	for _, group := range groups {
		primary, ok := priority.Primary(group.Items)
		if !ok {
			continue
		}
		refs := make([]domain.SourceRef, 0, len(group.Items))
		for _, item := range group.Items {
			refs = append(refs, item.SourceRef())
		}
		results = append(results, domain.AggregatedResult{
			Title:   primary.Title,
			Poster:  primary.Poster,
			Remark:  primary.Remark,
			Sources: dedupeSources(refs),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := priority.Rank(results[i].Sources[0].SiteKey), priority.Rank(results[j].Sources[0].SiteKey)
		if ri != rj {
			return ri < rj
		}
		return results[i].Title < results[j].Title
	})
	return results
}
