package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/textnorm"
)

// QueryKey scopes accumulated results to one account and one query text.
type QueryKey struct {
	Server   string
	Username string
	Query    string
}

func NewQueryKey(server, username, query string) QueryKey {
	return QueryKey{
		Server:   strings.TrimSpace(server),
		Username: strings.TrimSpace(username),
		Query:    strings.TrimSpace(query),
	}
}

func (k QueryKey) String() string {
	return k.Server + "|" + k.Username + "|" + k.Query
}

// QueryState holds the results of one query. Only the run collector
// mutates it; readers go through Snapshot or Watch.
type QueryState struct {
	key QueryKey

	mu           sync.RWMutex
	status       domain.RunStatus
	runID        string
	cancel       context.CancelFunc
	items        []domain.SearchResultItem
	seen         map[string]struct{}
	siteCounts   map[string]int
	siteNames    map[string]string
	exactSources []domain.SourceRef
	exactSites   map[string]struct{}
	errText      string
	done         int
	total        int
	updatedAt    time.Time
	changed      chan struct{}
}

func newQueryState(key QueryKey) *QueryState {
	st := &QueryState{
		key:     key,
		status:  domain.RunIdle,
		changed: make(chan struct{}),
	}
	st.resetLocked()
	return st
}

func (st *QueryState) Key() QueryKey {
	return st.key
}

func (st *QueryState) resetLocked() {
	st.items = nil
	st.seen = make(map[string]struct{})
	st.siteCounts = make(map[string]int)
	st.siteNames = make(map[string]string)
	st.exactSources = nil
	st.exactSites = make(map[string]struct{})
	st.errText = ""
	st.done = 0
	st.total = 0
}

// notifyLocked wakes every watcher. Callers hold the write lock.
func (st *QueryState) notifyLocked(now time.Time) {
	st.updatedAt = now
	close(st.changed)
	st.changed = make(chan struct{})
}

// Snapshot copies the current state.
func (st *QueryState) Snapshot() domain.QuerySnapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshotLocked()
}

// Watch returns a snapshot together with a channel closed on the next change.
func (st *QueryState) Watch() (domain.QuerySnapshot, <-chan struct{}) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshotLocked(), st.changed
}

func (st *QueryState) snapshotLocked() domain.QuerySnapshot {
	snap := domain.QuerySnapshot{
		Key:          st.key.String(),
		Query:        st.key.Query,
		RunID:        st.runID,
		Status:       st.status,
		Items:        append([]domain.SearchResultItem(nil), st.items...),
		SiteCounts:   make(map[string]int, len(st.siteCounts)),
		SiteNames:    make(map[string]string, len(st.siteNames)),
		ExactSources: append([]domain.SourceRef(nil), st.exactSources...),
		Loading:      st.status == domain.RunRunning,
		Error:        st.errText,
		Done:         st.done,
		Total:        st.total,
		UpdatedAt:    st.updatedAt,
	}
	for k, v := range st.siteCounts {
		snap.SiteCounts[k] = v
	}
	for k, v := range st.siteNames {
		snap.SiteNames[k] = v
	}
	return snap
}

// cached reports whether a settled run should be served as is.
func (st *QueryState) cachedLocked() bool {
	return st.status == domain.RunSettled && (len(st.items) > 0 || st.errText != "")
}

func (st *QueryState) beginLocked(runID string, cancel context.CancelFunc, now time.Time) {
	st.resetLocked()
	st.status = domain.RunRunning
	st.runID = runID
	st.cancel = cancel
	st.notifyLocked(now)
}

// failLocked settles the state with errText without starting a run.
func (st *QueryState) failLocked(errText string, now time.Time) {
	st.resetLocked()
	st.status = domain.RunSettled
	st.runID = ""
	st.cancel = nil
	st.errText = errText
	st.notifyLocked(now)
}

// applySite merges one site's response. Items already seen under the same
// (siteKey, videoId) are dropped; the site count still reflects the raw
// response size.
func (st *QueryState) applySite(runID string, site domain.Site, items []domain.SearchResultItem, queryKey string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.runID != runID {
		return
	}
	siteName := site.DisplayName()
	st.siteNames[site.Key] = siteName
	st.siteCounts[site.Key] += len(items)
	for _, item := range items {
		dedupe := item.DedupeKey()
		if _, ok := st.seen[dedupe]; ok {
			continue
		}
		st.seen[dedupe] = struct{}{}
		if strings.TrimSpace(item.SiteName) == "" {
			item.SiteName = item.SiteKey
		}
		item.Exact = queryKey != "" && textnorm.Normalize(item.Title) == queryKey
		st.items = append(st.items, item)
		if item.Exact {
			if _, ok := st.exactSites[item.SiteKey]; !ok {
				st.exactSites[item.SiteKey] = struct{}{}
				st.exactSources = append(st.exactSources, item.SourceRef())
			}
		}
	}
	st.notifyLocked(now)
}

func (st *QueryState) siteDone(runID string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.runID != runID {
		return
	}
	st.done++
	st.notifyLocked(now)
}

// settle ends a run. errText is kept only when the run produced no items.
func (st *QueryState) settle(runID, errText string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.runID != runID {
		return
	}
	st.status = domain.RunSettled
	st.cancel = nil
	if len(st.items) == 0 {
		st.errText = errText
	}
	st.notifyLocked(now)
}

// abandon returns a cancelled run to idle so a later request can start over.
func (st *QueryState) abandon(runID string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.runID != runID {
		return
	}
	st.status = domain.RunIdle
	st.cancel = nil
	st.notifyLocked(now)
}

func (st *QueryState) cancelRun() {
	st.mu.Lock()
	cancel := st.cancel
	st.cancel = nil
	st.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
