package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/metrics"
)

type siteHealth struct {
	name                string
	consecutiveFailures int
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	lastQuery           string
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

// SiteHealth tracks request outcomes per site across all runs.
type SiteHealth struct {
	mu    sync.Mutex
	sites map[string]*siteHealth
}

func NewSiteHealth() *SiteHealth {
	return &SiteHealth{sites: make(map[string]*siteHealth)}
}

func (h *SiteHealth) Record(site domain.Site, query string, err error, latency time.Duration, now time.Time) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(site.Key)
	if key == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.sites[key]
	if state == nil {
		state = &siteHealth{}
		h.sites[key] = state
	}
	state.name = site.DisplayName()
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.SiteRequestDuration.WithLabelValues(key).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.SiteRequestsTotal.WithLabelValues(key, "ok").Inc()
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.SiteRequestsTotal.WithLabelValues(key, status).Inc()
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

func (h *SiteHealth) Diagnostics() []domain.SiteDiagnostics {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]domain.SiteDiagnostics, 0, len(h.sites))
	for key, state := range h.sites {
		item := domain.SiteDiagnostics{
			Key:                 key,
			Name:                state.name,
			ConsecutiveFailures: state.consecutiveFailures,
			LastError:           state.lastError,
			LastLatencyMS:       state.lastLatency.Milliseconds(),
			LastTimeout:         state.lastTimeout,
			LastQuery:           state.lastQuery,
			TotalRequests:       state.totalRequests,
			TotalFailures:       state.totalFailures,
			TimeoutCount:        state.timeoutCount,
		}
		if !state.lastSuccessAt.IsZero() {
			lastSuccessAt := state.lastSuccessAt
			item.LastSuccessAt = &lastSuccessAt
		}
		if !state.lastFailureAt.IsZero() {
			lastFailureAt := state.lastFailureAt
			item.LastFailureAt = &lastFailureAt
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Key) < strings.ToLower(items[j].Key)
	})
	return items
}
