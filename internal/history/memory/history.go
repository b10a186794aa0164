// Package memory keeps play history in process for deployments without MongoDB.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

const (
	defaultMaxEntries = 200
	defaultListLimit  = 20
)

var ErrInvalidRecord = errors.New("history record needs a title")

type HistoryStore struct {
	mu         sync.RWMutex
	records    map[string]domain.HistoryRecord
	maxEntries int
	now        func() time.Time
}

type HistoryOption func(*HistoryStore)

func WithMaxEntries(n int) HistoryOption {
	return func(s *HistoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func NewHistoryStore(opts ...HistoryOption) *HistoryStore {
	s := &HistoryStore{
		records:    make(map[string]domain.HistoryRecord),
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert merges the record into the entry for its content key. Blank fields
// keep the stored values.
func (s *HistoryStore) Upsert(_ context.Context, record domain.HistoryRecord) error {
	title := strings.TrimSpace(record.Title)
	if title == "" {
		return ErrInvalidRecord
	}
	key := strings.TrimSpace(record.ContentKey)
	if key == "" {
		key = title
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.records[key]
	merged.ContentKey = key
	merged.Title = title
	merged.EpisodeIndex = max(record.EpisodeIndex, 0)
	keep(&merged.Poster, record.Poster)
	keep(&merged.SiteKey, record.SiteKey)
	keep(&merged.SiteName, record.SiteName)
	keep(&merged.SpiderAPI, record.SpiderAPI)
	keep(&merged.VideoID, record.VideoID)
	keep(&merged.PlayFlag, record.PlayFlag)
	keep(&merged.EpisodeName, record.EpisodeName)
	merged.UpdatedAt = record.UpdatedAt
	if merged.UpdatedAt.IsZero() {
		merged.UpdatedAt = s.now()
	}
	s.records[key] = merged
	s.evictLocked()
	return nil
}

func keep(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func (s *HistoryStore) evictLocked() {
	if len(s.records) <= s.maxEntries {
		return
	}
	for _, record := range s.sortedLocked()[s.maxEntries:] {
		delete(s.records, record.ContentKey)
	}
}

func (s *HistoryStore) sortedLocked() []domain.HistoryRecord {
	out := make([]domain.HistoryRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ContentKey < out[j].ContentKey
	})
	return out
}

func (s *HistoryStore) Get(_ context.Context, contentKey string) (domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[strings.TrimSpace(contentKey)]
	if !ok {
		return domain.HistoryRecord{}, domain.ErrNotFound
	}
	return record, nil
}

func (s *HistoryStore) ListRecent(_ context.Context, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := s.sortedLocked()
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}
