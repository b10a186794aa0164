package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/episodes"
	"github.com/jenfonro/MeowFilmTV/internal/history/memory"
	"github.com/jenfonro/MeowFilmTV/internal/player"
	"github.com/jenfonro/MeowFilmTV/internal/spider"
)

const spiderPath = "/0123456789/spider/demo/3"

type fakeSessions struct {
	session domain.Session
	err     error
}

func (f fakeSessions) Session(context.Context) (domain.Session, error) {
	return f.session, f.err
}

type fakeResolver struct {
	mu          sync.Mutex
	detail      domain.VideoDetail
	detailErr   error
	detailCalls int
	source      domain.PlaybackSource
	playErr     error
	lastAPI     string
	lastFlag    string
	lastID      string
	lastUser    string
}

func (f *fakeResolver) Detail(_ context.Context, _ spider.Endpoint, spiderAPI, _ string) (domain.VideoDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	f.lastAPI = spiderAPI
	return f.detail, f.detailErr
}

func (f *fakeResolver) Play(_ context.Context, endpoint spider.Endpoint, spiderAPI, flag, id string) (domain.PlaybackSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAPI = spiderAPI
	f.lastFlag = flag
	f.lastID = id
	f.lastUser = endpoint.TVUser
	return f.source, f.playErr
}

type mapCache struct {
	entries map[string]domain.VideoDetail
	ttl     time.Duration
}

func (c *mapCache) Get(_ context.Context, key string) (domain.VideoDetail, bool, error) {
	d, ok := c.entries[key]
	return d, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, detail domain.VideoDetail, ttl time.Duration) error {
	c.entries[key] = detail
	c.ttl = ttl
	return nil
}

type recordingSync struct {
	records []domain.HistoryRecord
	err     error
}

func (r *recordingSync) PushHistory(_ context.Context, record domain.HistoryRecord) error {
	r.records = append(r.records, record)
	return r.err
}

type recordingSink struct {
	mu       sync.Mutex
	commands []player.Command
}

func (s *recordingSink) Send(cmd player.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return nil
}

func testSession() domain.Session {
	return domain.Session{
		ServerURL:  "http://meowfilm.local",
		Username:   "alice",
		CatAPIBase: "http://cat.local/",
		TVUser:     "alice",
		Sites: []domain.Site{
			{Key: "a", Name: "Site A", API: spiderPath, Enabled: true, Search: true},
		},
	}
}

func newTestService(t *testing.T, resolver *fakeResolver, opts ...Option) (*Service, *memory.HistoryStore, *player.Controller, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	controller := player.NewController(
		player.NewRemoteEngine(player.EnginePrimary, sink),
		player.NewRemoteEngine(player.EngineSoftware, sink),
	)
	store := memory.NewHistoryStore()
	svc := NewService(fakeSessions{session: testSession()}, resolver, store, controller, opts...)
	return svc, store, controller, sink
}

func TestDetailBuildsLinesAndRange(t *testing.T) {
	playURL := ""
	for i := 1; i <= 25; i++ {
		if i > 1 {
			playURL += "#"
		}
		playURL += fmt.Sprintf("第%02d集$ep%d", i, i)
	}
	resolver := &fakeResolver{detail: domain.VideoDetail{
		VideoID:  "v1",
		Title:    "Example Movie",
		PlayFrom: "线路1$$$线路2",
		PlayURL:  playURL + "$$$正片$movie",
	}}
	svc, _, _, _ := newTestService(t, resolver)

	view, err := svc.Detail(context.Background(), DetailRequest{
		Source: domain.SourceRef{SiteKey: "a", SpiderAPI: "/stale", VideoID: "v1"},
		Range:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, spiderPath, resolver.lastAPI, "configured site API wins over the carried one")
	require.Len(t, view.Lines, 2)
	assert.Equal(t, 2, view.RangeCount)
	assert.Equal(t, 1, view.Range)
	require.Len(t, view.Episodes, 5)
	assert.Equal(t, 21, view.Episodes[0].Number)

	view, err = svc.Detail(context.Background(), DetailRequest{
		Source:  domain.SourceRef{SiteKey: "a", VideoID: "v1"},
		Options: episodes.Options{Descending: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 25, view.Episodes[0].Number)

	view, err = svc.Detail(context.Background(), DetailRequest{
		Source: domain.SourceRef{SiteKey: "a", VideoID: "v1"},
		Line:   9,
		Range:  7,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, view.Line, "out of range line falls back to the first")
	assert.Equal(t, 0, view.Range)
}

func TestDetailUsesCache(t *testing.T) {
	resolver := &fakeResolver{detail: domain.VideoDetail{VideoID: "v1", PlayFrom: "线路1", PlayURL: "第1集$a"}}
	cache := &mapCache{entries: map[string]domain.VideoDetail{}}
	svc, _, _, _ := newTestService(t, resolver, WithDetailCache(cache, time.Minute))

	ref := domain.SourceRef{SiteKey: "a", VideoID: "v1"}
	first, err := svc.Detail(context.Background(), DetailRequest{Source: ref})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Detail(context.Background(), DetailRequest{Source: ref})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, resolver.detailCalls)
	assert.Equal(t, time.Minute, cache.ttl)
}

func TestDetailRequiresVideoID(t *testing.T) {
	svc, _, _, _ := newTestService(t, &fakeResolver{})
	_, err := svc.Detail(context.Background(), DetailRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPlayRecordsHistoryAndLoadsPlayer(t *testing.T) {
	resolver := &fakeResolver{source: domain.PlaybackSource{
		URL:     "https://cdn.example/v.m3u8",
		Headers: map[string]string{"Referer": "https://site.example/page"},
	}}
	pusher := &recordingSync{err: errors.New("offline")}
	now := time.Unix(1700000000, 0)
	svc, store, controller, sink := newTestService(t, resolver, WithHistorySync(pusher), WithClock(func() time.Time { return now }))

	result, err := svc.Play(context.Background(), domain.PlayRequest{
		SiteKey: "a", SiteName: "Site A", VideoID: "v1", Title: "Example Movie",
		Flag: "线路1", EpisodeID: "ep3", EpisodeIndex: 3, EpisodeName: "第03集",
	})
	require.NoError(t, err)
	assert.Equal(t, "线路1", resolver.lastFlag)
	assert.Equal(t, "ep3", resolver.lastID)
	assert.Equal(t, "alice", resolver.lastUser)

	assert.Equal(t, "examplemovie", result.History.ContentKey)
	saved, err := store.Get(context.Background(), "examplemovie")
	require.NoError(t, err)
	assert.Equal(t, 3, saved.EpisodeIndex)
	assert.Equal(t, spiderPath, saved.SpiderAPI)
	assert.True(t, saved.UpdatedAt.Equal(now))
	require.Len(t, pusher.records, 1, "sync failures do not block playback")

	state := controller.State()
	assert.Equal(t, "https://cdn.example/v.m3u8", state.URL)
	assert.Equal(t, "https://site.example", state.Headers["Origin"])
	require.NotEmpty(t, sink.commands)
	assert.Equal(t, player.CommandLoad, sink.commands[len(sink.commands)-1].Type)
}

func TestPlayEpisodeIndexAtLeastOne(t *testing.T) {
	resolver := &fakeResolver{source: domain.PlaybackSource{URL: "https://cdn.example/v.mp4"}}
	svc, _, _, _ := newTestService(t, resolver)
	result, err := svc.Play(context.Background(), domain.PlayRequest{
		SiteKey: "a", VideoID: "v1", Title: "Movie", EpisodeID: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.History.EpisodeIndex)
}

func (s *recordingSink) loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, cmd := range s.commands {
		if cmd.Type == player.CommandLoad {
			n++
		}
	}
	return n
}

func TestReplayingSameEpisodeKeepsFallbackState(t *testing.T) {
	resolver := &fakeResolver{source: domain.PlaybackSource{URL: "https://cdn.example/hevc.mkv"}}
	svc, _, controller, sink := newTestService(t, resolver)
	req := domain.PlayRequest{SiteKey: "a", VideoID: "v1", Title: "Example Movie", Flag: "线路1", EpisodeID: "ep1", EpisodeIndex: 1}

	_, err := svc.Play(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, sink.loads())

	fellBack := controller.ReportError(context.Background(), player.EnginePrimary,
		errors.New("MediaCodecVideoRenderer error: Decoder init failed, Format(1, null, video/hevc, 3840x2160)"))
	require.True(t, fellBack)
	require.Equal(t, 2, sink.loads())

	_, err = svc.Play(context.Background(), req)
	require.NoError(t, err)

	state := controller.State()
	assert.Equal(t, 2, sink.loads(), "the same source must not be loaded again")
	assert.True(t, state.RetriedFallback)
	assert.Equal(t, player.EngineSoftware, state.Engine)
}

func TestPlayErrors(t *testing.T) {
	t.Run("missing episode", func(t *testing.T) {
		svc, _, _, _ := newTestService(t, &fakeResolver{})
		_, err := svc.Play(context.Background(), domain.PlayRequest{VideoID: "v1"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("no tv user", func(t *testing.T) {
		session := testSession()
		session.TVUser = ""
		svc := NewService(fakeSessions{session: session}, &fakeResolver{}, nil, nil)
		_, err := svc.Play(context.Background(), domain.PlayRequest{VideoID: "v1", EpisodeID: "e"})
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
	})

	t.Run("resolve failure leaves history untouched", func(t *testing.T) {
		resolver := &fakeResolver{playErr: spider.ErrNoPlayableURL}
		svc, store, controller, _ := newTestService(t, resolver)
		_, err := svc.Play(context.Background(), domain.PlayRequest{
			SiteKey: "a", VideoID: "v1", Title: "Movie", EpisodeID: "e",
		})
		assert.ErrorIs(t, err, ErrResolve)
		assert.ErrorIs(t, err, spider.ErrNoPlayableURL)
		list, _ := store.ListRecent(context.Background(), 10)
		assert.Empty(t, list)
		assert.Empty(t, controller.State().URL)
	})

	t.Run("session error", func(t *testing.T) {
		svc := NewService(fakeSessions{err: domain.ErrNotAuthenticated}, &fakeResolver{}, nil, nil)
		_, err := svc.Play(context.Background(), domain.PlayRequest{VideoID: "v1", EpisodeID: "e"})
		assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	})
}

func TestResolveStatus(t *testing.T) {
	assert.Equal(t, "ok", resolveStatus(nil))
	assert.Equal(t, "no_url", resolveStatus(spider.ErrNoPlayableURL))
	assert.Equal(t, "http_error", resolveStatus(&spider.StatusError{Code: 502}))
	assert.Equal(t, "cancelled", resolveStatus(context.Canceled))
	assert.Equal(t, "error", resolveStatus(errors.New("boom")))
}

