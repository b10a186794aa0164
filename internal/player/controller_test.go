package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	kind     EngineKind
	mu       sync.Mutex
	loads    []string
	headers  []map[string]string
	stops    int
	releases int
	loadErr  error
}

func (e *fakeEngine) Kind() EngineKind { return e.kind }

func (e *fakeEngine) Load(_ context.Context, url string, headers map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, url)
	e.headers = append(e.headers, headers)
	return e.loadErr
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

func (e *fakeEngine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releases++
	return nil
}

func newTestController(opts ...ControllerOption) (*Controller, *fakeEngine, *fakeEngine) {
	primary := &fakeEngine{kind: EnginePrimary}
	software := &fakeEngine{kind: EngineSoftware}
	opts = append([]ControllerOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewController(primary, software, opts...), primary, software
}

func hevcFailure() error {
	return ChainError("Source error",
		[2]string{"MediaCodecVideoRenderer$DecoderException", "Decoder init failed: c2.android.hevc.decoder, Format(1, null, video/hevc, 3840x2160)"},
		[2]string{"IllegalStateException", ""},
	)
}

func TestSetSourceIsIdempotent(t *testing.T) {
	c, primary, _ := newTestController()
	ctx := context.Background()
	headers := map[string]string{"Referer": "https://example.com/play"}

	require.NoError(t, c.SetSource(ctx, "https://cdn/video.m3u8", headers, false))
	require.NoError(t, c.SetSource(ctx, " https://cdn/video.m3u8 ", headers, false))
	assert.Len(t, primary.loads, 1)

	require.NoError(t, c.SetSource(ctx, "https://cdn/video.m3u8", headers, true))
	assert.Len(t, primary.loads, 2)

	require.NoError(t, c.SetSource(ctx, "https://cdn/video.m3u8", map[string]string{"Referer": "https://other.com/"}, false))
	assert.Len(t, primary.loads, 3)

	state := c.State()
	assert.Equal(t, StatusLoading, state.Status)
	assert.Equal(t, "https://other.com", state.Headers["Origin"])
}

func TestSetSourceRejectsBlankURL(t *testing.T) {
	c, primary, _ := newTestController()
	assert.ErrorIs(t, c.SetSource(context.Background(), "  ", nil, false), ErrEmptySource)
	assert.Empty(t, primary.loads)
}

func TestHEVCFailureFallsBackOnce(t *testing.T) {
	c, primary, software := newTestController()
	ctx := context.Background()
	require.NoError(t, c.SetSource(ctx, "https://cdn/4k.mkv", nil, false))

	assert.True(t, c.ReportError(ctx, EnginePrimary, hevcFailure()))
	state := c.State()
	assert.Equal(t, EngineSoftware, state.Engine)
	assert.True(t, state.RetriedFallback)
	assert.Equal(t, StatusLoading, state.Status)
	assert.Equal(t, []string{"https://cdn/4k.mkv"}, software.loads)
	assert.Equal(t, 1, primary.stops)

	assert.False(t, c.ReportError(ctx, EngineSoftware, hevcFailure()))
	state = c.State()
	assert.Equal(t, EngineSoftware, state.Engine)
	assert.Equal(t, StatusError, state.Status)
	assert.Contains(t, state.LastError, hevcHint)
	assert.Len(t, software.loads, 1)
	assert.Len(t, primary.loads, 1)
}

func TestNonHEVCFailureIsTerminal(t *testing.T) {
	c, _, software := newTestController()
	ctx := context.Background()
	require.NoError(t, c.SetSource(ctx, "https://cdn/a.mp4", nil, false))

	assert.False(t, c.ReportError(ctx, EnginePrimary, errors.New("Response code: 403")))
	state := c.State()
	assert.Equal(t, EnginePrimary, state.Engine)
	assert.Equal(t, StatusError, state.Status)
	assert.Equal(t, "Response code: 403", state.LastError)
	assert.Empty(t, software.loads)
}

func TestStaleEngineErrorsAreIgnored(t *testing.T) {
	c, _, _ := newTestController()
	ctx := context.Background()
	require.NoError(t, c.SetSource(ctx, "https://cdn/a.mp4", nil, false))
	assert.False(t, c.ReportError(ctx, EngineSoftware, hevcFailure()))
	assert.Equal(t, StatusLoading, c.State().Status)
}

func TestNewSourceRearmsFallback(t *testing.T) {
	c, _, software := newTestController()
	ctx := context.Background()
	require.NoError(t, c.SetSource(ctx, "https://cdn/1.mkv", nil, false))
	require.True(t, c.ReportError(ctx, EnginePrimary, hevcFailure()))

	require.NoError(t, c.SwitchTo(EnginePrimary))
	assert.False(t, c.State().RetriedFallback)
	require.NoError(t, c.SetSource(ctx, "https://cdn/2.mkv", nil, false))
	assert.True(t, c.ReportError(ctx, EnginePrimary, hevcFailure()))
	assert.Equal(t, []string{"https://cdn/1.mkv", "https://cdn/2.mkv"}, software.loads)
}

func TestSwitchToDoesNotReplay(t *testing.T) {
	c, primary, software := newTestController()
	ctx := context.Background()
	require.NoError(t, c.SetSource(ctx, "https://cdn/a.mp4", nil, false))

	require.NoError(t, c.SwitchTo(EngineSoftware))
	state := c.State()
	assert.Equal(t, EngineSoftware, state.Engine)
	assert.Equal(t, StatusIdle, state.Status)
	assert.Empty(t, state.LastError)
	assert.Empty(t, software.loads)
	assert.Equal(t, 1, primary.stops)

	// Same url on the new engine is a fresh application.
	require.NoError(t, c.SetSource(ctx, "https://cdn/a.mp4", nil, false))
	assert.Len(t, software.loads, 1)

	assert.ErrorIs(t, c.SwitchTo("bogus"), ErrUnknownEngine)
}

func TestStopAndRelease(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	c, primary, software := newTestController(WithStateListener(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}))
	ctx := context.Background()
	require.NoError(t, c.SetSource(ctx, "https://cdn/a.mp4", nil, false))

	require.NoError(t, c.Stop())
	state := c.State()
	assert.Empty(t, state.URL)
	assert.Equal(t, StatusIdle, state.Status)

	// Stop keeps engines usable.
	require.NoError(t, c.SetSource(ctx, "https://cdn/a.mp4", nil, false))
	assert.Len(t, primary.loads, 2)

	c.Release()
	c.Release()
	assert.Equal(t, 1, primary.releases)
	assert.Equal(t, 1, software.releases)
	assert.True(t, c.State().Released)
	assert.ErrorIs(t, c.SetSource(ctx, "https://cdn/a.mp4", nil, false), ErrReleased)
	assert.ErrorIs(t, c.Stop(), ErrReleased)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(seen), 4)
}

func TestLoadFailureIsRecorded(t *testing.T) {
	c, primary, _ := newTestController()
	primary.loadErr = fmt.Errorf("send load: %w", errors.New("no renderer attached"))
	err := c.SetSource(context.Background(), "https://cdn/a.mp4", nil, false)
	require.Error(t, err)
	state := c.State()
	assert.Equal(t, StatusError, state.Status)
	assert.Contains(t, state.LastError, "no renderer attached")
}

func TestReportStatus(t *testing.T) {
	c, _, _ := newTestController()
	require.NoError(t, c.SetSource(context.Background(), "https://cdn/a.mp4", nil, false))
	c.ReportStatus(EnginePrimary, StatusReady)
	assert.Equal(t, StatusReady, c.State().Status)
	c.ReportStatus(EngineSoftware, StatusEnded)
	assert.Equal(t, StatusReady, c.State().Status)
}

type recordingSink struct {
	commands []Command
}

func (s *recordingSink) Send(cmd Command) error {
	s.commands = append(s.commands, cmd)
	return nil
}

func TestRemoteEngineSendsCommands(t *testing.T) {
	sink := &recordingSink{}
	engine := NewRemoteEngine(EngineSoftware, sink)
	headers := map[string]string{"User-Agent": "x"}
	require.NoError(t, engine.Load(context.Background(), "https://cdn/a.mp4", headers))
	headers["User-Agent"] = "mutated"
	require.NoError(t, engine.Stop())
	require.NoError(t, engine.Release())

	require.Len(t, sink.commands, 3)
	assert.Equal(t, Command{Type: CommandLoad, Engine: EngineSoftware, URL: "https://cdn/a.mp4", Headers: map[string]string{"User-Agent": "x"}}, sink.commands[0])
	assert.Equal(t, CommandStop, sink.commands[1].Type)
	assert.Equal(t, CommandRelease, sink.commands[2].Type)
}
