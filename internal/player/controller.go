package player

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/jenfonro/MeowFilmTV/internal/metrics"
)

// State is the observable controller state.
type State struct {
	Engine          EngineKind        `json:"engine"`
	URL             string            `json:"url,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	LastError       string            `json:"lastError,omitempty"`
	Status          Status            `json:"status"`
	RetriedFallback bool              `json:"retriedFallback"`
	Released        bool              `json:"released,omitempty"`
}

// Controller owns the active engine. Every operation runs under one lock, so
// engine calls for a controller never overlap.
type Controller struct {
	mu          sync.Mutex
	engines     map[EngineKind]Engine
	active      EngineKind
	url         string
	headers     map[string]string
	lastApplied EngineKind
	retried     bool
	lastError   string
	status      Status
	released    bool

	userAgent string
	logger    *slog.Logger
	listeners []func(State)
}

type ControllerOption func(*Controller)

func WithUserAgent(userAgent string) ControllerOption {
	return func(c *Controller) {
		if ua := strings.TrimSpace(userAgent); ua != "" {
			c.userAgent = ua
		}
	}
}

func WithInitialEngine(kind EngineKind) ControllerOption {
	return func(c *Controller) {
		c.active = kind
	}
}

func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStateListener registers fn to receive every state change. Listeners
// run outside the controller lock and must not block.
func WithStateListener(fn func(State)) ControllerOption {
	return func(c *Controller) {
		if fn != nil {
			c.listeners = append(c.listeners, fn)
		}
	}
}

func NewController(primary, software Engine, opts ...ControllerOption) *Controller {
	c := &Controller{
		engines: map[EngineKind]Engine{
			EnginePrimary:  primary,
			EngineSoftware: software,
		},
		active:    EnginePrimary,
		status:    StatusIdle,
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, ok := c.engines[c.active]; !ok {
		c.active = EnginePrimary
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Engine:          c.active,
		URL:             c.url,
		Headers:         maps.Clone(c.headers),
		LastError:       c.lastError,
		Status:          c.status,
		RetriedFallback: c.retried,
		Released:        c.released,
	}
}

func (c *Controller) publish(state State) {
	for _, fn := range c.listeners {
		fn(state)
	}
}

// SetSource plays url on the active engine. Applying the same url and
// headers to the same engine again is a no-op unless force is set.
func (c *Controller) SetSource(ctx context.Context, url string, headers map[string]string, force bool) error {
	c.mu.Lock()
	applied, err := c.applyLocked(ctx, url, headers, force, true)
	state := c.stateLocked()
	c.mu.Unlock()
	if applied {
		c.publish(state)
	}
	return err
}

// applyLocked loads a source. resetFallback is false only for the automatic
// fallback retry, which must not re-arm itself.
func (c *Controller) applyLocked(ctx context.Context, url string, headers map[string]string, force, resetFallback bool) (bool, error) {
	if c.released {
		return false, ErrReleased
	}
	u := strings.TrimSpace(url)
	if u == "" {
		return false, ErrEmptySource
	}
	normalized := NormalizeHeaders(headers, c.userAgent)
	if !force && u == c.url && maps.Equal(normalized, c.headers) && c.lastApplied == c.active {
		return false, nil
	}

	c.url = u
	c.headers = normalized
	c.lastApplied = c.active
	if resetFallback {
		c.retried = false
	}
	c.lastError = ""
	c.status = StatusLoading

	engine := c.engines[c.active]
	if err := engine.Load(ctx, u, maps.Clone(normalized)); err != nil {
		c.lastError = Describe(err)
		c.status = StatusError
		c.logger.Warn("player load failed",
			slog.String("engine", string(c.active)),
			slog.String("error", c.lastError),
		)
		return true, err
	}
	c.logger.Info("player source applied",
		slog.String("engine", string(c.active)),
		slog.Bool("force", force),
		slog.Int("headers", len(normalized)),
	)
	return true, nil
}

// ReportError handles a failure raised by engine kind. An HEVC decoder
// failure on the primary engine switches to the software engine and
// reloads the source, once per source. Anything else is terminal. The
// result reports whether a fallback was started.
func (c *Controller) ReportError(ctx context.Context, kind EngineKind, failure error) bool {
	c.mu.Lock()
	if c.released || kind != c.active || failure == nil {
		c.mu.Unlock()
		return false
	}

	diagnostic := Describe(failure)
	hevc := IsHEVCDecoderFailure(diagnostic)
	if hevc {
		c.lastError = withHint(diagnostic)
	} else {
		c.lastError = diagnostic
	}
	c.status = StatusError

	fellBack := false
	if hevc && c.active == EnginePrimary && !c.retried && c.url != "" {
		c.retried = true
		fellBack = true
		metrics.PlayerFallbacksTotal.Inc()
		c.logger.Warn("hardware decoder rejected stream, falling back to software engine",
			slog.String("error", diagnostic),
		)
		url, headers := c.url, c.headers
		c.switchLocked(EngineSoftware, false)
		_, _ = c.applyLocked(ctx, url, headers, true, false)
	} else {
		c.logger.Warn("playback failed",
			slog.String("engine", string(kind)),
			slog.Bool("hevc", hevc),
			slog.String("error", diagnostic),
		)
	}
	state := c.stateLocked()
	c.mu.Unlock()
	c.publish(state)
	return fellBack
}

// ReportStatus records a playback status change from engine kind.
func (c *Controller) ReportStatus(kind EngineKind, status Status) {
	c.mu.Lock()
	if c.released || kind != c.active || c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	state := c.stateLocked()
	c.mu.Unlock()
	c.publish(state)
}

// SwitchTo moves to another engine by hand. The previous engine is stopped
// and the source is not replayed.
func (c *Controller) SwitchTo(kind EngineKind) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	if _, ok := c.engines[kind]; !ok {
		c.mu.Unlock()
		return ErrUnknownEngine
	}
	if kind == c.active {
		c.mu.Unlock()
		return nil
	}
	c.switchLocked(kind, true)
	state := c.stateLocked()
	c.mu.Unlock()
	c.publish(state)
	return nil
}

func (c *Controller) switchLocked(kind EngineKind, manual bool) {
	if err := c.engines[c.active].Stop(); err != nil {
		c.logger.Debug("engine stop failed", slog.String("engine", string(c.active)), slog.String("error", err.Error()))
	}
	c.lastApplied = ""
	if manual {
		c.retried = false
	}
	c.active = kind
	c.lastError = ""
	c.status = StatusIdle
}

// Stop clears the source and state. Engines stay available for reuse.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	c.stopLocked()
	state := c.stateLocked()
	c.mu.Unlock()
	c.publish(state)
	return nil
}

func (c *Controller) stopLocked() {
	c.url = ""
	c.headers = nil
	c.lastApplied = ""
	c.retried = false
	c.lastError = ""
	c.status = StatusIdle
	if err := c.engines[c.active].Stop(); err != nil {
		c.logger.Debug("engine stop failed", slog.String("engine", string(c.active)), slog.String("error", err.Error()))
	}
}

// Release stops playback and frees both engines. It is safe to call more
// than once.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	for kind, engine := range c.engines {
		if err := engine.Release(); err != nil {
			c.logger.Debug("engine release failed", slog.String("engine", string(kind)), slog.String("error", err.Error()))
		}
	}
	c.released = true
	state := c.stateLocked()
	c.mu.Unlock()
	c.publish(state)
}
