package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	apihttp "github.com/jenfonro/MeowFilmTV/internal/api/http"
	"github.com/jenfonro/MeowFilmTV/internal/app"
	"github.com/jenfonro/MeowFilmTV/internal/history/memory"
	historymongo "github.com/jenfonro/MeowFilmTV/internal/history/mongo"
	"github.com/jenfonro/MeowFilmTV/internal/metrics"
	"github.com/jenfonro/MeowFilmTV/internal/playback"
	"github.com/jenfonro/MeowFilmTV/internal/player"
	"github.com/jenfonro/MeowFilmTV/internal/search"
	"github.com/jenfonro/MeowFilmTV/internal/session"
	"github.com/jenfonro/MeowFilmTV/internal/spider"
	"github.com/jenfonro/MeowFilmTV/internal/telemetry"
)

const serviceName = "meowfilm-tv"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logOutput(cfg))
	slog.SetDefault(logger)

	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("serverURL", cfg.ServerURL),
		slog.String("username", cfg.Username),
		slog.Bool("staticSession", cfg.UsesStaticSession()),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.Bool("hasMongo", cfg.MongoURI != ""),
		slog.Int("searchConcurrencyCap", cfg.SearchConcurrencyCap),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}

	redisClient := connectRedis(rootCtx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	sessions, provider, err := buildSessions(cfg, httpClient, redisClient, logger)
	if err != nil {
		logger.Error("session setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	spiderClient := spider.NewClient(spider.Config{UserAgent: cfg.UserAgent, Client: httpClient})
	health := search.NewSiteHealth()
	orchestrator := search.NewOrchestrator(sessions, spiderClient,
		search.WithConcurrencyCap(cfg.SearchConcurrencyCap),
		search.WithSiteHealth(health),
		search.WithLogger(logger),
	)
	aggregator := search.NewAggregator(sessions, spiderClient,
		search.WithAggregateConcurrencyCap(cfg.AggregateConcurrencyCap),
		search.WithAggregateHealth(health),
		search.WithAggregateLogger(logger),
	)

	history, closeHistory := buildHistoryStore(rootCtx, cfg, logger)
	defer closeHistory()

	hub := apihttp.NewRendererHub(logger)
	go hub.Run()
	controller := player.NewController(
		player.NewRemoteEngine(player.EnginePrimary, hub),
		player.NewRemoteEngine(player.EngineSoftware, hub),
		player.WithUserAgent(cfg.PlayerUserAgent),
		player.WithLogger(logger),
		player.WithStateListener(hub.BroadcastState),
	)

	playbackOpts := []playback.Option{playback.WithLogger(logger)}
	if redisClient != nil {
		playbackOpts = append(playbackOpts, playback.WithDetailCache(spider.NewRedisDetailCache(redisClient), cfg.DetailCacheTTL))
	}
	if provider != nil {
		playbackOpts = append(playbackOpts, playback.WithHistorySync(provider))
	}
	playbackService := playback.NewService(sessions, spiderClient, history, controller, playbackOpts...)

	handler := apihttp.NewServer(orchestrator,
		apihttp.WithLogger(logger),
		apihttp.WithAggregator(aggregator),
		apihttp.WithSiteDiagnostics(health),
		apihttp.WithPlayback(playbackService),
		apihttp.WithPlayer(controller, hub),
		apihttp.WithRateLimit(float64(cfg.RateLimitRPS), cfg.RateLimitBurst),
	).Handler()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// /search/stream and /player/ws stay open far longer than any write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("meowfilm tv service started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	orchestrator.Close()
	controller.Release()
	hub.Close()
	logger.Info("meowfilm tv service stopped")
}

func logOutput(cfg app.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stdout
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		slog.Default().Warn("could not create log directory, logging to stdout only",
			slog.String("file", cfg.LogFile),
			slog.String("error", err.Error()),
		)
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   true,
	})
}

func newLogger(levelRaw, formatRaw string, out io.Writer) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, options))
	}
	return slog.New(slog.NewTextHandler(out, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func connectRedis(ctx context.Context, cfg app.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, running without redis", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, running without redis", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

// buildSessions returns the session source for search and play. The server
// provider is returned separately because it also syncs history upstream;
// it is nil for a static session.
func buildSessions(cfg app.Config, httpClient *http.Client, redisClient *redis.Client, logger *slog.Logger) (search.SessionProvider, *session.Provider, error) {
	if cfg.UsesStaticSession() {
		static, err := session.LoadStaticFile(cfg.SitesFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("static session loaded", slog.String("file", cfg.SitesFile))
		return static, nil, nil
	}

	opts := []session.ProviderOption{
		session.WithRefreshInterval(cfg.SessionRefresh),
		session.WithLogger(logger),
	}
	if redisClient != nil {
		opts = append(opts, session.WithTokenStore(session.NewRedisTokenStore(redisClient, cfg.TokenTTL)))
	}
	api := session.NewAPIClient(session.ClientConfig{UserAgent: cfg.UserAgent, Client: httpClient})
	provider := session.NewProvider(api, session.Credentials{
		ServerURL: cfg.ServerURL,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}, opts...)
	return provider, provider, nil
}

func buildHistoryStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (playback.HistoryStore, func()) {
	fallback := func() (playback.HistoryStore, func()) {
		return memory.NewHistoryStore(), func() {}
	}
	if cfg.MongoURI == "" {
		logger.Info("mongo not configured, keeping play history in memory")
		return fallback()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := historymongo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("mongo connect failed, keeping play history in memory", slog.String("error", err.Error()))
		return fallback()
	}
	disconnect := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	if err := pingMongo(connectCtx, client); err != nil {
		logger.Warn("mongo ping failed, keeping play history in memory", slog.String("error", err.Error()))
		disconnect()
		return fallback()
	}

	repo := historymongo.NewHistoryRepository(client, cfg.MongoDatabase)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo index creation failed", slog.String("error", err.Error()))
	}
	logger.Info("mongo connected", slog.String("database", cfg.MongoDatabase))
	return repo, disconnect
}

func pingMongo(ctx context.Context, client *mongo.Client) error {
	return client.Ping(ctx, readpref.Primary())
}
