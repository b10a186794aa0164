package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	LogFile        string
	LogMaxSizeMB   int
	LogMaxBackups  int
	UserAgent      string

	ServerURL      string
	Username       string
	Password       string
	SitesFile      string
	SessionRefresh time.Duration
	TokenTTL       time.Duration

	SearchConcurrencyCap    int
	AggregateConcurrencyCap int

	RedisURL       string
	DetailCacheTTL time.Duration
	MongoURI       string
	MongoDatabase  string

	PlayerUserAgent string
	RateLimitRPS    int
	RateLimitBurst  int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8095"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:        getEnv("LOG_FILE", ""),
		LogMaxSizeMB:   getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:  getEnvInt("LOG_MAX_BACKUPS", 3),
		UserAgent:      getEnv("USER_AGENT", "MeowFilmTV"),

		ServerURL:      strings.TrimRight(getEnv("MEOWFILM_SERVER_URL", ""), "/"),
		Username:       getEnv("MEOWFILM_USERNAME", ""),
		Password:       os.Getenv("MEOWFILM_PASSWORD"),
		SitesFile:      getEnv("SITES_FILE", ""),
		SessionRefresh: time.Duration(getEnvInt("SESSION_REFRESH_MINUTES", 10)) * time.Minute,
		TokenTTL:       time.Duration(getEnvInt("TOKEN_TTL_HOURS", 720)) * time.Hour,

		SearchConcurrencyCap:    getEnvInt("SEARCH_CONCURRENCY_CAP", 12),
		AggregateConcurrencyCap: getEnvInt("AGGREGATE_CONCURRENCY_CAP", 20),

		RedisURL:       getEnv("REDIS_URL", ""),
		DetailCacheTTL: time.Duration(getEnvInt("DETAIL_CACHE_TTL_MINUTES", 10)) * time.Minute,
		MongoURI:       getEnv("MONGO_URI", ""),
		MongoDatabase:  getEnv("MONGO_DATABASE", "meowfilm"),

		PlayerUserAgent: getEnv("PLAYER_USER_AGENT", "MeowFilmTV"),
		RateLimitRPS:    getEnvInt("RATE_LIMIT_RPS", 50),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 100),
	}
}

// UsesStaticSession reports whether sites come from a local file rather
// than a MeowFilm server login.
func (c Config) UsesStaticSession() bool {
	return c.SitesFile != ""
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
