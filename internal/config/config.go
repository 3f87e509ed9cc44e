// Package config loads process settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joao-fontenele/artisanflow/internal/matching"
	"github.com/joao-fontenele/artisanflow/internal/scheduler"
)

type Config struct {
	GoEnv          string
	Port           string
	PostgresURL    string
	MigrationsPath string
	KafkaBrokers   []string
	OutboundTopic  string
	ActionsTopic   string
	ConsumerGroup  string
	LogLevel       string
	ServiceName    string
	ServiceVersion string
	TracesEnabled  bool
	OTLPEndpoint   string

	TimeZone      *time.Location
	FallbackDelay time.Duration
	PastGrace     time.Duration
	NearPastDelay time.Duration
	FarPastDelay  time.Duration

	MatchRadiusKm    float64
	MatchMaxArtisans int
	MatchConcurrency int

	PaymentCard string
	AdminIDs    []int64
}

// Load reads .env.<GO_ENV> or .env when present, then the environment.
// Variables already set in the environment win over file values.
func Load(logger *slog.Logger) (*Config, error) {
	env := getEnv("GO_ENV", "development")
	envFile := ".env." + env
	if err := godotenv.Load(envFile); err == nil {
		logger.Info("loaded configuration file", "file", envFile)
	} else if err := godotenv.Load(); err == nil {
		logger.Info("loaded configuration file", "file", ".env")
	}

	p := &parser{}
	cfg := &Config{
		GoEnv:          env,
		Port:           getEnv("PORT", "8080"),
		PostgresURL:    getEnv("POSTGRES_URL", ""),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "file://migrations"),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "")),
		OutboundTopic:  getEnv("KAFKA_OUTBOUND_TOPIC", "chat.outbound"),
		ActionsTopic:   getEnv("KAFKA_ACTIONS_TOPIC", "chat.actions"),
		ConsumerGroup:  getEnv("KAFKA_CONSUMER_GROUP", "artisanflow-dispatcher"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ServiceName:    getEnv("SERVICE_NAME", "artisanflow"),
		ServiceVersion: getEnv("SERVICE_VERSION", "0.1.0"),
		TracesEnabled:  p.bool("OTEL_TRACES_ENABLED", true),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		TimeZone:      p.location("APP_TIMEZONE", "UTC"),
		FallbackDelay: p.duration("SCHEDULE_FALLBACK_DELAY", time.Minute),
		PastGrace:     p.duration("SCHEDULE_PAST_GRACE", 30*time.Minute),
		NearPastDelay: p.duration("SCHEDULE_NEAR_PAST_DELAY", time.Second),
		FarPastDelay:  p.duration("SCHEDULE_FAR_PAST_DELAY", 5*time.Second),

		MatchRadiusKm:    p.float("MATCH_RADIUS_KM", 10),
		MatchMaxArtisans: p.int("MATCH_MAX_ARTISANS", 20),
		MatchConcurrency: p.int("MATCH_CONCURRENCY", 8),

		PaymentCard: getEnv("PAYMENT_CARD_NUMBER", ""),
		AdminIDs:    p.ids("ADMIN_CHAT_IDS"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	if c.IsProduction() && c.PostgresURL == "" {
		errs = append(errs, errors.New("POSTGRES_URL is required in production"))
	}
	if c.IsProduction() && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required in production"))
	}
	if c.MatchRadiusKm <= 0 {
		errs = append(errs, errors.New("MATCH_RADIUS_KM must be positive"))
	}
	if c.MatchMaxArtisans <= 0 || c.MatchConcurrency <= 0 {
		errs = append(errs, errors.New("MATCH_MAX_ARTISANS and MATCH_CONCURRENCY must be positive"))
	}
	if c.NearPastDelay < 0 || c.FarPastDelay < 0 || c.FallbackDelay < 0 || c.PastGrace < 0 {
		errs = append(errs, errors.New("schedule delays must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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

func (c *Config) SchedulerTiming() scheduler.Timing {
	return scheduler.Timing{
		Location:      c.TimeZone,
		FallbackDelay: c.FallbackDelay,
		PastGrace:     c.PastGrace,
		NearPastDelay: c.NearPastDelay,
		FarPastDelay:  c.FarPastDelay,
	}
}

func (c *Config) Matching() matching.Config {
	return matching.Config{
		RadiusKm:    c.MatchRadiusKm,
		MaxArtisans: c.MatchMaxArtisans,
		Concurrency: c.MatchConcurrency,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects every malformed variable so they are reported together.
type parser struct {
	errs []error
}

func (p *parser) fail(key, raw string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return b
}

func (p *parser) location(key, def string) *time.Location {
	name := getEnv(key, def)
	loc, err := time.LoadLocation(name)
	if err != nil {
		p.fail(key, name, err)
		return time.UTC
	}
	return loc
}

func (p *parser) ids(key string) []int64 {
	var ids []int64
	for _, part := range splitList(os.Getenv(key)) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			p.fail(key, part, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
