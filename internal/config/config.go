package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	SessionTimeout    time.Duration
	SweepInterval     time.Duration
	MaxSessionHistory int

	RedisAddr     string
	RedisPassword string
	DedupeTTL     time.Duration

	KafkaBrokers    []string
	InboundTopic    string
	MatchEventTopic string
	ConsumerGroup   string

	PGDSN string

	ExtractorEndpoint string
	ExtractorAPIKey   string
	ExtractorModel    string
	ExtractorTimeout  time.Duration

	MatchesShown int

	PushEndpoint string

	// SeatFare is the per-seat hold amount in the currency's minor unit.
	// Zero disables the payment flow.
	SeatFare     int64
	FareCurrency string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		SessionTimeout:    30 * time.Minute,
		SweepInterval:     10 * time.Minute,
		MaxSessionHistory: 50,
		DedupeTTL:         24 * time.Hour,
		InboundTopic:      "inbound-messages",
		MatchEventTopic:   "match-events",
		ConsumerGroup:     "chat2carpool-consumer",
		ExtractorModel:    "llama-3.3-70b-versatile",
		ExtractorTimeout:  15 * time.Second,
		MatchesShown:      3,
		FareCurrency:      "pkr",
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.SessionTimeout, "SESSION_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "SESSION_SWEEP_INTERVAL", &errs)
	setIntFromEnv(&cfg.MaxSessionHistory, "SESSION_MAX_HISTORY", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.DedupeTTL, "DEDUPE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.InboundTopic, "KAFKA_INBOUND_TOPIC")
	setStringFromEnv(&cfg.MatchEventTopic, "KAFKA_MATCH_TOPIC")
	setStringFromEnv(&cfg.ConsumerGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.ExtractorEndpoint, "EXTRACTOR_ENDPOINT")
	cfg.ExtractorAPIKey = os.Getenv("EXTRACTOR_API_KEY")
	setStringFromEnv(&cfg.ExtractorModel, "EXTRACTOR_MODEL")
	setDurationFromEnv(&cfg.ExtractorTimeout, "EXTRACTOR_TIMEOUT", &errs)

	setIntFromEnv(&cfg.MatchesShown, "MATCHES_SHOWN", &errs)

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")

	if v := os.Getenv("SEAT_FARE"); v != "" {
		fare, err := strconv.ParseInt(v, 10, 64)
		if err != nil || fare < 0 {
			errs = append(errs, fmt.Errorf("invalid SEAT_FARE: %q", v))
		} else {
			cfg.SeatFare = fare
		}
	}
	setStringFromEnv(&cfg.FareCurrency, "FARE_CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TIMEOUT must be > 0"))
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0"))
	}
	if cfg.MaxSessionHistory <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_MAX_HISTORY must be > 0"))
	}
	if cfg.MatchesShown <= 0 {
		errs = append(errs, fmt.Errorf("MATCHES_SHOWN must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
