package config

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CohortPolicy selects when waiting queues are re-checked for a full cohort.
type CohortPolicy string

const (
	// CohortEdge checks only when a bot enqueues.
	CohortEdge CohortPolicy = "edge"
	// CohortEdgeAndTick also checks on a periodic tick.
	CohortEdgeAndTick CohortPolicy = "edge+tick"
)

type Config struct {
	MetricsPort int
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GoogleProjectID     string
	CredentialsFile     string
	CommandSubscription string
	EventTopic          string

	RoundTimeout    time.Duration
	CohortPolicy    CohortPolicy
	CohortTick      time.Duration
	BroadcastBuffer int
	PersistAttempts int
	PersistBackoff  time.Duration
	MaxMissedRounds int
	InitialRating   float64
	RatingK         float64
	Seed            int64
}

func Load() *Config {
	cfg := &Config{
		MetricsPort:         getEnvInt("ARENA_METRICS_PORT", 8080),
		LogLevel:            strings.TrimSpace(getEnv("ARENA_LOG_LEVEL", "info")),
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		CredentialsFile:     strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), os.Getenv("ARENA_GSA_CREDENTIALS"))),
		CommandSubscription: strings.TrimSpace(os.Getenv("ARENA_COMMAND_SUBSCRIPTION")),
		EventTopic:          strings.TrimSpace(os.Getenv("ARENA_EVENT_TOPIC")),
		RoundTimeout:        getEnvDuration("ARENA_ROUND_TIMEOUT", 0),
		CohortPolicy:        CohortPolicy(strings.TrimSpace(getEnv("ARENA_COHORT_POLICY", string(CohortEdgeAndTick)))),
		CohortTick:          getEnvDuration("ARENA_COHORT_TICK", 2*time.Second),
		BroadcastBuffer:     getEnvInt("ARENA_BROADCAST_BUFFER", 16),
		PersistAttempts:     getEnvInt("ARENA_PERSIST_ATTEMPTS", 5),
		PersistBackoff:      getEnvDuration("ARENA_PERSIST_BACKOFF", 100*time.Millisecond),
		MaxMissedRounds:     getEnvInt("ARENA_MAX_MISSED_ROUNDS", 3),
		InitialRating:       getEnvFloat("ARENA_INITIAL_RATING", 1000),
		RatingK:             getEnvFloat("ARENA_RATING_K", 32),
		Seed:                int64(getEnvInt("ARENA_SEED", 0)),
	}

	switch cfg.CohortPolicy {
	case CohortEdge, CohortEdgeAndTick:
	default:
		log.Warn().Str("policy", string(cfg.CohortPolicy)).Msg("unknown ARENA_COHORT_POLICY; using edge+tick")
		cfg.CohortPolicy = CohortEdgeAndTick
	}
	if cfg.CohortPolicy == CohortEdge {
		cfg.CohortTick = 0
	}

	cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, strings.TrimSpace(getEnv("ARENA_PUBSUB_PROJECT_ID", "")))
	if cfg.PubsubEnabled() && cfg.GoogleProjectID == "" {
		log.Warn().Msg("Pub/Sub configured but Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or ARENA_PUBSUB_PROJECT_ID")
	}
	if cfg.RedisAddr == "" {
		log.Warn().Msg("REDIS_ADDR not set; using in-memory storage")
	}
	return cfg
}

// PubsubEnabled reports whether any Pub/Sub boundary is configured.
func (c *Config) PubsubEnabled() bool {
	return c.CommandSubscription != "" || c.EventTopic != ""
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"metricsPort":         c.MetricsPort,
		"logLevel":            c.LogLevel,
		"redisAddr":           c.RedisAddr,
		"redisPasswordSet":    c.RedisPassword != "",
		"redisDB":             c.RedisDB,
		"projectID":           c.GoogleProjectID,
		"commandSubscription": c.CommandSubscription,
		"eventTopic":          c.EventTopic,
		"credentialsProvided": c.CredentialsFile != "",
		"roundTimeout":        c.RoundTimeout.String(),
		"cohortPolicy":        string(c.CohortPolicy),
		"cohortTick":          c.CohortTick.String(),
		"broadcastBuffer":     c.BroadcastBuffer,
		"persistAttempts":     c.PersistAttempts,
		"maxMissedRounds":     c.MaxMissedRounds,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return iv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid int in environment; using default")
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		fv, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return fv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid float in environment; using default")
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err == nil && d >= 0 {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration in environment; using default")
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func projectIDFromCredentials(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	// a credentials file without project_id is not an error
	_ = json.Unmarshal(b, &x)
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	if p := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("using project_id from GOOGLE_APPLICATION_CREDENTIALS")
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("project_id not found in credentials file or unreadable")
	}
	if explicit != "" {
		log.Info().Str("projectID", explicit).Msg("using ARENA_PUBSUB_PROJECT_ID for Google project")
		return explicit
	}
	if v := strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"))); v != "" {
		log.Info().Str("projectID", v).Msg("using Google project from environment")
		return v
	}
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("using project_id from provided credentials file")
			return strings.TrimSpace(pid)
		}
	}
	return ""
}
