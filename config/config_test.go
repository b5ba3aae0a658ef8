package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

var arenaKeys = []string{
	"ARENA_METRICS_PORT", "ARENA_LOG_LEVEL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"ARENA_COMMAND_SUBSCRIPTION", "ARENA_EVENT_TOPIC", "ARENA_ROUND_TIMEOUT",
	"ARENA_COHORT_POLICY", "ARENA_COHORT_TICK", "ARENA_BROADCAST_BUFFER",
	"ARENA_PERSIST_ATTEMPTS", "ARENA_PERSIST_BACKOFF", "ARENA_MAX_MISSED_ROUNDS",
	"ARENA_INITIAL_RATING", "ARENA_RATING_K", "ARENA_SEED",
	"GOOGLE_APPLICATION_CREDENTIALS", "ARENA_GSA_CREDENTIALS", "ARENA_PUBSUB_PROJECT_ID",
	"GOOGLE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range arenaKeys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func Test_firstNonEmpty(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"all empty", []string{"", "", ""}, ""},
		{"first non-empty", []string{"a", "b"}, "a"},
		{"later non-empty", []string{"", "b"}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstNonEmpty(tt.in...); got != tt.want {
				t.Errorf("firstNonEmpty() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_getEnvDuration(t *testing.T) {
	tests := []struct {
		name string
		set  string
		def  time.Duration
		want time.Duration
	}{
		{"no env -> default", "", time.Second, time.Second},
		{"valid", "250ms", time.Second, 250 * time.Millisecond},
		{"invalid -> default", "soon", time.Second, time.Second},
		{"negative -> default", "-5s", time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDUR", tt.set)
			if got := getEnvDuration("XDUR", tt.def); got != tt.want {
				t.Errorf("getEnvDuration() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_getEnvInt(t *testing.T) {
	tests := []struct {
		name string
		set  string
		def  int
		want int
	}{
		{"no env -> default", "", 7, 7},
		{"valid int", "42", 7, 42},
		{"invalid int -> default", "abc", 9, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XINT", tt.set)
			if got := getEnvInt("XINT", tt.def); got != tt.want {
				t.Errorf("getEnvInt() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_Config_HTTPAddr(t *testing.T) {
	c := &Config{MetricsPort: 9090}
	if got := c.HTTPAddr(); got != "0.0.0.0:9090" {
		t.Errorf("HTTPAddr() got=%#v", got)
	}
}

func Test_projectIDFromCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	if err := os.WriteFile(path, []byte(`{"project_id":"my-proj"}`), 0o600); err != nil {
		t.Fatalf("write temp creds: %#v", err)
	}
	pid, err := projectIDFromCredentials(path)
	if err != nil || pid != "my-proj" {
		t.Errorf("projectIDFromCredentials() pid=%#v err=%#v", pid, err)
	}

	if err := os.WriteFile(path, []byte(`{"nope":1}`), 0o600); err != nil {
		t.Fatalf("write temp creds: %#v", err)
	}
	pid, err = projectIDFromCredentials(path)
	if err != nil || pid != "" {
		t.Errorf("projectIDFromCredentials(invalid) pid=%#v err=%#v", pid, err)
	}
}

func Test_Load_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	if cfg.MetricsPort != 8080 || cfg.CohortPolicy != CohortEdgeAndTick || cfg.CohortTick != 2*time.Second {
		t.Errorf("Load() unexpected defaults: %#v", cfg.Redacted())
	}
	if cfg.PersistAttempts != 5 || cfg.MaxMissedRounds != 3 || cfg.InitialRating != 1000 {
		t.Errorf("Load() unexpected defaults: %#v", cfg)
	}
	if cfg.PubsubEnabled() {
		t.Errorf("PubsubEnabled() with no topic or subscription")
	}
}

func Test_Load_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARENA_METRICS_PORT", "7777")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ARENA_EVENT_TOPIC", "arena-events")
	t.Setenv("ARENA_PUBSUB_PROJECT_ID", "proj")
	t.Setenv("ARENA_COHORT_POLICY", "edge")
	t.Setenv("ARENA_ROUND_TIMEOUT", "3s")

	cfg := Load()
	want := map[string]any{
		"metricsPort":         7777,
		"logLevel":            "info",
		"redisAddr":           "redis:6379",
		"redisPasswordSet":    false,
		"redisDB":             0,
		"projectID":           "proj",
		"commandSubscription": "",
		"eventTopic":          "arena-events",
		"credentialsProvided": false,
		"roundTimeout":        "3s",
		"cohortPolicy":        "edge",
		"cohortTick":          "0s",
		"broadcastBuffer":     16,
		"persistAttempts":     5,
		"maxMissedRounds":     3,
	}
	if got := cfg.Redacted(); !reflect.DeepEqual(got, want) {
		t.Errorf("Redacted()\n got=%#v\nwant=%#v", got, want)
	}
}

func Test_Load_UnknownPolicyFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARENA_COHORT_POLICY", "sometimes")
	if cfg := Load(); cfg.CohortPolicy != CohortEdgeAndTick {
		t.Errorf("CohortPolicy got=%#v", cfg.CohortPolicy)
	}
}
