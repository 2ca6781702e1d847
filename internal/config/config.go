package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the process needs, resolved once at startup.
// Constructors receive the pieces they use; nothing reads the environment
// after Load returns.
type Config struct {
	ListenAddr string

	DatabaseDSN string
	RedisAddr   string

	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool
	ObjectStoreTimeout   time.Duration

	FaceMatchBaseURL   string
	FaceMatchThreshold float64
	FaceMatchTimeout   time.Duration

	StatsdAddr   string
	StatsdPrefix string

	JWTSecret   string
	JWTAudience string

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// Load reads the configuration from the environment. Missing required values
// are an error so the process can fail at startup rather than per request.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN:          os.Getenv("DATABASE_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		ObjectStoreEndpoint:  os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStoreAccessKey: os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		ObjectStoreSecretKey: os.Getenv("OBJECT_STORE_SECRET_KEY"),
		ObjectStoreBucket:    os.Getenv("OBJECT_STORE_BUCKET"),
		FaceMatchBaseURL:     os.Getenv("FACEMATCH_BASE_URL"),
		StatsdAddr:           os.Getenv("STATSD_ADDR"),
		StatsdPrefix:         getEnv("STATSD_PREFIX", "faceverify"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTAudience:          os.Getenv("JWT_AUDIENCE"),
	}

	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_DSN", cfg.DatabaseDSN},
		{"REDIS_ADDR", cfg.RedisAddr},
		{"OBJECT_STORE_ENDPOINT", cfg.ObjectStoreEndpoint},
		{"OBJECT_STORE_ACCESS_KEY", cfg.ObjectStoreAccessKey},
		{"OBJECT_STORE_SECRET_KEY", cfg.ObjectStoreSecretKey},
		{"OBJECT_STORE_BUCKET", cfg.ObjectStoreBucket},
		{"FACEMATCH_BASE_URL", cfg.FaceMatchBaseURL},
		{"JWT_SECRET", cfg.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("config: required variable %s is not set", r.name)
		}
	}

	var err error
	cfg.ObjectStoreUseSSL, err = getEnvBool("OBJECT_STORE_USE_SSL", false)
	if err != nil {
		return nil, err
	}

	cfg.FaceMatchThreshold, err = getEnvFloat("FACEMATCH_THRESHOLD", 0.6)
	if err != nil {
		return nil, err
	}
	if cfg.FaceMatchThreshold < 0 || cfg.FaceMatchThreshold > 1 {
		return nil, fmt.Errorf("config: FACEMATCH_THRESHOLD %v is outside [0,1]", cfg.FaceMatchThreshold)
	}

	cfg.FaceMatchTimeout, err = getEnvMillis("FACEMATCH_TIMEOUT_MS", 3000*time.Millisecond)
	if err != nil {
		return nil, err
	}
	cfg.ObjectStoreTimeout, err = getEnvMillis("OBJECT_STORE_TIMEOUT_MS", 1500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	cfg.ReconcileInterval, err = getEnvMillis("RECONCILE_INTERVAL_MS", 30000*time.Millisecond)
	if err != nil {
		return nil, err
	}
	cfg.ReconcileGrace, err = getEnvMillis("RECONCILE_GRACE_MS", 5000*time.Millisecond)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return value, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return value, nil
}

func getEnvMillis(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %d", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
