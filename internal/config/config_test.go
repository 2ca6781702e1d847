package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DSN", "host=localhost user=postgres dbname=faceverify")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("OBJECT_STORE_ENDPOINT", "localhost:9000")
	t.Setenv("OBJECT_STORE_ACCESS_KEY", "minio")
	t.Setenv("OBJECT_STORE_SECRET_KEY", "minio123")
	t.Setenv("OBJECT_STORE_BUCKET", "verification-images")
	t.Setenv("FACEMATCH_BASE_URL", "http://facematch:9090")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.FaceMatchThreshold != 0.6 {
		t.Fatalf("unexpected threshold: %v", cfg.FaceMatchThreshold)
	}
	if cfg.FaceMatchTimeout != 3*time.Second {
		t.Fatalf("unexpected facematch timeout: %v", cfg.FaceMatchTimeout)
	}
	if cfg.ObjectStoreTimeout >= cfg.FaceMatchTimeout {
		t.Fatalf("object store timeout %v should be shorter than facematch timeout %v",
			cfg.ObjectStoreTimeout, cfg.FaceMatchTimeout)
	}
}

func TestLoadFailsOnMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("FACEMATCH_BASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "FACEMATCH_BASE_URL") {
		t.Fatalf("expected error to name the missing variable, got: %v", err)
	}
}

func TestLoadRejectsThresholdOutsideUnitInterval(t *testing.T) {
	setRequired(t)
	t.Setenv("FACEMATCH_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestLoadParsesMillisecondBudgets(t *testing.T) {
	setRequired(t)
	t.Setenv("FACEMATCH_TIMEOUT_MS", "250")
	t.Setenv("OBJECT_STORE_TIMEOUT_MS", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.FaceMatchTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected facematch timeout: %v", cfg.FaceMatchTimeout)
	}
	if cfg.ObjectStoreTimeout != 100*time.Millisecond {
		t.Fatalf("unexpected object store timeout: %v", cfg.ObjectStoreTimeout)
	}
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("FACEMATCH_TIMEOUT_MS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
