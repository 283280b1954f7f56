package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadRelayDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("S3_BUCKET", "crm-files")
	t.Setenv("JWT_SECRET", "secret")

	cfg := LoadRelay()
	if cfg.InboundMode != "direct" {
		t.Fatalf("inbound mode = %q", cfg.InboundMode)
	}
	if cfg.SendTimeout != 5*time.Second {
		t.Fatalf("send timeout = %v", cfg.SendTimeout)
	}
	if cfg.PresignTTL != 300*time.Second {
		t.Fatalf("presign ttl = %v", cfg.PresignTTL)
	}
	if cfg.StoreDriver != "postgres" || cfg.Port != "8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRelayMissingRequiredPanics(t *testing.T) {
	for _, key := range []string{"TELEGRAM_BOT_TOKEN", "S3_BUCKET", "JWT_SECRET"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on missing required env")
		}
	}()
	LoadRelay()
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("S3_BUCKET", "crm-files")
	t.Setenv("SQS_UPDATES_QUEUE_URL", "http://localhost:4566/000000000000/updates")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("SEND_TIMEOUT", "2s")

	cfg := LoadWorker()
	if cfg.WorkerConcurrency != 4 || cfg.SendTimeout != 2*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}
