package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("upload.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.InviteTTL != 72*time.Hour || cfg.IncompletePostTTL != time.Hour {
		t.Fatalf("unexpected TTL defaults %+v", cfg)
	}
	if cfg.MaxConcurrentJobs != 4 || cfg.BlockingWorkers <= 0 {
		t.Fatalf("unexpected job defaults %+v", cfg)
	}
	if cfg.UploadSocketTTL != time.Minute || cfg.UploadMessageTTL != time.Second {
		t.Fatalf("unexpected upload defaults %+v", cfg)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("BLOG_UPLOAD_SIGNING_SECRET", "from-env")
	t.Setenv("BLOG_POST_INCOMPLETE_TTL", "15m")
	t.Setenv("BLOG_JOBS_MAX_CONCURRENT", "2")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.UploadSecret != "from-env" || cfg.IncompletePostTTL != 15*time.Minute || cfg.MaxConcurrentJobs != 2 {
		t.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestLoadValidates(t *testing.T) {
	if _, err := Load(NewViper()); err == nil || !strings.Contains(err.Error(), "upload.signing_secret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	configViper := NewViper()
	configViper.Set("upload.signing_secret", "secret")
	configViper.Set("post.incomplete_ttl", "0s")
	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "post.incomplete_ttl") {
		t.Fatalf("expected TTL validation error, got %v", err)
	}
}
