package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Tokens.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.Tokens.AccessTTL)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  addr: \":9090\"\ntokens:\n  issuer: lab-auth\n  access_ttl: 30m\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OMICSAUTH_ADDR", ":7070")
	t.Setenv("OMICSAUTH_ACCESS_TTL", "45m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("env override lost: %s", cfg.Server.Addr)
	}
	if cfg.Tokens.Issuer != "lab-auth" {
		t.Fatalf("file value lost: %s", cfg.Tokens.Issuer)
	}
	if cfg.Tokens.AccessTTL != 45*time.Minute {
		t.Fatalf("env ttl override lost: %v", cfg.Tokens.AccessTTL)
	}
}

func TestValidateRejectsZeroTTL(t *testing.T) {
	cfg := Default()
	cfg.Tokens.AccessTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
