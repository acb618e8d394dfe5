package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHTTPAddrGetsColon(t *testing.T) {
	t.Setenv("HTTP_ADDR", "9000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("expected :9000, got %s", cfg.HTTPAddr)
	}
}

func TestAuthFailuresClamp(t *testing.T) {
	t.Setenv("AUTH_MAX_FAILURES", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AuthMaxFailures != 1 {
		t.Fatalf("expected clamp to 1, got %d", cfg.AuthMaxFailures)
	}
}

func TestDurationsAndDefaults(t *testing.T) {
	t.Setenv("STATUS_TTL", "750ms")
	t.Setenv("PROGRESS_ANSWERED_DELAY", "bogus")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.StatusTTL != 750*time.Millisecond {
		t.Fatalf("unexpected status ttl %s", cfg.StatusTTL)
	}
	if cfg.AnsweredDelay != 2*time.Second {
		t.Fatalf("invalid duration should fall back to default, got %s", cfg.AnsweredDelay)
	}
	if cfg.RingCentral.ServerURL != DefaultServerURL {
		t.Fatalf("unexpected server url %s", cfg.RingCentral.ServerURL)
	}
}

func TestYAMLFileOverriddenByEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dialer.yaml")
	body := `
http_addr: ":7000"
ringcentral:
  client_id: from-file
  auth_mode: jwt
  ringout_caller: "+15550000000"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DIALER_CONFIG", path)
	t.Setenv("RINGCENTRAL_CLIENT_ID", "from-env")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("expected addr from file, got %s", cfg.HTTPAddr)
	}
	if cfg.RingCentral.ClientID != "from-env" {
		t.Fatalf("env should win over file, got %s", cfg.RingCentral.ClientID)
	}
	if cfg.RingCentral.AuthMode != AuthModeJWT || cfg.RingCentral.DefaultCaller != "+15550000000" {
		t.Fatalf("file values not applied: %+v", cfg.RingCentral)
	}
}

func TestValidatePerAuthMode(t *testing.T) {
	rc := RingCentral{ClientID: "id", ClientSecret: "secret", AuthMode: AuthModeJWT}
	missing := rc.Validate()
	if len(missing) != 1 || missing[0] != "RINGCENTRAL_JWT_TOKEN" {
		t.Fatalf("unexpected missing list %v", missing)
	}
	rc.AuthMode = "telepathy"
	if len(rc.Validate()) != 1 {
		t.Fatalf("unknown mode should be reported")
	}
}

func TestSessionSecretNeverHardcoded(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	a, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	b, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(a.JWTSecret) != 64 || a.JWTSecret == b.JWTSecret {
		t.Fatalf("expected a fresh random secret per load, got %q and %q", a.JWTSecret, b.JWTSecret)
	}

	t.Setenv("JWT_SECRET", "configured")
	c, _ := Load()
	if c.JWTSecret != "configured" {
		t.Fatalf("configured secret should win, got %q", c.JWTSecret)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored, got %v", err)
	}

	good := filepath.Join(dir, "good.env")
	os.WriteFile(good, []byte("DIALER_TEST_DOTENV=from-file\n"), 0o600)
	t.Setenv("DIALER_TEST_DOTENV", "")
	os.Unsetenv("DIALER_TEST_DOTENV")
	if err := loadDotEnv(good); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("DIALER_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}

	if err := loadDotEnv(dir); err == nil {
		t.Fatalf("unreadable .env should be reported")
	}
}
