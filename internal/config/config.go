package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider auth modes. Exactly one is active per deployment.
const (
	AuthModePassword = "password"
	AuthModeJWT      = "jwt"
	AuthModeAuthCode = "authcode"
)

const DefaultServerURL = "https://platform.ringcentral.com"

// RingCentral holds provider credentials. Secrets never leave the server.
type RingCentral struct {
	ServerURL     string `yaml:"server_url"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	AuthMode      string `yaml:"auth_mode"`
	Username      string `yaml:"username"`
	Extension     string `yaml:"extension"`
	Password      string `yaml:"password"`
	JWTToken      string `yaml:"jwt_token"`
	RedirectURI   string `yaml:"redirect_uri"`
	DefaultCaller string `yaml:"ringout_caller"`
}

// Config holds all environment-driven settings.
type Config struct {
	HTTPAddr           string      `yaml:"http_addr"`
	DatabaseURL        string      `yaml:"database_url"`
	RedisURL           string      `yaml:"redis_url"`
	JWTSecret          string      `yaml:"jwt_secret"`
	CORSOrigins        []string    `yaml:"cors_origins"`
	AuthMaxFailures    int         `yaml:"auth_max_failures"`
	DefaultSMSTemplate string      `yaml:"default_sms_template"`
	RingCentral        RingCentral `yaml:"ringcentral"`

	StatusTTL      time.Duration `yaml:"-"`
	SweepInterval  time.Duration `yaml:"-"`
	ConnectedDelay time.Duration `yaml:"-"`
	AnsweredDelay  time.Duration `yaml:"-"`
	CompletedDelay time.Duration `yaml:"-"`
}

// Load reads the optional YAML file named by DIALER_CONFIG, then lets
// environment variables (and a .env file) override it.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		log.Printf("[Config] Ignoring .env: %v", err)
	}

	var file Config
	if path := os.Getenv("DIALER_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	rc := file.RingCentral
	cfg := Config{
		HTTPAddr:           normalizeAddr(getenv("HTTP_ADDR", or(file.HTTPAddr, ":8080"))),
		DatabaseURL:        getenv("DATABASE_URL", or(file.DatabaseURL, "file:dialer.db")),
		RedisURL:           getenv("REDIS_URL", file.RedisURL),
		JWTSecret:          getenv("JWT_SECRET", file.JWTSecret),
		CORSOrigins:        getenvList("CORS_ORIGINS", file.CORSOrigins),
		AuthMaxFailures:    clampInt(getenvInt("AUTH_MAX_FAILURES", orInt(file.AuthMaxFailures, 5)), 1, 100),
		DefaultSMSTemplate: getenv("DEFAULT_SMS_TEMPLATE", or(file.DefaultSMSTemplate, "Thank you for your time. Please confirm your attendance.")),
		RingCentral: RingCentral{
			ServerURL:     strings.TrimRight(getenv("RINGCENTRAL_SERVER_URL", or(rc.ServerURL, DefaultServerURL)), "/"),
			ClientID:      getenv("RINGCENTRAL_CLIENT_ID", rc.ClientID),
			ClientSecret:  getenv("RINGCENTRAL_CLIENT_SECRET", rc.ClientSecret),
			AuthMode:      strings.ToLower(getenv("RINGCENTRAL_AUTH_MODE", or(rc.AuthMode, AuthModePassword))),
			Username:      getenv("RINGCENTRAL_USERNAME", rc.Username),
			Extension:     getenv("RINGCENTRAL_EXTENSION", rc.Extension),
			Password:      getenv("RINGCENTRAL_PASSWORD", rc.Password),
			JWTToken:      getenv("RINGCENTRAL_JWT_TOKEN", rc.JWTToken),
			RedirectURI:   getenv("RINGCENTRAL_REDIRECT_URI", rc.RedirectURI),
			DefaultCaller: getenv("RINGCENTRAL_RINGOUT_CALLER", rc.DefaultCaller),
		},
		StatusTTL:      getenvDuration("STATUS_TTL", 5*time.Second),
		SweepInterval:  getenvDuration("SWEEP_INTERVAL", 250*time.Millisecond),
		ConnectedDelay: getenvDuration("PROGRESS_CONNECTED_DELAY", 3*time.Second),
		AnsweredDelay:  getenvDuration("PROGRESS_ANSWERED_DELAY", 2*time.Second),
		CompletedDelay: getenvDuration("PROGRESS_COMPLETED_DELAY", 3*time.Second),
	}

	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return Config{}, fmt.Errorf("generate session secret: %w", err)
		}
		log.Printf("[Config] JWT_SECRET not set, using a per-process secret; sessions end on restart")
		cfg.JWTSecret = secret
	}

	log.Printf("[Config] addr=%s db=%s redis=%t auth_mode=%s", cfg.HTTPAddr, redactDSN(cfg.DatabaseURL), cfg.RedisURL != "", cfg.RingCentral.AuthMode)
	return cfg, nil
}

// Validate lists what is missing for the configured provider auth mode.
// The server still starts without it; calls then fail with a configuration error.
func (rc RingCentral) Validate() []string {
	var missing []string
	need := func(key, v string) {
		if v == "" {
			missing = append(missing, key)
		}
	}
	need("RINGCENTRAL_CLIENT_ID", rc.ClientID)
	need("RINGCENTRAL_CLIENT_SECRET", rc.ClientSecret)
	switch rc.AuthMode {
	case AuthModePassword:
		need("RINGCENTRAL_USERNAME", rc.Username)
		need("RINGCENTRAL_PASSWORD", rc.Password)
	case AuthModeJWT:
		need("RINGCENTRAL_JWT_TOKEN", rc.JWTToken)
	case AuthModeAuthCode:
		need("RINGCENTRAL_REDIRECT_URI", rc.RedirectURI)
	default:
		missing = append(missing, "RINGCENTRAL_AUTH_MODE (password|jwt|authcode)")
	}
	return missing
}

// loadDotEnv applies path to the environment. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		if len(def) == 0 {
			return []string{"*"}
		}
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func normalizeAddr(addr string) string {
	if addr != "" && !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	if strings.Contains(dsn, "password=") {
		return "postgres (dsn redacted)"
	}
	return dsn
}
