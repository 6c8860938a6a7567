package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	BackendURL     string        `mapstructure:"BACKEND_URL"`
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT"`

	// Caller identity for the CLI. The server takes these from the token.
	BackendToken  string `mapstructure:"BACKEND_TOKEN"`
	LabRole       string `mapstructure:"LAB_ROLE"`
	LabHospitalID int    `mapstructure:"LAB_HOSPITAL_ID"`
	LabUserID     int    `mapstructure:"LAB_USER_ID"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	ReadinessAttempts int           `mapstructure:"READINESS_ATTEMPTS"`
	ReadinessInterval time.Duration `mapstructure:"READINESS_INTERVAL"`
	UploadCategory    string        `mapstructure:"UPLOAD_CATEGORY"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	UploadBodyLimit   string        `mapstructure:"UPLOAD_BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FILE",
	"BACKEND_URL", "BACKEND_TIMEOUT", "BACKEND_TOKEN",
	"LAB_ROLE", "LAB_HOSPITAL_ID", "LAB_USER_ID",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"READINESS_ATTEMPTS", "READINESS_INTERVAL", "UPLOAD_CATEGORY",
	"REQUEST_TIMEOUT", "UPLOAD_BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BACKEND_TIMEOUT", "30s")
	v.SetDefault("LAB_ROLE", "lab")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("READINESS_ATTEMPTS", 5)
	v.SetDefault("READINESS_INTERVAL", "200ms")
	v.SetDefault("UPLOAD_CATEGORY", "lab")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("UPLOAD_BODY_LIMIT", "25M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("BACKEND_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether incoming requests must carry a verified token.
// Development without any auth settings runs with a fixed identity instead.
func (c *Config) AuthEnabled() bool {
	return !c.IsDev() || c.AuthSigningKey != "" || c.AuthJWKSURL != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", c.BackendURL)
	}
	if c.IsProduction() && u.Scheme != "https" {
		return fmt.Errorf("BACKEND_URL must use https in production")
	}

	if c.AuthEnabled() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development only; use AUTH_JWKS_URL in production")
	}

	if c.ReadinessAttempts < 1 {
		return fmt.Errorf("READINESS_ATTEMPTS must be at least 1, got %d", c.ReadinessAttempts)
	}
	if c.ReadinessInterval < 0 {
		return fmt.Errorf("READINESS_INTERVAL must not be negative")
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// ValidateCaller checks the identity the CLI sends to the backend.
func (c *Config) ValidateCaller() error {
	if c.LabRole == "" {
		return fmt.Errorf("LAB_ROLE is required")
	}
	if c.LabHospitalID == 0 || c.LabUserID == 0 {
		return fmt.Errorf("LAB_HOSPITAL_ID and LAB_USER_ID are required")
	}
	return nil
}
