// Package config holds every tunable of the platform in one struct, loaded
// from the environment with normative defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configurable parameters.
type Config struct {
	// Server
	Host        string
	Port        int
	TrustProxy  bool
	CORSOrigins []string

	// Auth
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	// Store
	DatabaseURL string

	// Physics
	BallSpeed    float64 // normalized units per second
	PaddleSpeed  float64
	PaddleHeight float64
	PaddleWidth  float64
	BallSize     float64
	WinningScore int

	// Match runtime timing
	TickInterval     time.Duration // 60 Hz nominal
	CountdownSeconds int
	CleanupDelay     time.Duration // post-terminal runtime teardown
	ReconnectGrace   time.Duration // 0 means transport loss forfeits immediately
	RematchTTL       time.Duration

	// Chat / invites
	InviteTTL         time.Duration
	MaxMessageLength  int
	InviteRateLimit   int // invites per rolling minute per user
	InputRateLimit    int // inputs per rolling second per participant
	SendQueueSize     int // per-connection outbound frames
	IdlePingInterval  time.Duration
}

// Default returns a Config with the normative defaults. The database URL and
// token secrets have no defaults; they must come from the environment.
func Default() *Config {
	return &Config{
		Host:        "0.0.0.0",
		Port:        8080,
		CORSOrigins: []string{"*"},

		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,

		BallSpeed:    0.5,
		PaddleSpeed:  0.6,
		PaddleHeight: 0.15,
		PaddleWidth:  0.02,
		BallSize:     0.02,
		WinningScore: 11,

		TickInterval:     16667 * time.Microsecond,
		CountdownSeconds: 3,
		CleanupDelay:     30 * time.Second,
		ReconnectGrace:   0,
		RematchTTL:       15 * time.Second,

		InviteTTL:        30 * time.Second,
		MaxMessageLength: 2000,
		InviteRateLimit:  10,
		InputRateLimit:   60,
		SendQueueSize:    64,
		IdlePingInterval: 30 * time.Second,
	}
}

// Load builds a Config from the environment, optionally seeded from a .env
// file. Invalid values fail loudly; the process must not come up half
// configured.
func Load() (*Config, error) {
	// Missing .env is fine; a malformed one is not.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config: loading .env: %w", err)
		}
	}

	cfg := Default()
	var err error

	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.TrustProxy, err = boolEnv("TRUST_PROXY", cfg.TrustProxy); err != nil {
		return nil, err
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitAndTrim(v)
	}

	cfg.AccessTokenSecret = os.Getenv("ACCESS_TOKEN_SECRET")
	cfg.RefreshTokenSecret = os.Getenv("REFRESH_TOKEN_SECRET")
	if cfg.AccessTokenTTL, err = durationEnv("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = durationEnv("REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if cfg.WinningScore, err = intEnv("WINNING_SCORE", cfg.WinningScore); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = durationEnv("TICK_INTERVAL", cfg.TickInterval); err != nil {
		return nil, err
	}
	if cfg.ReconnectGrace, err = durationEnv("RECONNECT_GRACE", cfg.ReconnectGrace); err != nil {
		return nil, err
	}
	if cfg.InputRateLimit, err = intEnv("INPUT_RATE_LIMIT", cfg.InputRateLimit); err != nil {
		return nil, err
	}
	if cfg.SendQueueSize, err = intEnv("SEND_QUEUE_SIZE", cfg.SendQueueSize); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot operate under.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.AccessTokenSecret == "" {
		return fmt.Errorf("config: ACCESS_TOKEN_SECRET is required")
	}
	if c.RefreshTokenSecret == "" {
		return fmt.Errorf("config: REFRESH_TOKEN_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.WinningScore <= 0 {
		return fmt.Errorf("config: winning score must be positive, got %d", c.WinningScore)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick interval must be positive")
	}
	if c.InputRateLimit <= 0 {
		return fmt.Errorf("config: input rate limit must be positive")
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("config: send queue size must be positive")
	}
	if c.PaddleHeight <= 0 || c.PaddleHeight >= 1 {
		return fmt.Errorf("config: paddle height must be in (0,1), got %f", c.PaddleHeight)
	}
	return nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
