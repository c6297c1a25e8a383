package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port          string `env:"PORT" envDefault:"3333"`
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3333"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// TrustedProxyHops counts the proxies that append to X-Forwarded-For in front of the service.
	TrustedProxyHops int `env:"TRUSTED_PROXY_HOPS" envDefault:"1"`

	ClerkSecretKey     string `env:"CLERK_SECRET_KEY"`
	ClerkWebhookSecret string `env:"CLERK_WEBHOOK_SECRET"`

	TokenSigningSecret string   `env:"TOKEN_SIGNING_SECRET,required,notEmpty"`
	ScannerKeys        []string `env:"SCANNER_KEYS" envSeparator:","`

	EarlyWindowMinutes     int `env:"EARLY_WINDOW_MINUTES" envDefault:"15"`
	RewardsPointsPerCoupon int `env:"REWARDS_POINTS_PER_COUPON" envDefault:"100"`

	MetricsUser string `env:"METRICS_USER"`
	MetricsPass string `env:"METRICS_PASS"`
	PprofSecret string `env:"PPROF_SECRET"`

	Limits Limits `envPrefix:"LIMIT_"`
	Stripe Stripe `envPrefix:"STRIPE_"`
	SMTP   SMTP   `envPrefix:"SMTP_"`
	FCM    FCM    `envPrefix:"FCM_"`
}

// Limits are the (limit, window) pairs handed to the rate guard.
type Limits struct {
	EarlyMonthly          int `env:"EARLY_MONTHLY" envDefault:"30"`
	FreeCouponDaily       int `env:"FREE_COUPON_DAILY" envDefault:"1"`
	VerifyPerIdentity     int `env:"VERIFY_PER_IDENTITY" envDefault:"5"`
	VerifyPerIP           int `env:"VERIFY_PER_IP" envDefault:"20"`
	VerifyConfirmAttempts int `env:"VERIFY_CONFIRM_ATTEMPTS" envDefault:"10"`
	IPRequestsPerSecond   int `env:"IP_RPS" envDefault:"5"`
	IPBurst               int `env:"IP_BURST" envDefault:"30"`
}

type Stripe struct {
	SecretKey      string `env:"SECRET_KEY"`
	WebhookSecret  string `env:"WEBHOOK_SECRET"`
	PremiumPriceID string `env:"PREMIUM_PRICE_ID"`
	Currency       string `env:"CURRENCY" envDefault:"eur"`
	SuccessURL     string `env:"SUCCESS_URL" envDefault:"http://localhost:3000/success"`
	CancelURL      string `env:"CANCEL_URL" envDefault:"http://localhost:3000/cancel"`
}

type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"NearGo <no-reply@neargo.app>"`
}

type FCM struct {
	CredentialsFile string `env:"CREDENTIALS_FILE" envDefault:"./serviceAccountKey.json"`
}

func (c *Config) EarlyWindow() time.Duration {
	return time.Duration(c.EarlyWindowMinutes) * time.Minute
}

func (s SMTP) Enabled() bool {
	return s.Host != ""
}

func (s Stripe) Enabled() bool {
	return s.SecretKey != ""
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	if cfg.EarlyWindowMinutes <= 0 {
		return nil, fmt.Errorf("EARLY_WINDOW_MINUTES must be positive, got %d", cfg.EarlyWindowMinutes)
	}
	if cfg.TrustedProxyHops < 0 {
		return nil, fmt.Errorf("TRUSTED_PROXY_HOPS must not be negative, got %d", cfg.TrustedProxyHops)
	}
	return &cfg, nil
}

// ConfigureLogger applies the configured level and the text formatter used across the service.
func (c *Config) ConfigureLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithError(err).Warn("Unknown LOG_LEVEL, falling back to info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
