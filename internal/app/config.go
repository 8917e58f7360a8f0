package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/domain/pricing"
)

// Config holds the complete application configuration, loadable from
// environment variables (GIFTSHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (GIFTSHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for carts, submission guards and rate limits; in-memory when empty" flag:"redis-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	Currency     string `default:"eur" usage:"ISO currency code for card payments"`
	Stripe       StripeConfig
	Auth         AuthConfig
	Pricing      PricingConfig
	Submit       SubmitConfig
	Sessions     SessionsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StripeConfig selects the card payment provider. Card payments are
// unavailable without a secret key.
type StripeConfig struct {
	SecretKey   string `usage:"Stripe secret key (GIFTSHOP_STRIPE_SECRETKEY)" flag:"stripe-secret-key"`
	Environment string `default:"test" usage:"Stripe environment: test or live"`
}

// AuthConfig controls shopper accounts and tokens.
type AuthConfig struct {
	JWTSecret string        `usage:"HMAC secret for session tokens (GIFTSHOP_AUTH_JWTSECRET)" flag:"jwt-secret"`
	Issuer    string        `default:"giftshop" usage:"Token issuer"`
	TokenTTL  time.Duration `default:"24h" usage:"Token lifetime"`
}

// PricingConfig holds the shop-wide price settings. Amounts are decimal strings.
type PricingConfig struct {
	FreeShippingThreshold string `default:"50.00" usage:"Subtotal after discount from which shipping is free"`
	FlatShippingCost      string `default:"3.90" usage:"Shipping cost below the threshold"`
	GiftPackagingCost     string `default:"4.00" usage:"Cost of the gift packaging option"`
}

// Shipping parses the shipping rule.
func (c PricingConfig) Shipping() (pricing.Shipping, error) {
	threshold, err := decimal.NewFromString(c.FreeShippingThreshold)
	if err != nil {
		return pricing.Shipping{}, errors.Wrap(err, "free shipping threshold")
	}
	flat, err := decimal.NewFromString(c.FlatShippingCost)
	if err != nil {
		return pricing.Shipping{}, errors.Wrap(err, "flat shipping cost")
	}
	return pricing.Shipping{FreeThreshold: threshold, FlatCost: flat}, nil
}

// PackagingCost parses the gift packaging cost.
func (c PricingConfig) PackagingCost() (decimal.Decimal, error) {
	cost, err := decimal.NewFromString(c.GiftPackagingCost)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "gift packaging cost")
	}
	return cost, nil
}

// SubmitConfig tunes order submission.
type SubmitConfig struct {
	ActionTimeout   time.Duration `default:"2m" usage:"How long to wait for a payment step-up (3-D Secure) to finish"`
	PollInterval    time.Duration `default:"2s" usage:"Payment status poll interval during step-up"`
	MaxAttempts     uint          `default:"4" usage:"Attempts for order number allocation and persistence"`
	InitialInterval time.Duration `default:"200ms" usage:"First retry delay for order persistence"`
	GuardTTL        time.Duration `default:"5m" usage:"Expiry of the in-flight submission marker"`
}

// SessionsConfig controls checkout session and cart retention.
type SessionsConfig struct {
	IdleTTL       time.Duration `default:"2h" usage:"Checkout sessions idle longer than this are dropped"`
	SweepInterval time.Duration `default:"5m" usage:"How often idle sessions are dropped"`
	CartTTL       time.Duration `default:"720h" usage:"Expiry of stored carts"`
}

// RateLimitConfig controls the per-client rate limiter. With Redis the window
// is fixed and shared by every instance.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "GIFTSHOP",
		Files:     []string{"config.yaml", "/etc/giftshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set GIFTSHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required: set GIFTSHOP_AUTH_JWTSECRET")
	}
	if _, err := c.Pricing.Shipping(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	if _, err := c.Pricing.PackagingCost(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	if c.Submit.MaxAttempts == 0 {
		return errors.New("submit max attempts must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's GIFTSHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
