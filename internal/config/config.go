// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (completion notification queue)
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"` // set only during rotation

	// Solana
	SolanaRPCURL          string `koanf:"solana_rpc_url"`
	USDCMint              string `koanf:"usdc_mint"`
	PlatformWallet        string `koanf:"platform_wallet"`
	RequiredConfirmations int    `koanf:"required_confirmations"`

	// Payments
	PlatformFeeBps      int `koanf:"platform_fee_bps"`
	IntentExpiryMinutes int `koanf:"intent_expiry_minutes"`

	// Claim links for anonymous payments
	ClaimBaseURL string `koanf:"claim_base_url"`

	// Stripe
	StripeAPIKey        string `koanf:"stripe_api_key"`
	StripeWebhookSecret string `koanf:"stripe_webhook_secret"`
	CheckoutSuccessURL  string `koanf:"checkout_success_url"`
	CheckoutCancelURL   string `koanf:"checkout_cancel_url"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL    = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret      = errors.New("JWT_SECRET is required")
	ErrMissingSolanaRPCURL   = errors.New("SOLANA_RPC_URL is required")
	ErrMissingPlatformWallet = errors.New("PLATFORM_WALLET is required")
	ErrMissingClaimBaseURL   = errors.New("CLAIM_BASE_URL is required")
	ErrMissingStripeSecret   = errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_API_KEY is set")
	ErrInvalidFeeBps         = errors.New("PLATFORM_FEE_BPS must be between 0 and 10000")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultUSDCMint              = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	DefaultRequiredConfirmations = 32
	DefaultPlatformFeeBps        = 1000 // 10% platform share of support payments
	DefaultIntentExpiryMinutes   = 30
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try WIHNGO_PORT first, then PORT for platform compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"WIHNGO_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	requiredConfs, confErr := getEnvIntOrDefault("REQUIRED_CONFIRMATIONS", k.Int("required_confirmations"), DefaultRequiredConfirmations)
	if confErr != nil {
		loadErrs = append(loadErrs, confErr)
	}

	feeBps, feeErr := getEnvIntOrDefault("PLATFORM_FEE_BPS", k.Int("platform_fee_bps"), DefaultPlatformFeeBps)
	if feeErr != nil {
		loadErrs = append(loadErrs, feeErr)
	}

	expiryMinutes, expiryErr := getEnvIntOrDefault("INTENT_EXPIRY_MINUTES", k.Int("intent_expiry_minutes"), DefaultIntentExpiryMinutes)
	if expiryErr != nil {
		loadErrs = append(loadErrs, expiryErr)
	}

	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefaultMulti([]string{"WIHNGO_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:              getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:             getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:     getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		SolanaRPCURL:          getEnvOrKoanf("SOLANA_RPC_URL", k, "solana_rpc_url"),
		USDCMint:              getEnvOrDefault("USDC_MINT", k.String("usdc_mint"), DefaultUSDCMint),
		PlatformWallet:        getEnvOrKoanf("PLATFORM_WALLET", k, "platform_wallet"),
		RequiredConfirmations: requiredConfs,
		PlatformFeeBps:        feeBps,
		IntentExpiryMinutes:   expiryMinutes,
		ClaimBaseURL:          getEnvOrKoanf("CLAIM_BASE_URL", k, "claim_base_url"),
		StripeAPIKey:          getEnvOrKoanf("STRIPE_API_KEY", k, "stripe_api_key"),
		StripeWebhookSecret:   getEnvOrKoanf("STRIPE_WEBHOOK_SECRET", k, "stripe_webhook_secret"),
		CheckoutSuccessURL:    getEnvOrKoanf("CHECKOUT_SUCCESS_URL", k, "checkout_success_url"),
		CheckoutCancelURL:     getEnvOrKoanf("CHECKOUT_CANCEL_URL", k, "checkout_cancel_url"),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IntentExpiry returns the intent time-to-live as a duration.
func (c *Config) IntentExpiry() time.Duration {
	return time.Duration(c.IntentExpiryMinutes) * time.Minute
}

// StripeEnabled reports whether the card checkout path is configured.
func (c *Config) StripeEnabled() bool {
	return c.StripeAPIKey != ""
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.SolanaRPCURL == "" {
		errs = append(errs, ErrMissingSolanaRPCURL)
	}
	if c.PlatformWallet == "" {
		errs = append(errs, ErrMissingPlatformWallet)
	}
	if c.ClaimBaseURL == "" {
		errs = append(errs, ErrMissingClaimBaseURL)
	}
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > 10000 {
		errs = append(errs, ErrInvalidFeeBps)
	}

	// Stripe is optional. When the API key is set, the webhook secret must be too.
	if c.StripeAPIKey != "" && c.StripeWebhookSecret == "" {
		errs = append(errs, ErrMissingStripeSecret)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                   fmt.Sprintf("%d", c.Port),
		"env":                    c.Env,
		"database_url":           maskDatabaseURL(c.DatabaseURL),
		"redis_url":              maskDatabaseURL(c.RedisURL),
		"jwt_secret":             maskSecret(c.JWTSecret),
		"jwt_previous_secret":    maskSecret(c.JWTPreviousSecret),
		"solana_rpc_url":         c.SolanaRPCURL,
		"usdc_mint":              c.USDCMint,
		"platform_wallet":        c.PlatformWallet,
		"required_confirmations": fmt.Sprintf("%d", c.RequiredConfirmations),
		"platform_fee_bps":       fmt.Sprintf("%d", c.PlatformFeeBps),
		"intent_expiry_minutes":  fmt.Sprintf("%d", c.IntentExpiryMinutes),
		"claim_base_url":         c.ClaimBaseURL,
		"stripe_api_key":         maskStripeKey(c.StripeAPIKey),
		"stripe_webhook_secret":  maskSecret(c.StripeWebhookSecret),
		"checkout_success_url":   c.CheckoutSuccessURL,
		"checkout_cancel_url":    c.CheckoutCancelURL,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey masks a Stripe API key, preserving the prefix (sk_live_, sk_test_, etc.)
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
