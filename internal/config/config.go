/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the tip-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	PublicBaseURL        string `mapstructure:"PUBLIC_BASE_URL"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	FacilitatorBaseURL        string `mapstructure:"FACILITATOR_BASE_URL"`
	FacilitatorAPIKeyID       string `mapstructure:"FACILITATOR_API_KEY_ID"`
	FacilitatorAPIKeySecret   string `mapstructure:"FACILITATOR_API_KEY_SECRET"`
	FacilitatorTimeoutSeconds int    `mapstructure:"FACILITATOR_TIMEOUT_SECONDS"`

	PaymentNetwork        string `mapstructure:"PAYMENT_NETWORK"`
	PaymentAssetAddress   string `mapstructure:"PAYMENT_ASSET_ADDRESS"`
	PaymentAssetSymbol    string `mapstructure:"PAYMENT_ASSET_SYMBOL"`
	PaymentAssetDecimals  int    `mapstructure:"PAYMENT_ASSET_DECIMALS"`
	PaymentAssetName      string `mapstructure:"PAYMENT_ASSET_NAME"`
	PaymentAssetVersion   string `mapstructure:"PAYMENT_ASSET_VERSION"`
	PaymentTimeoutSeconds int    `mapstructure:"PAYMENT_TIMEOUT_SECONDS"`
	ChainID               int64  `mapstructure:"CHAIN_ID"`

	TipRateLimitPerMinute int    `mapstructure:"TIP_RATE_LIMIT_PER_MINUTE"`
	WalletAuthMaxAgeSecs  int    `mapstructure:"WALLET_AUTH_MAX_AGE_SECONDS"`
	WebhookSigningKey     string `mapstructure:"WEBHOOK_SIGNING_KEY"`
	AllowedOrigins        string `mapstructure:"ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values. The payment defaults describe USDC on Base
	// Sepolia; production deployments override them.
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	viper.SetDefault("FACILITATOR_TIMEOUT_SECONDS", 30)
	viper.SetDefault("PAYMENT_NETWORK", "base-sepolia")
	viper.SetDefault("PAYMENT_ASSET_ADDRESS", "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	viper.SetDefault("PAYMENT_ASSET_SYMBOL", "USDC")
	viper.SetDefault("PAYMENT_ASSET_DECIMALS", 6)
	viper.SetDefault("PAYMENT_ASSET_NAME", "USDC")
	viper.SetDefault("PAYMENT_ASSET_VERSION", "2")
	viper.SetDefault("PAYMENT_TIMEOUT_SECONDS", 60)
	viper.SetDefault("CHAIN_ID", 84532)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "piggybanks:rate_limit")
	viper.SetDefault("TIP_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("WALLET_AUTH_MAX_AGE_SECONDS", 300)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("PUBLIC_BASE_URL")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("FACILITATOR_BASE_URL")
	_ = viper.BindEnv("FACILITATOR_API_KEY_ID", "FACILITATOR_API_KEY_ID", "CDP_API_KEY_ID")
	_ = viper.BindEnv("FACILITATOR_API_KEY_SECRET", "FACILITATOR_API_KEY_SECRET", "CDP_API_KEY_SECRET")
	_ = viper.BindEnv("FACILITATOR_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PAYMENT_NETWORK")
	_ = viper.BindEnv("PAYMENT_ASSET_ADDRESS")
	_ = viper.BindEnv("PAYMENT_ASSET_SYMBOL")
	_ = viper.BindEnv("PAYMENT_ASSET_DECIMALS")
	_ = viper.BindEnv("PAYMENT_ASSET_NAME")
	_ = viper.BindEnv("PAYMENT_ASSET_VERSION")
	_ = viper.BindEnv("PAYMENT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CHAIN_ID")
	_ = viper.BindEnv("TIP_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WALLET_AUTH_MAX_AGE_SECONDS")
	_ = viper.BindEnv("WEBHOOK_SIGNING_KEY")
	_ = viper.BindEnv("ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.PublicBaseURL = strings.TrimSuffix(strings.TrimSpace(config.PublicBaseURL), "/")
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "piggybanks:rate_limit"
	}
	config.FacilitatorBaseURL = strings.TrimSuffix(strings.TrimSpace(config.FacilitatorBaseURL), "/")

	if config.PaymentAssetDecimals < 0 || config.PaymentAssetDecimals > 18 {
		log.Printf("level=warn component=config msg=\"asset decimals out of range; using 6\" decimals=%d", config.PaymentAssetDecimals)
		config.PaymentAssetDecimals = 6
	}
	if config.PaymentTimeoutSeconds <= 0 {
		config.PaymentTimeoutSeconds = 60
	}
	if config.FacilitatorTimeoutSeconds <= 0 {
		config.FacilitatorTimeoutSeconds = 30
	}
	if config.TipRateLimitPerMinute < 0 {
		config.TipRateLimitPerMinute = 0
	}
	if config.WalletAuthMaxAgeSecs <= 0 {
		config.WalletAuthMaxAgeSecs = 300
	}

	return
}

// Origins splits the comma-separated ALLOWED_ORIGINS value. An empty value
// yields nil, which the router treats as allow-all.
func (c Config) Origins() []string {
	raw := strings.TrimSpace(c.AllowedOrigins)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
