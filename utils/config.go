package utils

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

var (
	EnvPath string = "."
)

type Config struct {
	Env        string `mapstructure:"ENV"`
	ServerPort int    `mapstructure:"SERVER_PORT"`

	DBUsername string `mapstructure:"DB_USERNAME"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBName     string `mapstructure:"DB_NAME"`
	SSLMode    string `mapstructure:"SSLMODE"`

	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	EthereumRPCURL        string `mapstructure:"ETHEREUM_RPC_URL"`
	EthereumWSURL         string `mapstructure:"ETHEREUM_WS_URL"`
	EthereumChainID       uint64 `mapstructure:"ETHEREUM_CHAIN_ID"`
	MasterPrivateKey      string `mapstructure:"MASTER_PRIVATE_KEY"`
	TreasuryAddress       string `mapstructure:"TREASURY_ADDRESS"`
	KeyEncryptionSecret   string `mapstructure:"KEY_ENCRYPTION_SECRET"`
	RequiredConfirmations uint64 `mapstructure:"REQUIRED_CONFIRMATIONS"`
	ListenerInterval      int    `mapstructure:"LISTENER_INTERVAL"`

	WebhookMaxRetries int `mapstructure:"WEBHOOK_MAX_RETRIES"`
	WebhookTimeout    int `mapstructure:"WEBHOOK_TIMEOUT"`

	CollectionIntervalMinutes int `mapstructure:"COLLECTION_INTERVAL_MINUTES"`
}

func LoadConfig(path string) (*Config, error) {
	// Validate that the path is not empty
	if path == "" {
		path = "."
	}

	// Create a new Viper instance to avoid global state
	v := viper.New()

	// Disable environment variable prefix
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	// Configure config file
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Log the error, but don't fail entirely
		log.Printf("Warning: Unable to read config file: %v", err)
	}

	// Create config struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyDefaults(&config)

	// Additional security: Validate critical configurations
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.EthereumChainID == 0 {
		config.EthereumChainID = 1
	}
	if config.ListenerInterval == 0 {
		config.ListenerInterval = 5
	}
	if config.WebhookMaxRetries == 0 {
		config.WebhookMaxRetries = 5
	}
	if config.WebhookTimeout == 0 {
		config.WebhookTimeout = 30
	}
	if config.CollectionIntervalMinutes == 0 {
		config.CollectionIntervalMinutes = 60
	}
}

func validateConfig(config *Config) error {
	// Add validation for critical configurations
	if config.ServerPort == 0 {
		return fmt.Errorf("server port must be specified")
	}

	if config.DBUsername == "" || config.DBPassword == "" {
		return fmt.Errorf("database credentials must be provided")
	}

	if config.EthereumRPCURL == "" {
		return fmt.Errorf("ethereum RPC URL must be provided")
	}

	if config.MasterPrivateKey == "" {
		return fmt.Errorf("master private key must be provided")
	}

	// common.HexToAddress accepts any input, so malformed treasury addresses
	// must be rejected here before sweeps could ever target them.
	if !IsValidAddress(config.TreasuryAddress) {
		return fmt.Errorf("treasury address must be a 0x-prefixed 40-hex-char address")
	}

	if len(config.KeyEncryptionSecret) < 16 {
		return fmt.Errorf("key encryption secret must be at least 16 characters")
	}

	return nil
}

// Redact masks sensitive fields so the config can be logged at startup.
func (c *Config) Redact() Config {
	redacted := *c
	redacted.DBPassword = "****"
	redacted.RedisPassword = "****"
	redacted.MasterPrivateKey = "****"
	redacted.KeyEncryptionSecret = "****"
	return redacted
}
