// config/config.go
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process configuration, read from the environment (and an optional .env file).
type Config struct {
	DatabaseURL    string
	Port           int
	AllowedOrigins []string
	JWTSecret      string

	// Chain
	RPCURL          string // websocket endpoint, needed for log subscriptions
	ContractAddress string
	StartBlock      uint64 // first block the backfill reconciler scans when no cursor exists; 0 starts at the chain head
	BackfillWindow  uint64 // max blocks per FilterLogs call

	// Default memory created by the bootstrap
	DefaultCreatorWallet string
	DefaultTitle         string
	DefaultDescription   string
	DefaultImageURL      string

	// Reconciler
	ReconcileInterval time.Duration

	// Notifier
	SessionBuffer int

	// R2 (optional; QR images fall back to data URLs when unset)
	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2Bucket          string
	CDNBaseURL        string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 5000)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("START_BLOCK", 0)
	v.SetDefault("BACKFILL_WINDOW", 2000)
	v.SetDefault("DEFAULT_MEMORY_CREATOR", "0x39Da87AC552B85Ee8d0bD9bF1a542897223012D1")
	v.SetDefault("DEFAULT_MEMORY_TITLE", "Project Mocha")
	v.SetDefault("DEFAULT_MEMORY_DESCRIPTION", "Project Mocha is a project that is built on the Ethereum blockchain.")
	v.SetDefault("DEFAULT_MEMORY_IMAGE_URL", "")
	v.SetDefault("RECONCILE_INTERVAL", "5m")
	v.SetDefault("SESSION_BUFFER", 16)
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	interval, err := time.ParseDuration(v.GetString("RECONCILE_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_INTERVAL: %w", err)
	}

	cfg := &Config{
		DatabaseURL:          v.GetString("DATABASE_URL"),
		Port:                 v.GetInt("PORT"),
		AllowedOrigins:       splitOrigins(v.GetString("ALLOWED_ORIGINS")),
		JWTSecret:            v.GetString("JWT_SECRET"),
		RPCURL:               v.GetString("BLOCKCHAIN_RPC_URL"),
		ContractAddress:      strings.ToLower(strings.TrimSpace(v.GetString("CONTRACT_ADDRESS"))),
		StartBlock:           v.GetUint64("START_BLOCK"),
		BackfillWindow:       v.GetUint64("BACKFILL_WINDOW"),
		DefaultCreatorWallet: strings.ToLower(v.GetString("DEFAULT_MEMORY_CREATOR")),
		DefaultTitle:         v.GetString("DEFAULT_MEMORY_TITLE"),
		DefaultDescription:   v.GetString("DEFAULT_MEMORY_DESCRIPTION"),
		DefaultImageURL:      v.GetString("DEFAULT_MEMORY_IMAGE_URL"),
		ReconcileInterval:    interval,
		SessionBuffer:        v.GetInt("SESSION_BUFFER"),
		R2AccountID:          v.GetString("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:        v.GetString("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret:    v.GetString("R2_ACCESS_KEY_SECRET"),
		R2Bucket:             v.GetString("R2_BUCKET_NAME"),
		CDNBaseURL:           v.GetString("CDN_BASE_URL"),
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"JWT_SECRET", c.JWTSecret},
		{"BLOCKCHAIN_RPC_URL", c.RPCURL},
		{"CONTRACT_ADDRESS", c.ContractAddress},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s environment variable not set", r.name)
		}
	}
	if c.BackfillWindow == 0 {
		return fmt.Errorf("BACKFILL_WINDOW must be positive")
	}
	return nil
}

// R2Enabled is true when every R2 credential is present.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2AccessKeySecret != "" && c.R2Bucket != ""
}

func splitOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
