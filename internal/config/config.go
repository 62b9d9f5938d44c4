// Package config defines the top-level configuration for the zmart market
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ZMART_* environment variables.
type Config struct {
	Protocol  ProtocolConfig  `toml:"protocol"`
	Keys      KeysConfig      `toml:"keys"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ProtocolConfig holds the genesis parameters of the global config: fee
// splits, vote thresholds and timing windows. Amounts use basis points; the
// authorities are hex addresses.
type ProtocolConfig struct {
	Authority        string `toml:"authority"`
	BackendAuthority string `toml:"backend_authority"`

	ProtocolFeeBps uint64 `toml:"protocol_fee_bps"`
	CreatorFeeBps  uint64 `toml:"creator_fee_bps"`
	StakerFeeBps   uint64 `toml:"staker_fee_bps"`

	ProposalThresholdBps uint64 `toml:"proposal_threshold_bps"`
	DisputeThresholdBps  uint64 `toml:"dispute_threshold_bps"`
	MinProposalVotes     uint64 `toml:"min_proposal_votes"`
	MinDisputeVotes      uint64 `toml:"min_dispute_votes"`

	MinResolutionDelay duration `toml:"min_resolution_delay"`
	DisputeWindow      duration `toml:"dispute_window"`

	// MinTradeAmount is in fixed-point collateral units (9 decimals).
	MinTradeAmount uint64 `toml:"min_trade_amount"`

	ProposalFloorPolicy  string `toml:"proposal_floor_policy"`
	InvalidOutcomePolicy string `toml:"invalid_outcome_policy"`
}

// KeysConfig holds the backend authority signing key material.
type KeysConfig struct {
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters for the index store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for market
// snapshots and failure reports.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SchedulerConfig holds the autonomous finalization loop parameters.
type SchedulerConfig struct {
	Enabled      bool     `toml:"enabled"`
	PollInterval duration `toml:"poll_interval"`
	BatchSize    int      `toml:"batch_size"`
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff duration `toml:"retry_backoff"`
	ItemTimeout  duration `toml:"item_timeout"`
	LockTTL      duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// authentication; a zero RateLimit disables per-client rate limiting.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "48h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Protocol: ProtocolConfig{
			ProtocolFeeBps:       300,
			CreatorFeeBps:        200,
			StakerFeeBps:         500,
			ProposalThresholdBps: 7000,
			DisputeThresholdBps:  6000,
			MinProposalVotes:     10,
			MinDisputeVotes:      10,
			MinResolutionDelay:   duration{time.Hour},
			DisputeWindow:        duration{48 * time.Hour},
			MinTradeAmount:       1_000_000, // 0.001 units
			ProposalFloorPolicy:  "reject",
			InvalidOutcomePolicy: "refund-cost-basis",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "zmart",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "zmart-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: duration{5 * time.Minute},
			BatchSize:    10,
			MaxRetries:   3,
			RetryBackoff: duration{2 * time.Second},
			ItemTimeout:  duration{30 * time.Second},
			LockTTL:      duration{4 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   100,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				"finalization.failed",
				"finalization.retries_exhausted",
				"solvency.violation",
				"protocol.paused",
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "full" runs the
// API server and the finalization scheduler; "api" runs only the server;
// "scheduler" runs only the finalization worker.
var validModes = map[string]bool{
	"full":      true,
	"api":       true,
	"scheduler": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, api, scheduler)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Protocol authorities
	if !validAddress(c.Protocol.Authority) {
		errs = append(errs, fmt.Sprintf("protocol: authority %q is not a valid non-zero hex address", c.Protocol.Authority))
	}
	if !validAddress(c.Protocol.BackendAuthority) {
		errs = append(errs, fmt.Sprintf("protocol: backend_authority %q is not a valid non-zero hex address", c.Protocol.BackendAuthority))
	}

	// Protocol parameters
	totalFee := c.Protocol.ProtocolFeeBps + c.Protocol.CreatorFeeBps + c.Protocol.StakerFeeBps
	if totalFee >= 10_000 {
		errs = append(errs, fmt.Sprintf("protocol: fee splits sum to %d bps, must be below 10000", totalFee))
	}
	if c.Protocol.ProposalThresholdBps > 10_000 {
		errs = append(errs, "protocol: proposal_threshold_bps must not exceed 10000")
	}
	if c.Protocol.DisputeThresholdBps > 10_000 {
		errs = append(errs, "protocol: dispute_threshold_bps must not exceed 10000")
	}
	if c.Protocol.DisputeWindow.Duration <= 0 {
		errs = append(errs, "protocol: dispute_window must be positive")
	}
	if c.Protocol.MinResolutionDelay.Duration <= 0 {
		errs = append(errs, "protocol: min_resolution_delay must be positive")
	}
	switch c.Protocol.ProposalFloorPolicy {
	case "reject", "hold":
	default:
		errs = append(errs, fmt.Sprintf("protocol: proposal_floor_policy %q (valid: reject, hold)", c.Protocol.ProposalFloorPolicy))
	}
	switch c.Protocol.InvalidOutcomePolicy {
	case "refund-cost-basis", "no-payout":
	default:
		errs = append(errs, fmt.Sprintf("protocol: invalid_outcome_policy %q (valid: refund-cost-basis, no-payout)", c.Protocol.InvalidOutcomePolicy))
	}

	// The scheduler identifies itself with the backend key.
	needsKey := c.Mode == "scheduler" || (c.Mode == "full" && c.Scheduler.Enabled)
	if needsKey && c.Keys.EncryptedKeyPath != "" && c.Keys.KeyPassword == "" {
		errs = append(errs, "keys: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if c.Scheduler.PollInterval.Duration <= 0 {
			errs = append(errs, "scheduler: poll_interval must be positive")
		}
		if c.Scheduler.BatchSize < 1 {
			errs = append(errs, "scheduler: batch_size must be >= 1")
		}
		if c.Scheduler.MaxRetries < 1 {
			errs = append(errs, "scheduler: max_retries must be >= 1")
		}
		if c.Scheduler.RetryBackoff.Duration <= 0 {
			errs = append(errs, "scheduler: retry_backoff must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
