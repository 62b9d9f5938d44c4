package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAuthority = "0x00000000000000000000000000000000000000A1"
	testBackend   = "0x00000000000000000000000000000000000000B2"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Protocol.Authority = testAuthority
	cfg.Protocol.BackendAuthority = testBackend
	return cfg
}

func TestDefaultsValidateWithAuthorities(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingAuthorities(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authority")
}

func TestValidateRejectsFeeSplitAtFullPrecision(t *testing.T) {
	cfg := validConfig()
	cfg.Protocol.ProtocolFeeBps = 5000
	cfg.Protocol.CreatorFeeBps = 3000
	cfg.Protocol.StakerFeeBps = 2000

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee splits")
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "hybrid"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsUnknownPolicies(t *testing.T) {
	cfg := validConfig()
	cfg.Protocol.ProposalFloorPolicy = "retry"
	cfg.Protocol.InvalidOutcomePolicy = "burn"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proposal_floor_policy")
	assert.Contains(t, err.Error(), "invalid_outcome_policy")
}

func TestValidateRejectsRateLimitWithoutWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Server.RateLimit = 100
	cfg.Server.RateWindow = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_window")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "scheduler"
log_level = "debug"

[protocol]
authority = "` + testAuthority + `"
backend_authority = "` + testBackend + `"
dispute_window = "24h"

[scheduler]
poll_interval = "1m"
batch_size = 25
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scheduler", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.Protocol.DisputeWindow.Duration)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval.Duration)
	assert.Equal(t, 25, cfg.Scheduler.BatchSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, uint64(300), cfg.Protocol.ProtocolFeeBps)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[protocol]
authority = "` + testAuthority + `"
backend_authority = "` + testBackend + `"

[redis]
addr = "file-redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("ZMART_REDIS_ADDR", "env-redis:6379")
	t.Setenv("ZMART_SERVER_API_KEY", "sekret")
	t.Setenv("ZMART_PROTOCOL_DISPUTE_WINDOW", "72h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "sekret", cfg.Server.APIKey)
	assert.Equal(t, 72*time.Hour, cfg.Protocol.DisputeWindow.Duration)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Keys.KeyPassword = "key-secret"
	cfg.Notify.TelegramToken = "tg-secret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Keys.KeyPassword)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Originals are untouched.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)

	// Non-secret fields pass through.
	assert.Equal(t, cfg.Redis.Addr, red.Redis.Addr)
}

func TestProtocolToDomainRoundTrip(t *testing.T) {
	cfg := validConfig()
	dom := cfg.Protocol.ToDomain()

	assert.Equal(t, common.HexToAddress(testAuthority), dom.Authority)
	assert.Equal(t, common.HexToAddress(testBackend), dom.BackendAuthority)
	assert.Equal(t, cfg.Protocol.ProtocolFeeBps, dom.ProtocolFeeBps)
	assert.Equal(t, cfg.Protocol.CreatorFeeBps, dom.CreatorFeeBps)
	assert.Equal(t, cfg.Protocol.StakerFeeBps, dom.StakerFeeBps)
	assert.Equal(t, cfg.Protocol.DisputeWindow.Duration, dom.DisputeWindow)
	assert.Equal(t, cfg.Protocol.MinTradeAmount, dom.MinTradeAmount)
}
