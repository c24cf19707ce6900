package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `app:
  log_level: "INFO"
  dry_run_enabled: true
  dms_enabled: true
  timezone: "UTC"

exchange:
  api_key: "${TEST_BFX_API_KEY}"
  api_secret: "${TEST_BFX_API_SECRET}"
  base_rest_url: "https://api.bitfinex.com"
  base_ws_url: "wss://api.bitfinex.com/ws/2"
  ws_connect_on_start: true

market_data:
  ws_ticker_stale_secs: 10
  candle_stale_secs: 120
  symbols: ["tBTCUSD"]

rate_limit:
  rate_limit_patterns:
    - class: "public"
      requests_per_sec: 10
      burst: 20
    - class: "order_submit"
      requests_per_sec: 2
      burst: 4

risk:
  max_trades_per_day: 50
  max_trades_per_symbol_per_day: 20
  trade_cooldown_seconds: 5
  max_daily_loss_pct: 0.03
  kill_switch_drawdown_pct: 0.10
  trading_windows:
    - start_hour: 0
      end_hour: 24

persistence:
  bracket_snapshot_path: "./data/brackets.json"
  nonce_path: "./data/nonce.json"
  audit_db_path: "./data/audit.db"
`

	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	tmpFile.Close()

	os.Setenv("TEST_BFX_API_KEY", "test_api_key_from_env")
	os.Setenv("TEST_BFX_API_SECRET", "test_secret_from_env")
	defer os.Unsetenv("TEST_BFX_API_KEY")
	defer os.Unsetenv("TEST_BFX_API_SECRET")

	config, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	assert.Equal(t, Secret("test_api_key_from_env"), config.Exchange.APIKey)
	assert.Equal(t, Secret("test_secret_from_env"), config.Exchange.APISecret)
}

func TestSourceRuntimeOverridePrecedence(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `app:
  log_level: "INFO"
  dry_run_enabled: false
  timezone: "UTC"

exchange:
  api_key: "k"
  api_secret: "s"

market_data:
  ws_ticker_stale_secs: 10
  candle_stale_secs: 120
  symbols: ["tBTCUSD"]

rate_limit:
  rate_limit_patterns:
    - class: "public"
      requests_per_sec: 10

persistence:
  bracket_snapshot_path: "./data/brackets.json"
  nonce_path: "./data/nonce.json"
  audit_db_path: "./data/audit.db"
`
	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	tmpFile.Close()

	src, err := NewSource(tmpFile.Name())
	require.NoError(t, err)

	cfg, err := src.WithOverride("log_level", "DEBUG").WithOverride("dry_run_enabled", "true").Resolve()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.App.LogLevel)
	assert.True(t, cfg.App.DryRunEnabled)
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	output := cfg.String()

	assert.Contains(t, output, "REDACTED")
	assert.NotContains(t, output, "test_api_key")
	assert.NotContains(t, output, "test_api_secret")
}

func TestConfigValidateRejectsMissingCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestConfigValidateRejectsBadTradingWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Risk.TradingWindows = []TradingWindow{{StartHour: 20, EndHour: 5}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading_windows")
}
