package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/rental-checkout/internal/adapter"
	"github.com/yourorg/rental-checkout/internal/adapter/pesapal"
	"github.com/yourorg/rental-checkout/internal/policy"
)

var envVars = []string{
	"HTTP_ADDR",
	"PESAPAL_CONSUMER_KEY", "PESAPAL_CONSUMER_SECRET", "PESAPAL_ENV", "PESAPAL_BASE_URL",
	"PESAPAL_CALLBACK_URL", "PESAPAL_IPN_URL", "PESAPAL_IPN_ID", "PESAPAL_IPN_NOTIFICATION_TYPE",
	"PESAPAL_TIMEOUT", "PESAPAL_RETRY_ATTEMPTS", "PESAPAL_RETRY_DELAY",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "DATABASE_URL",
	"BOOKING_CURRENCY", "BOOKING_CAR_EXPIRY", "BOOKING_SESSION_TTL",
}

// clearEnv blanks every variable Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "USD", cfg.Booking.Currency)
	assert.Equal(t, 30*time.Minute, cfg.Booking.CarExpiry)
	assert.Equal(t, 24*time.Hour, cfg.Booking.SessionTTL)
	assert.Equal(t, pesapal.Sandbox, cfg.Pesapal.Environment)
	assert.Equal(t, pesapal.SandboxBaseURL, cfg.Pesapal.BaseURL)
	assert.Equal(t, "GET", cfg.Pesapal.IPNNotificationType)
	assert.Equal(t, 15*time.Second, cfg.Pesapal.Timeout)
	assert.Equal(t, 2, cfg.Pesapal.RetryAttempts)
	assert.Empty(t, cfg.Storage.RedisAddr)
	assert.Empty(t, cfg.Storage.PostgresDSN)
	assert.Equal(t, policy.DefaultRules, cfg.Policy)

	err = cfg.Pesapal.Validate()
	require.Error(t, err, "credentials are not required to start")
	assert.True(t, adapter.IsConfiguration(err))
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PESAPAL_CONSUMER_KEY", "key")
	t.Setenv("PESAPAL_CONSUMER_SECRET", "secret")
	t.Setenv("PESAPAL_ENV", "production")
	t.Setenv("PESAPAL_IPN_URL", "https://rentals.example.com/api/pesapal/ipn")
	t.Setenv("PESAPAL_IPN_NOTIFICATION_TYPE", "post")
	t.Setenv("PESAPAL_RETRY_ATTEMPTS", "-1")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DATABASE_URL", "postgres://localhost/rentals?sslmode=disable")
	t.Setenv("BOOKING_CURRENCY", "ugx")
	t.Setenv("BOOKING_CAR_EXPIRY", "45m")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, pesapal.Live, cfg.Pesapal.Environment)
	assert.Equal(t, pesapal.LiveBaseURL, cfg.Pesapal.BaseURL)
	assert.Equal(t, "POST", cfg.Pesapal.IPNNotificationType)
	assert.Equal(t, -1, cfg.Pesapal.RetryAttempts)
	assert.NoError(t, cfg.Pesapal.Validate())
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, 2, cfg.Storage.RedisDB)
	assert.Equal(t, "postgres://localhost/rentals?sslmode=disable", cfg.Storage.PostgresDSN)
	assert.Equal(t, "UGX", cfg.Booking.Currency)
	assert.Equal(t, 45*time.Minute, cfg.Booking.CarExpiry)
}

func TestLoad_BaseURLOverrideIsNormalized(t *testing.T) {
	clearEnv(t)
	t.Setenv("PESAPAL_BASE_URL", "https://cybqa.pesapal.com/pesapalv3/api/")
	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://cybqa.pesapal.com/pesapalv3", cfg.Pesapal.BaseURL)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that exist, even empty ones.
	os.Unsetenv("PESAPAL_IPN_ID")
	t.Cleanup(func() { os.Unsetenv("PESAPAL_IPN_ID") })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PESAPAL_IPN_ID=ipn-from-dotenv\n"), 0o600))

	cfg, err := Load(Options{EnvFile: path})
	require.NoError(t, err)
	assert.Equal(t, "ipn-from-dotenv", cfg.Pesapal.IPNID)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	assert.NoError(t, err)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOOKING_CURRENCY", "KES")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
http:
  addr: ":7070"
booking:
  currency: "USD"
  session_ttl: "2h"
pesapal:
  callback_url: "https://rentals.example.com/booking/callback"
policy:
  rules:
    - id: max_rental
      expression: "days <= 60"
      message: "rentals longer than 60 days need a quote"
      priority: 2
    - id: positive_amount
      expression: "amount > 0"
      priority: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, "KES", cfg.Booking.Currency, "environment wins over the file")
	assert.Equal(t, 2*time.Hour, cfg.Booking.SessionTTL)
	assert.Equal(t, "https://rentals.example.com/booking/callback", cfg.Pesapal.CallbackURL)
	require.Len(t, cfg.Policy, 2)
	assert.Equal(t, policy.PolicyRule{
		ID:         "max_rental",
		Expression: "days <= 60",
		Message:    "rentals longer than 60 days need a quote",
		Priority:   2,
	}, cfg.Policy[0])

	_, err = policy.NewCheckoutPolicyEnforcer(cfg.Policy)
	assert.NoError(t, err)
}

func TestLoad_ConfigFileErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}

func TestLoad_FlagsWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("addr", "", "listen address")
	flags.String("currency", "", "pricing currency")
	require.NoError(t, flags.Parse([]string{"--addr", ":9999"}))

	cfg, err := Load(Options{Flags: flags})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "USD", cfg.Booking.Currency, "unset flags do not shadow defaults")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"BadCurrency", "BOOKING_CURRENCY", "dollars", "not a 3-letter code"},
		{"ZeroExpiry", "BOOKING_CAR_EXPIRY", "0s", "booking.car_expiry must be positive"},
		{"NegativeTTL", "BOOKING_SESSION_TTL", "-1h", "booking.session_ttl must be positive"},
		{"NegativeRedisDB", "REDIS_DB", "-3", "redis.db must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load(Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
