// Package config loads the service configuration once at startup.
//
// Values come from, in decreasing precedence: bound command-line flags,
// environment variables (optionally seeded from a .env file), an optional
// YAML file, and built-in defaults. Keys are dotted ("pesapal.consumer_key")
// and map to environment variables by upper-casing and replacing dots with
// underscores (PESAPAL_CONSUMER_KEY).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yourorg/rental-checkout/internal/adapter/pesapal"
	"github.com/yourorg/rental-checkout/internal/booking"
	"github.com/yourorg/rental-checkout/internal/policy"
)

// Config is the complete service configuration.
type Config struct {
	HTTPAddr string
	Pesapal  pesapal.Config
	Booking  BookingConfig
	Storage  StorageConfig
	Policy   []policy.PolicyRule
}

// BookingConfig controls session handling and pricing.
type BookingConfig struct {
	Currency   string
	CarExpiry  time.Duration
	SessionTTL time.Duration
}

// StorageConfig selects the persistence backends. Empty values select the
// in-memory implementations.
type StorageConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
}

// Options controls where Load reads from.
type Options struct {
	// ConfigFile is an optional YAML file.
	ConfigFile string
	// EnvFile is loaded into the process environment if it exists.
	// Variables already set are not overridden.
	EnvFile string
	// Flags are bound by name: flag "addr" overrides key "http.addr" and so
	// on (see flagKeys).
	Flags *pflag.FlagSet
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":     "http.addr",
	"currency": "booking.currency",
	"redis":    "redis.addr",
	"database": "database.url",
}

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("pesapal.env", string(pesapal.Sandbox))
	v.SetDefault("pesapal.ipn_notification_type", "GET")
	v.SetDefault("pesapal.timeout", "15s")
	v.SetDefault("pesapal.retry_attempts", 2)
	v.SetDefault("pesapal.retry_delay", "500ms")
	v.SetDefault("booking.currency", "USD")
	v.SetDefault("booking.car_expiry", booking.DefaultCarExpiry.String())
	v.SetDefault("booking.session_ttl", "24h")
	v.SetDefault("redis.db", 0)
}

// Load reads the configuration and validates it.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		HTTPAddr: v.GetString("http.addr"),
		Pesapal: pesapal.Config{
			ConsumerKey:         v.GetString("pesapal.consumer_key"),
			ConsumerSecret:      v.GetString("pesapal.consumer_secret"),
			Environment:         pesapal.ParseEnvironment(v.GetString("pesapal.env")),
			BaseURL:             v.GetString("pesapal.base_url"),
			CallbackURL:         v.GetString("pesapal.callback_url"),
			IPNURL:              v.GetString("pesapal.ipn_url"),
			IPNID:               v.GetString("pesapal.ipn_id"),
			IPNNotificationType: v.GetString("pesapal.ipn_notification_type"),
			Timeout:             v.GetDuration("pesapal.timeout"),
			RetryAttempts:       v.GetInt("pesapal.retry_attempts"),
			RetryDelay:          v.GetDuration("pesapal.retry_delay"),
		}.WithDefaults(),
		Booking: BookingConfig{
			Currency:   strings.ToUpper(strings.TrimSpace(v.GetString("booking.currency"))),
			CarExpiry:  v.GetDuration("booking.car_expiry"),
			SessionTTL: v.GetDuration("booking.session_ttl"),
		},
		Storage: StorageConfig{
			RedisAddr:     v.GetString("redis.addr"),
			RedisPassword: v.GetString("redis.password"),
			RedisDB:       v.GetInt("redis.db"),
			PostgresDSN:   v.GetString("database.url"),
		},
	}

	if err := v.UnmarshalKey("policy.rules", &cfg.Policy); err != nil {
		return nil, fmt.Errorf("config: policy rules: %w", err)
	}
	if len(cfg.Policy) == 0 {
		cfg.Policy = policy.DefaultRules
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without. Pesapal
// credentials are not among them: a gateway without credentials still
// serves booking routes and reports a configuration error on checkout.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.HTTPAddr) == "" {
		problems = append(problems, "http.addr is empty")
	}
	if !currencyCode.MatchString(c.Booking.Currency) {
		problems = append(problems, fmt.Sprintf("booking.currency %q is not a 3-letter code", c.Booking.Currency))
	}
	if c.Booking.CarExpiry <= 0 {
		problems = append(problems, "booking.car_expiry must be positive")
	}
	if c.Booking.SessionTTL <= 0 {
		problems = append(problems, "booking.session_ttl must be positive")
	}
	if c.Storage.RedisDB < 0 {
		problems = append(problems, "redis.db must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LogSummary writes a one-line description of cfg with secrets masked, and
// a warning when the payment gateway is not usable.
func (c *Config) LogSummary() {
	log.Printf("config: http=%s currency=%s car_expiry=%s redis=%t postgres=%t rules=%d",
		c.HTTPAddr, c.Booking.Currency, c.Booking.CarExpiry, c.Storage.RedisAddr != "", c.Storage.PostgresDSN != "", len(c.Policy))
	log.Printf("config: pesapal %s", c.Pesapal.Redacted())
	if err := c.Pesapal.Validate(); err != nil {
		log.Printf("config: WARNING checkout will fail until configured: %v", err)
	}
}
