package pesapal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

// Environment selects the Pesapal API tier.
type Environment string

const (
	Sandbox Environment = "sandbox"
	Live    Environment = "live"
)

const (
	SandboxBaseURL = "https://cybqa.pesapal.com/pesapalv3"
	LiveBaseURL    = "https://pay.pesapal.com/v3"

	defaultTimeout       = 15 * time.Second
	defaultRetryAttempts = 2
	defaultRetryDelay    = 500 * time.Millisecond
)

var trailingAPI = regexp.MustCompile(`(?i)/?api/?$`)

// ParseEnvironment maps "live" and "production" to Live; anything else is
// Sandbox.
func ParseEnvironment(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "production":
		return Live
	default:
		return Sandbox
	}
}

// DefaultBaseURL returns the API root for env.
func DefaultBaseURL(env Environment) string {
	if env == Live {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

// NormalizeBaseURL strips a trailing "/api" (and slashes) so that endpoint
// paths can always be appended as "/api/...".
func NormalizeBaseURL(u string) string {
	u = trailingAPI.ReplaceAllString(strings.TrimSpace(u), "")
	return strings.TrimRight(u, "/")
}

// Config holds everything the Pesapal client needs. It is populated once at
// startup (see internal/config) and validated with Validate.
type Config struct {
	ConsumerKey         string
	ConsumerSecret      string
	Environment         Environment
	BaseURL             string
	CallbackURL         string
	IPNURL              string
	IPNID               string
	IPNNotificationType string // "GET" or "POST"
	Timeout             time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
}

// WithDefaults fills the environment-dependent base URL, normalizes it, and
// sets transport defaults.
func (c Config) WithDefaults() Config {
	c.ConsumerKey = strings.TrimSpace(c.ConsumerKey)
	c.ConsumerSecret = strings.TrimSpace(c.ConsumerSecret)
	c.CallbackURL = strings.TrimSpace(c.CallbackURL)
	c.IPNURL = strings.TrimSpace(c.IPNURL)
	c.IPNID = strings.TrimSpace(c.IPNID)
	c.Environment = ParseEnvironment(string(c.Environment))
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL(c.Environment)
	}
	c.BaseURL = NormalizeBaseURL(c.BaseURL)
	c.IPNNotificationType = strings.ToUpper(strings.TrimSpace(c.IPNNotificationType))
	if c.IPNNotificationType != "POST" {
		c.IPNNotificationType = "GET"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	// A negative value disables retries.
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// Validate fails when credentials are missing or no IPN reference is
// configured. It never touches the network.
func (c Config) Validate() error {
	const op = "pesapal: configuration"
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return adapter.NewConfigError(op, fmt.Sprintf(
			"Pesapal credentials not configured (key: %s, secret: %s); set PESAPAL_CONSUMER_KEY and PESAPAL_CONSUMER_SECRET",
			presence(c.ConsumerKey), presence(c.ConsumerSecret)))
	}
	if c.IPNURL == "" && c.IPNID == "" {
		return adapter.NewConfigError(op, "missing IPN configuration; provide PESAPAL_IPN_URL or PESAPAL_IPN_ID")
	}
	if c.BaseURL == "" {
		return adapter.NewConfigError(op, "missing Pesapal base URL")
	}
	return nil
}

// Redacted returns a loggable description with credentials masked.
func (c Config) Redacted() string {
	return fmt.Sprintf("env=%s base_url=%s key=%s secret=%s callback_url=%q ipn_url=%q ipn_id=%q",
		c.Environment, c.BaseURL, mask(c.ConsumerKey), mask(c.ConsumerSecret), c.CallbackURL, c.IPNURL, c.IPNID)
}

func presence(v string) string {
	if v == "" {
		return "missing"
	}
	return "set"
}

func mask(v string) string {
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 4 {
		return "****"
	}
	return v[:2] + strings.Repeat("*", 4) + v[len(v)-2:]
}
