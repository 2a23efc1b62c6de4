package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yourorg/rental-checkout/internal/adapter"
	"github.com/yourorg/rental-checkout/internal/circuitbreaker"
)

const (
	breakerKey           = "pesapal"
	defaultTokenLifetime = 5 * time.Minute
	tokenRefreshSkew     = 30 * time.Second
	maxResponseBytes     = 1 << 20
)

// Client is a thin REST client for the Pesapal v3 API. It caches the bearer
// token until shortly before it expires and resolves the IPN notification id
// at most once. Concurrent callers share a single in-flight token or IPN
// request. Client is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	ipnID       string

	group singleflight.Group
}

// NewClient creates a Client. cfg is normalized with WithDefaults; a nil
// httpClient or breaker is replaced with a default one.
func NewClient(cfg Config, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker) *Client {
	cfg = cfg.WithDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{})
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		breaker:    breaker,
		now:        time.Now,
		ipnID:      cfg.IPNID,
	}
}

// Config returns the normalized configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Configured returns a configuration error if the client cannot be used.
func (c *Client) Configured() error {
	return c.cfg.Validate()
}

// Token returns a valid bearer token, requesting a new one when the cached
// token is missing or about to expire.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	return c.shared(ctx, "pesapal: request token", "token", func(ctx context.Context) (string, error) {
		var resp tokenResponse
		err := c.do(ctx, "request_token", http.MethodPost, "/api/Auth/RequestToken",
			tokenRequest{ConsumerKey: c.cfg.ConsumerKey, ConsumerSecret: c.cfg.ConsumerSecret}, false, true, &resp)
		if err != nil {
			return "", err
		}
		if resp.Token == "" {
			return "", adapter.NewProviderError("pesapal: request token", string(resp.Status), "token missing from response")
		}

		expiry := c.now().Add(defaultTokenLifetime)
		if t, perr := time.Parse(time.RFC3339Nano, resp.ExpiryDate); perr == nil {
			expiry = t
		}
		c.mu.Lock()
		c.token = resp.Token
		c.tokenExpiry = expiry.Add(-tokenRefreshSkew)
		c.mu.Unlock()
		return resp.Token, nil
	})
}

// shared runs fetch once for all concurrent callers of key. The fetch is
// detached from the caller's cancellation and bounded by fetchTimeout, so a
// caller that gives up does not fail the others waiting on the same result.
func (c *Client) shared(ctx context.Context, op, key string, fetch func(context.Context) (string, error)) (string, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout())
		defer cancel()
		return fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", adapter.NewTransportError(op, ctx.Err())
	}
}

// fetchTimeout covers every attempt of one retried request.
func (c *Client) fetchTimeout() time.Duration {
	attempts := 1
	if c.cfg.RetryAttempts > 0 {
		attempts += c.cfg.RetryAttempts
	}
	return time.Duration(attempts)*c.cfg.Timeout + time.Duration(attempts-1)*c.cfg.RetryDelay
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// SubmitOrderRequest submits an order. It is sent once: a failed submission
// is surfaced to the caller rather than retried.
func (c *Client) SubmitOrderRequest(ctx context.Context, req SubmitOrderRequest) (SubmitOrderResponse, error) {
	var resp SubmitOrderResponse
	err := c.do(ctx, "submit_order", http.MethodPost, "/api/Transactions/SubmitOrderRequest", req, true, false, &resp)
	return resp, err
}

// GetTransactionStatus fetches the status of a tracked order.
func (c *Client) GetTransactionStatus(ctx context.Context, orderTrackingID string) (TransactionStatusResponse, error) {
	var resp TransactionStatusResponse
	path := "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(orderTrackingID)
	err := c.do(ctx, "transaction_status", http.MethodGet, path, nil, true, true, &resp)
	return resp, err
}

// RegisterIPN registers ipnURL as an instant payment notification endpoint.
func (c *Client) RegisterIPN(ctx context.Context, ipnURL, notificationType string) (IPNRegistration, error) {
	if notificationType == "" {
		notificationType = c.cfg.IPNNotificationType
	}
	var resp IPNRegistration
	err := c.do(ctx, "register_ipn", http.MethodPost, "/api/URLSetup/RegisterIPN",
		registerIPNRequest{URL: ipnURL, IPNNotificationType: strings.ToUpper(notificationType)}, true, false, &resp)
	return resp, err
}

// ListIPNs returns the IPN endpoints registered for the merchant account.
func (c *Client) ListIPNs(ctx context.Context) ([]IPNRegistration, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "list_ipns", http.MethodGet, "/api/URLSetup/GetIpnList", nil, true, true, &raw); err != nil {
		return nil, err
	}
	var list []IPNRegistration
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single IPNRegistration
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, adapter.NewProviderError("pesapal: list ipns", "INVALID_RESPONSE", fmt.Sprintf("could not decode Pesapal response: %v", err))
	}
	if single.Error.Present() {
		return nil, providerError("pesapal: list ipns", single.Error)
	}
	return []IPNRegistration{single}, nil
}

// NotificationID returns the configured IPN id, or registers the configured
// IPN URL once and returns the id Pesapal assigns to it.
func (c *Client) NotificationID(ctx context.Context) (string, error) {
	const op = "pesapal: notification id"
	c.mu.Lock()
	id := c.ipnID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}
	if c.cfg.IPNURL == "" {
		return "", adapter.NewConfigError(op, "missing IPN configuration; provide PESAPAL_IPN_URL or PESAPAL_IPN_ID")
	}

	return c.shared(ctx, op, "ipn", func(ctx context.Context) (string, error) {
		reg, err := c.RegisterIPN(ctx, c.cfg.IPNURL, c.cfg.IPNNotificationType)
		if err != nil {
			return "", err
		}
		if reg.IPNID == "" {
			return "", adapter.NewProviderError(op, string(reg.Status), "IPN registration returned no ipn_id")
		}
		c.mu.Lock()
		c.ipnID = reg.IPNID
		c.mu.Unlock()
		log.Printf("pesapal: registered IPN %s for %s", reg.IPNID, c.cfg.IPNURL)
		return reg.IPNID, nil
	})
}

// do sends one API request. Network errors and HTTP 429/5xx are retried up
// to cfg.RetryAttempts times when retryable is set. Provider rejections
// (non-2xx or an error payload) become provider errors; requests that never
// complete become transport errors. A request abandoned by the caller's
// context is not counted against the circuit breaker.
func (c *Client) do(ctx context.Context, operation, method, path string, body interface{}, auth, retryable bool, out interface{}) (err error) {
	op := "pesapal: " + strings.ReplaceAll(operation, "_", " ")
	start := time.Now()
	outcome := "error"
	defer func() {
		requestsTotal.WithLabelValues(operation, outcome).Inc()
		requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	if !c.breaker.AllowRequest(breakerKey) {
		outcome = "circuit_open"
		return adapter.NewTransportError(op, errors.New("circuit open, provider temporarily unavailable"))
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	var token string
	if auth {
		if token, err = c.Token(ctx); err != nil {
			outcome = "token_error"
			return err
		}
	}

	attempts := 1
	if retryable && c.cfg.RetryAttempts > 0 {
		attempts += c.cfg.RetryAttempts
	}

	var (
		status   int
		respBody []byte
		lastErr  error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				outcome = "cancelled"
				return adapter.NewTransportError(op, ctx.Err())
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
		if reqErr != nil {
			return fmt.Errorf("%s: build request: %w", op, reqErr)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			status = 0
			lastErr = fmt.Errorf("http client error on attempt %d: %w", attempt+1, doErr)
			continue
		}
		respBody, doErr = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if doErr != nil {
			status = 0
			lastErr = fmt.Errorf("read response on attempt %d: %w", attempt+1, doErr)
			continue
		}
		status = resp.StatusCode
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("received HTTP %d on attempt %d", status, attempt+1)
			continue
		}
		lastErr = nil
		break
	}

	if status == 0 {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return adapter.NewTransportError(op, ctx.Err())
		}
		outcome = "transport_error"
		c.breaker.RecordFailure(breakerKey)
		if lastErr == nil {
			lastErr = errors.New("no response received")
		}
		return adapter.NewTransportError(op, lastErr)
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		outcome = "provider_unavailable"
		c.breaker.RecordFailure(breakerKey)
		return adapter.NewTransportError(op, fmt.Errorf("HTTP %d after %d attempt(s): %s", status, attempts, snippet(respBody)))
	}
	c.breaker.RecordSuccess(breakerKey)

	if status < 200 || status >= 300 {
		outcome = "rejected"
		if status == http.StatusUnauthorized && auth {
			c.invalidateToken()
		}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Present() {
			return providerError(op, envelope.Error)
		}
		return adapter.NewProviderError(op, fmt.Sprintf("HTTP_%d", status),
			fmt.Sprintf("Pesapal API request failed with HTTP %d: %s", status, snippet(respBody)))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			outcome = "decode_error"
			return adapter.NewProviderError(op, "INVALID_RESPONSE", fmt.Sprintf("could not decode Pesapal response: %v", err))
		}
		if ec, ok := out.(errorCarrier); ok && ec.apiError().Present() {
			outcome = "rejected"
			return providerError(op, ec.apiError())
		}
	}
	outcome = "ok"
	return nil
}

func providerError(op string, e *APIError) error {
	code := e.Code
	if code == "" {
		code = e.ErrorType
	}
	msg := e.Message
	if msg == "" {
		msg = "Pesapal returned an error"
	}
	return adapter.NewProviderError(op, code, msg)
}

func snippet(b []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
