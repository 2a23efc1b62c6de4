package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/rental-checkout/internal/adapter"
	"github.com/yourorg/rental-checkout/internal/adapter/mock"
	"github.com/yourorg/rental-checkout/internal/booking"
	"github.com/yourorg/rental-checkout/internal/checkout"
	"github.com/yourorg/rental-checkout/internal/ledger"
	"github.com/yourorg/rental-checkout/internal/monitor"
	"github.com/yourorg/rental-checkout/internal/policy"
	"github.com/yourorg/rental-checkout/internal/quote"
)

type testEnv struct {
	router *gin.Engine
	gw     *mock.MockGateway
	ledger *ledger.MemoryRepository
	cookie *http.Cookie
}

// setupTestRouter wires the router over a mock gateway and in-memory stores.
func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := mock.NewMockGateway("pesapal")
	enforcer, err := policy.NewCheckoutPolicyEnforcer(policy.DefaultRules)
	require.NoError(t, err)
	mon, err := monitor.NewCheckoutContractMonitor()
	require.NoError(t, err)
	repo := ledger.NewMemoryRepository()
	svc := checkout.NewService(gw, quote.NewBuilder("USD", "https://rentals.example.com/booking/callback"),
		enforcer, repo, booking.NewSessions(booking.NewMemoryPersister()))

	return &testEnv{
		router: setupRouter(newServer(svc, mon, repo, time.Hour)),
		gw:     gw,
		ledger: repo,
	}
}

// do sends a request, carrying the session cookie from earlier responses.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			e.cookie = c
		}
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var testCar = map[string]interface{}{
	"_id":                       "car-1",
	"name":                      "Toyota RAV4",
	"slug":                      "toyota-rav4",
	"price_per_day":             50,
	"price_per_day_with_driver": 80,
	"protectionPlans": []interface{}{
		map[string]interface{}{"name": "Basic", "price": 10},
	},
}

var checkoutBody = map[string]interface{}{
	"firstName":   "Jane",
	"lastName":    "Doe",
	"email":       "jane@example.com",
	"phone":       "+256 700 000000",
	"countryCode": "UG",
	"city":        "Kampala",
}

func (e *testEnv) seedBooking(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/booking/car", testCar).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/booking/dates", map[string]string{
		"pickup_date": "2024-06-01",
		"return_date": "2024-06-04",
		"pickup_time": "10:00",
		"return_time": "10:00",
	}).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/booking/protection-plan", map[string]string{"name": "Basic"}).Code)
}

func TestHealthz(t *testing.T) {
	env := setupTestRouter(t)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pesapal", decode(t, w)["gateway"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestRouter(t)
	env.seedBooking(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/checkout", checkoutBody).Code)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "checkout_orders_submitted_total")
	assert.Contains(t, w.Body.String(), "quote_builds_total")
}

func TestSessionCookie(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/booking", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.cookie)
	first := env.cookie.Value
	assert.True(t, env.cookie.HttpOnly)
	assert.Equal(t, "location", decode(t, w)["current_step"])

	w = env.do(t, http.MethodGet, "/api/booking", nil)
	assert.Empty(t, w.Result().Cookies(), "a valid cookie is not reissued")
	assert.Equal(t, first, env.cookie.Value)

	env.cookie = &http.Cookie{Name: sessionCookie, Value: "not-a-uuid"}
	env.do(t, http.MethodGet, "/api/booking", nil)
	assert.NotEqual(t, "not-a-uuid", env.cookie.Value)
}

func TestBookingRoutes(t *testing.T) {
	env := setupTestRouter(t)
	env.seedBooking(t)

	w := env.do(t, http.MethodPut, "/api/booking/locations", map[string]string{
		"pickup_location": "Entebbe Airport",
		"return_location": "Kampala",
	})
	require.Equal(t, http.StatusOK, w.Code)
	st := decode(t, w)
	assert.Equal(t, "Entebbe Airport", st["pickup_location"])
	assert.Equal(t, "Kampala", st["return_location"])
	assert.Equal(t, "10:00", st["pickup_time"])
	assert.Equal(t, "Basic", st["selectedProtectionPlan"])
	car, ok := st["car"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "toyota-rav4", car["slug"], "unknown car fields survive")
	assert.NotNil(t, st["carSetAt"])

	w = env.do(t, http.MethodPut, "/api/booking/step", map[string]string{"step": "car"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "car", decode(t, w)["current_step"])

	w = env.do(t, http.MethodPut, "/api/booking/step", map[string]string{"step": "checkout"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/booking/car", "null")
	require.Equal(t, http.StatusOK, w.Code)
	st = decode(t, w)
	assert.Nil(t, st["car"])
	assert.Nil(t, st["carSetAt"])
	assert.Equal(t, "Entebbe Airport", st["pickup_location"])
}

func TestResetBooking(t *testing.T) {
	env := setupTestRouter(t)
	env.seedBooking(t)
	cookie := env.cookie.Value

	w := env.do(t, http.MethodDelete, "/api/booking", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode(t, w)
	assert.Nil(t, st["car"])
	assert.Nil(t, st["pickup_date"])
	assert.Empty(t, st["selectedProtectionPlan"])
	assert.Equal(t, "location", st["current_step"])
	assert.Equal(t, cookie, env.cookie.Value, "the session id is kept")

	w = env.do(t, http.MethodGet, "/api/booking/quote", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingRoutes_InvalidInput(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPut, "/api/booking/dates", map[string]string{"pickup_date": "next tuesday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "pickup_date")

	w = env.do(t, http.MethodPut, "/api/booking/car", "this is not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Invalid car record")

	w = env.do(t, http.MethodPut, "/api/booking/locations", "this is not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Invalid request format")
}

func TestQuote(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/booking/quote", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "validation", body["kind"])
	assert.Contains(t, body["error"], "missing booking information")

	env.seedBooking(t)
	w = env.do(t, http.MethodGet, "/api/booking/quote", nil)
	require.Equal(t, http.StatusOK, w.Code)
	q := decode(t, w)
	assert.Equal(t, 160.0, q["amount"])
	assert.Equal(t, 3.0, q["days"])

	w = env.do(t, http.MethodGet, "/api/booking/quote?with_driver=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 250.0, decode(t, w)["amount"])
}

func TestCheckout_Success(t *testing.T) {
	env := setupTestRouter(t)
	env.seedBooking(t)

	w := env.do(t, http.MethodPost, "/api/checkout", checkoutBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.NotEmpty(t, res["redirectUrl"])
	assert.NotEmpty(t, res["orderTrackingId"])
	assert.Regexp(t, `^BK-\d{13}-[0-9A-Z]{7}$`, res["merchantReference"])

	w = env.do(t, http.MethodGet, "/api/booking", nil)
	st := decode(t, w)
	assert.Equal(t, "payment", st["current_step"])
	info := st["paymentInfo"].(map[string]interface{})
	assert.Equal(t, res["orderTrackingId"], info["orderTrackingId"])
	assert.Equal(t, 160.0, info["amount"])
}

func TestCheckout_ContractViolation(t *testing.T) {
	env := setupTestRouter(t)
	env.seedBooking(t)

	body := map[string]interface{}{"firstName": "Jane", "lastName": "Doe", "phone": "+256700000000"}
	w := env.do(t, http.MethodPost, "/api/checkout", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "validation", resp["kind"])
	assert.Equal(t, []interface{}{"email"}, resp["fields"])
	assert.Empty(t, env.gw.Submitted())

	w = env.do(t, http.MethodPost, "/api/checkout", "this is not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "not valid JSON")
}

func TestCheckout_ErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"Configuration", adapter.NewConfigError("pesapal: configuration", "Pesapal credentials not configured"), http.StatusServiceUnavailable, "configuration"},
		{"Provider", adapter.NewProviderError("pesapal: submit order", "invalid_amount", "amount rejected"), http.StatusBadGateway, "provider"},
		{"Transport", adapter.NewTransportError("pesapal: submit order", context.DeadlineExceeded), http.StatusGatewayTimeout, "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestRouter(t)
			env.seedBooking(t)
			env.gw.SubmitOrderFunc = func(context.Context, adapter.OrderRequest) (adapter.OrderResult, error) {
				return adapter.OrderResult{}, tt.err
			}

			w := env.do(t, http.MethodPost, "/api/checkout", checkoutBody)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.kind, decode(t, w)["kind"])

			st := decode(t, env.do(t, http.MethodGet, "/api/booking", nil))
			assert.Nil(t, st["paymentInfo"])
			assert.NotNil(t, st["car"])
		})
	}
}

func TestCallback(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/booking/callback", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "nothing to verify yet")

	env.seedBooking(t)
	res := decode(t, env.do(t, http.MethodPost, "/api/checkout", checkoutBody))

	w = env.do(t, http.MethodGet, "/api/booking/callback?OrderTrackingId="+res["orderTrackingId"].(string)+
		"&OrderMerchantReference="+res["merchantReference"].(string), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := decode(t, w)
	assert.Equal(t, "success", v["transaction"].(map[string]interface{})["status"])

	st := decode(t, env.do(t, http.MethodGet, "/api/booking", nil))
	assert.Equal(t, "confirmation", st["current_step"])
	assert.Nil(t, st["car"])
	assert.Nil(t, st["bookingData"])
	assert.NotNil(t, st["paymentInfo"])

	rec, err := env.ledger.GetByReference(context.Background(), res["merchantReference"].(string))
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusSuccess, rec.Status)
}

func TestIPN(t *testing.T) {
	env := setupTestRouter(t)
	env.seedBooking(t)
	res := decode(t, env.do(t, http.MethodPost, "/api/checkout", checkoutBody))
	tracking := res["orderTrackingId"].(string)
	ref := res["merchantReference"].(string)

	w := env.do(t, http.MethodGet, "/api/pesapal/ipn?OrderTrackingId="+tracking+"&OrderMerchantReference="+ref+"&OrderNotificationType=IPNCHANGE", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ack := decode(t, w)
	assert.Equal(t, 200.0, ack["status"])
	assert.Equal(t, tracking, ack["orderTrackingId"])
	assert.Equal(t, "IPNCHANGE", ack["orderNotificationType"])

	w = env.do(t, http.MethodPost, "/api/pesapal/ipn", map[string]string{
		"OrderTrackingId":        tracking,
		"OrderMerchantReference": ref,
		"OrderNotificationType":  "IPNCHANGE",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/pesapal/ipn?OrderNotificationType=IPNCHANGE", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.gw.GetStatusFunc = func(context.Context, string) (adapter.TransactionStatus, error) {
		return adapter.TransactionStatus{}, adapter.NewTransportError("pesapal: get transaction status", context.DeadlineExceeded)
	}
	w = env.do(t, http.MethodGet, "/api/pesapal/ipn?OrderTrackingId="+tracking, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 500.0, decode(t, w)["status"])
}

func TestReport(t *testing.T) {
	env := setupTestRouter(t)
	env.seedBooking(t)
	res := decode(t, env.do(t, http.MethodPost, "/api/checkout", checkoutBody))
	env.do(t, http.MethodGet, "/api/booking/callback?OrderTrackingId="+res["orderTrackingId"].(string), nil)

	w := env.do(t, http.MethodGet, "/api/admin/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode(t, w)
	assert.Equal(t, 1.0, report["total_orders"])
	assert.Equal(t, 1.0, report["successful_payments"])
	assert.Equal(t, map[string]interface{}{"USD": 160.0}, report["amount_by_currency"])
	assert.Equal(t, map[string]interface{}{"Visa": 1.0}, report["payment_method_usage"])

	w = env.do(t, http.MethodGet, "/api/admin/report?since=2999-01-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, decode(t, w)["total_orders"])

	w = env.do(t, http.MethodGet, "/api/admin/report?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRootCommand(t *testing.T) {
	root := rootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ipn", "status", "report"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"status"})
	err := root.Execute()
	require.Error(t, err, "status needs an order tracking id")
}
