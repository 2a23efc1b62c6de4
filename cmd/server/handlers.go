package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/rental-checkout/internal/adapter"
	"github.com/yourorg/rental-checkout/internal/booking"
	"github.com/yourorg/rental-checkout/internal/catalog"
	"github.com/yourorg/rental-checkout/internal/checkout"
	"github.com/yourorg/rental-checkout/internal/ledger"
	"github.com/yourorg/rental-checkout/internal/monitor"
	"github.com/yourorg/rental-checkout/internal/quote"
	"github.com/yourorg/rental-checkout/internal/reporting"
	"github.com/yourorg/rental-checkout/internal/tracing"
)

const (
	sessionCookie = "booking_session"
	sessionKey    = "session_id"
	serviceName   = "rental-checkout"
)

// server binds HTTP routes to the checkout service.
type server struct {
	svc        *checkout.Service
	monitor    *monitor.ContractMonitor
	ledger     ledger.Repository
	reporter   *reporting.RetrospectiveReporter
	sessionTTL time.Duration
}

func newServer(svc *checkout.Service, mon *monitor.ContractMonitor, repo ledger.Repository, sessionTTL time.Duration) *server {
	return &server{
		svc:        svc,
		monitor:    mon,
		ledger:     repo,
		reporter:   reporting.NewRetrospectiveReporter(),
		sessionTTL: sessionTTL,
	}
}

func setupRouter(s *server) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/healthz", s.healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/pesapal/ipn", s.ipnHandler)
	api.POST("/pesapal/ipn", s.ipnHandler)
	api.GET("/admin/report", s.reportHandler)

	sessions := api.Group("", s.sessionMiddleware)
	sessions.GET("/booking", s.getBookingHandler)
	sessions.DELETE("/booking", s.resetBookingHandler)
	sessions.PUT("/booking/car", s.putCarHandler)
	sessions.PUT("/booking/dates", s.putDatesHandler)
	sessions.PUT("/booking/locations", s.putLocationsHandler)
	sessions.PUT("/booking/protection-plan", s.putProtectionPlanHandler)
	sessions.PUT("/booking/step", s.putStepHandler)
	sessions.GET("/booking/quote", s.quoteHandler)
	sessions.GET("/booking/callback", s.callbackHandler)
	sessions.POST("/checkout", s.checkoutHandler)
	return router
}

// sessionMiddleware reads the session id from the booking cookie, issuing a
// new one when it is missing or malformed.
func (s *server) sessionMiddleware(c *gin.Context) {
	id, err := c.Cookie(sessionCookie)
	if err != nil || uuid.Validate(id) != nil {
		id = uuid.NewString()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, id, int(s.sessionTTL.Seconds()), "/", "", false, true)
	}
	c.Set(sessionKey, id)

	tc := tracing.FromContext(c.Request.Context())
	tc.Set(sessionKey, id)
	c.Request = c.Request.WithContext(tracing.WithTraceContext(c.Request.Context(), tc))
	c.Next()
}

func sessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}

// writeError maps the error kind to an HTTP status. Errors outside the
// gateway taxonomy are logged and reported as a bare 500.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case adapter.IsValidation(err):
		status = http.StatusBadRequest
	case adapter.IsConfiguration(err):
		status = http.StatusServiceUnavailable
	case adapter.IsProvider(err):
		status = http.StatusBadGateway
	case adapter.IsTransport(err):
		status = http.StatusGatewayTimeout
	}

	body := gin.H{"kind": adapter.KindName(err)}
	var gerr *adapter.GatewayError
	if errors.As(err, &gerr) {
		body["error"] = gerr.Message
		if gerr.Message == "" && gerr.Kind != nil {
			body["error"] = gerr.Kind.Error()
		}
		if len(gerr.Fields) > 0 {
			body["fields"] = gerr.Fields
		}
		if gerr.Code != "" {
			body["code"] = gerr.Code
		}
	} else {
		log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
		body["error"] = "internal server error"
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "validation"})
}

func (s *server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway": s.svc.Gateway().Name()})
}

func (s *server) getBookingHandler(c *gin.Context) {
	st, err := s.svc.Session(sessionID(c)).Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// resetBookingHandler discards the session's booking so the visitor can
// start over.
func (s *server) resetBookingHandler(c *gin.Context) {
	store := s.svc.Session(sessionID(c))
	if err := store.Reset(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	s.respondState(c, store)
}

// putCarHandler stores the car record in the body. A JSON null clears the
// selection.
func (s *server) putCarHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	var car *catalog.Car
	if trimmed := bytes.TrimSpace(body); !bytes.Equal(trimmed, []byte("null")) {
		car, err = catalog.ParseCar(trimmed)
		if err != nil {
			badRequest(c, "Invalid car record: "+err.Error())
			return
		}
	}
	store := s.svc.Session(sessionID(c))
	if err := store.SetCar(c.Request.Context(), car); err != nil {
		writeError(c, err)
		return
	}
	s.respondState(c, store)
}

type datesRequest struct {
	PickupDate string `json:"pickup_date"`
	ReturnDate string `json:"return_date"`
	PickupTime string `json:"pickup_time"`
	ReturnTime string `json:"return_time"`
}

func (s *server) putDatesHandler(c *gin.Context) {
	var req datesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	var pickup, ret time.Time
	var err error
	if req.PickupDate != "" {
		if pickup, err = quote.ParseDate(req.PickupDate); err != nil {
			badRequest(c, "Validation failed: pickup_date is not a date")
			return
		}
	}
	if req.ReturnDate != "" {
		if ret, err = quote.ParseDate(req.ReturnDate); err != nil {
			badRequest(c, "Validation failed: return_date is not a date")
			return
		}
	}

	ctx := c.Request.Context()
	store := s.svc.Session(sessionID(c))
	if req.PickupDate != "" {
		if err := store.SetPickupDate(ctx, pickup); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.ReturnDate != "" {
		if err := store.SetReturnDate(ctx, ret); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.PickupTime != "" {
		if err := store.SetPickupTime(ctx, req.PickupTime); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.ReturnTime != "" {
		if err := store.SetReturnTime(ctx, req.ReturnTime); err != nil {
			writeError(c, err)
			return
		}
	}
	s.respondState(c, store)
}

type locationsRequest struct {
	PickupLocation string `json:"pickup_location"`
	ReturnLocation string `json:"return_location"`
}

func (s *server) putLocationsHandler(c *gin.Context) {
	var req locationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	store := s.svc.Session(sessionID(c))
	if req.PickupLocation != "" {
		if err := store.SetPickupLocation(ctx, req.PickupLocation); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.ReturnLocation != "" {
		if err := store.SetReturnLocation(ctx, req.ReturnLocation); err != nil {
			writeError(c, err)
			return
		}
	}
	s.respondState(c, store)
}

func (s *server) putProtectionPlanHandler(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	store := s.svc.Session(sessionID(c))
	if err := store.SetSelectedProtectionPlan(c.Request.Context(), strings.TrimSpace(req.Name)); err != nil {
		writeError(c, err)
		return
	}
	s.respondState(c, store)
}

func (s *server) putStepHandler(c *gin.Context) {
	var req struct {
		Step booking.Step `json:"step"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	if !req.Step.Valid() {
		badRequest(c, "Validation failed: step must be one of location, car, payment, confirmation")
		return
	}
	store := s.svc.Session(sessionID(c))
	if err := store.SetCurrentStep(c.Request.Context(), req.Step); err != nil {
		writeError(c, err)
		return
	}
	s.respondState(c, store)
}

func (s *server) respondState(c *gin.Context, store *booking.Store) {
	st, err := store.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) quoteHandler(c *gin.Context) {
	withDriver, _ := strconv.ParseBool(c.Query("with_driver"))
	q, err := s.svc.Quote(c.Request.Context(), sessionID(c), withDriver)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *server) checkoutHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	if err := s.monitor.CheckRequest("checkout: request", body); err != nil {
		writeError(c, err)
		return
	}
	var guest booking.GuestDetails
	if err := json.Unmarshal(body, &guest); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	res, err := s.svc.Submit(c.Request.Context(), sessionID(c), guest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// callbackHandler is where the gateway sends the payer after payment.
func (s *server) callbackHandler(c *gin.Context) {
	v, err := s.svc.Verify(c.Request.Context(), sessionID(c),
		c.Query("OrderTrackingId"), c.Query("OrderMerchantReference"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *server) ipnHandler(c *gin.Context) {
	var n checkout.Notification
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&n)
	} else {
		err = c.ShouldBindQuery(&n)
	}
	if err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	ack, err := s.svc.HandleNotification(c.Request.Context(), n)
	if err != nil && adapter.IsValidation(err) {
		writeError(c, err)
		return
	}
	c.JSON(ack.Status, ack)
}

func (s *server) reportHandler(c *gin.Context) {
	var f ledger.Filter
	if v := c.Query("since"); v != "" {
		t, err := quote.ParseDate(v)
		if err != nil {
			badRequest(c, "Validation failed: since is not a date")
			return
		}
		f.Since = t
	}
	if v := c.Query("until"); v != "" {
		t, err := quote.ParseDate(v)
		if err != nil {
			badRequest(c, "Validation failed: until is not a date")
			return
		}
		f.Until = t
	}
	f.Status = adapter.PaymentStatus(c.Query("status"))

	records, err := s.ledger.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	report, err := s.reporter.GenerateRetrospective(records)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
