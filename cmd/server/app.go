package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/yourorg/rental-checkout/internal/adapter/pesapal"
	"github.com/yourorg/rental-checkout/internal/booking"
	"github.com/yourorg/rental-checkout/internal/checkout"
	"github.com/yourorg/rental-checkout/internal/circuitbreaker"
	"github.com/yourorg/rental-checkout/internal/config"
	"github.com/yourorg/rental-checkout/internal/ledger"
	"github.com/yourorg/rental-checkout/internal/monitor"
	"github.com/yourorg/rental-checkout/internal/policy"
	"github.com/yourorg/rental-checkout/internal/quote"
)

// app holds the wired dependencies for one process.
type app struct {
	cfg     *config.Config
	client  *pesapal.Client
	gateway *pesapal.Adapter
	ledger  ledger.Repository
	svc     *checkout.Service
	monitor *monitor.ContractMonitor

	closers []func() error
}

// newApp connects the configured backends and builds the checkout service.
// Redis and Postgres are used when configured; otherwise state lives in
// process memory.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var persister booking.Persister = booking.NewMemoryPersister()
	if cfg.Storage.RedisAddr != "" {
		rdb, err := booking.NewRedisClient(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		persister = booking.NewRedisPersister(rdb, cfg.Booking.SessionTTL)
	} else {
		log.Println("booking: REDIS_ADDR not set, sessions are kept in memory")
	}

	a.ledger = ledger.NewMemoryRepository()
	if cfg.Storage.PostgresDSN != "" {
		pg, err := ledger.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		a.ledger = pg
	} else {
		log.Println("ledger: DATABASE_URL not set, payments are recorded in memory")
	}

	enforcer, err := policy.NewCheckoutPolicyEnforcer(cfg.Policy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize policy enforcer: %w", err)
	}
	ids := make([]string, 0, len(cfg.Policy))
	for _, r := range enforcer.Rules() {
		ids = append(ids, r.ID)
	}
	log.Printf("policy: %d checkout rule(s) in evaluation order: %s", len(ids), strings.Join(ids, ", "))

	mon, err := monitor.NewCheckoutContractMonitor()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.monitor = mon

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{})
	a.client = pesapal.NewClient(cfg.Pesapal, &http.Client{Timeout: cfg.Pesapal.Timeout}, breaker)
	a.gateway = pesapal.NewAdapter(a.client, cfg.Pesapal.CallbackURL)

	sessions := booking.NewSessions(persister, booking.WithExpiry(cfg.Booking.CarExpiry))
	builder := quote.NewBuilder(cfg.Booking.Currency, cfg.Pesapal.CallbackURL)
	a.svc = checkout.NewService(a.gateway, builder, enforcer, a.ledger, sessions)
	return a, nil
}

// Close releases backend connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
	a.closers = nil
}
