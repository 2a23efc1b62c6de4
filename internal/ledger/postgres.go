package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

const uniqueViolation = "23505"

const schema = `
	CREATE TABLE IF NOT EXISTS payments (
		merchant_reference TEXT PRIMARY KEY,
		order_tracking_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		amount NUMERIC(12, 2) NOT NULL,
		currency TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		status_description TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		confirmation_code TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_tracking ON payments(order_tracking_id);
	CREATE INDEX IF NOT EXISTS idx_payments_created ON payments(created_at);
`

const selectColumns = `merchant_reference, order_tracking_id, session_id, amount, currency, description,
	status, status_description, payment_method, confirmation_code, created_at, updated_at`

// PostgresRepository is a Repository backed by a Postgres table.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects to dsn, verifies the connection, and creates the
// payments table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping postgres: %w", err)
	}

	repo := NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Println("ledger: connected to Postgres")
	return repo, nil
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Migrate creates the payments table and its indexes.
func (p *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (p *PostgresRepository) Close() error {
	return p.db.Close()
}

func (p *PostgresRepository) Create(ctx context.Context, r Record) error {
	now := p.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Status == "" {
		r.Status = adapter.StatusPending
	}
	query := `
		INSERT INTO payments (merchant_reference, order_tracking_id, session_id, amount, currency, description,
			status, status_description, payment_method, confirmation_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := p.db.ExecContext(ctx, query,
		r.MerchantReference, r.OrderTrackingID, r.SessionID, r.Amount, r.Currency, r.Description,
		string(r.Status), r.StatusDescription, r.PaymentMethod, r.ConfirmationCode, r.CreatedAt, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateReference
		}
		return fmt.Errorf("ledger: insert %s: %w", r.MerchantReference, err)
	}
	return nil
}

func (p *PostgresRepository) Update(ctx context.Context, ref string, upd StatusUpdate) (Record, error) {
	query := `
		UPDATE payments SET
			order_tracking_id = COALESCE(NULLIF($2, ''), order_tracking_id),
			status = COALESCE(NULLIF($3, ''), status),
			status_description = COALESCE(NULLIF($4, ''), status_description),
			payment_method = COALESCE(NULLIF($5, ''), payment_method),
			confirmation_code = COALESCE(NULLIF($6, ''), confirmation_code),
			updated_at = $7
		WHERE merchant_reference = $1
		RETURNING ` + selectColumns
	row := p.db.QueryRowContext(ctx, query, ref, upd.OrderTrackingID, string(upd.Status),
		upd.StatusDescription, upd.PaymentMethod, upd.ConfirmationCode, p.now().UTC())
	return scanRecord(row)
}

func (p *PostgresRepository) GetByReference(ctx context.Context, ref string) (Record, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM payments WHERE merchant_reference = $1`, ref)
	return scanRecord(row)
}

func (p *PostgresRepository) GetByTrackingID(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM payments WHERE order_tracking_id = $1 LIMIT 1`, id)
	return scanRecord(row)
}

// List returns matching records, oldest first.
func (p *PostgresRepository) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	query := `SELECT ` + selectColumns + ` FROM payments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, merchant_reference`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		r      Record
		status string
	)
	err := s.Scan(&r.MerchantReference, &r.OrderTrackingID, &r.SessionID, &r.Amount, &r.Currency, &r.Description,
		&status, &r.StatusDescription, &r.PaymentMethod, &r.ConfirmationCode, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("ledger: scan: %w", err)
	}
	r.Status = adapter.PaymentStatus(status)
	return r, nil
}
