package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrimarket/payment-service/internal/payment/domain"
)

//go:embed schema.sql
var schema string

// Migrate applies the schema idempotently. Safe to run on every boot.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const paymentColumns = `id, order_id, amount_units, status, phone_number,
	merchant_request_id, checkout_request_id, result_description, receipt_number,
	created_at, paid_at`

func (r *Repository) PendingExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE order_id=$1 AND status=$2)`,
		orderID, domain.StatusPending).Scan(&exists)
	return exists, err
}

func (r *Repository) CreateWithOutbox(ctx context.Context, p domain.Payment, eventType string, payload []byte) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.OrderID, p.AmountUnits, p.Status, p.PhoneNumber,
		p.MerchantRequestID, p.CheckoutRequestID, p.ResultDescription, p.ReceiptNumber,
		p.CreatedAt, p.PaidAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "payments_pending_order_key" {
				return domain.ErrPaymentAlreadyPending
			}
			return fmt.Errorf("duplicate checkout_request_id %s: %w", p.CheckoutRequestID, err)
		}
		return err
	}

	_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
		VALUES ($1,$2,$3,$4,'pending')`,
		"payment", p.ID, eventType, payload)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetByID(ctx context.Context, id string) (domain.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
}

func (r *Repository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (domain.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE checkout_request_id=$1`, checkoutRequestID)
}

func (r *Repository) get(ctx context.Context, query, arg string) (domain.Payment, error) {
	var p domain.Payment
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.OrderID, &p.AmountUnits, &p.Status, &p.PhoneNumber,
		&p.MerchantRequestID, &p.CheckoutRequestID, &p.ResultDescription, &p.ReceiptNumber,
		&p.CreatedAt, &p.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

// FinalizeWithOutbox transitions a pending payment to a terminal state and
// writes the outbox event in the same transaction. The update is conditional
// on status='pending', so a concurrent delivery of the same callback commits
// at most one transition; the loser sees applied=false.
func (r *Repository) FinalizeWithOutbox(ctx context.Context, paymentID string, to domain.Status, receipt, resultDesc string, paidAt *time.Time, eventType string, payload []byte) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE payments
		SET status=$2, receipt_number=$3, result_description=$4, paid_at=$5
		WHERE id=$1 AND status=$6`,
		paymentID, to, receipt, resultDesc, paidAt, domain.StatusPending)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
		VALUES ($1,$2,$3,$4,'pending')`,
		"payment", paymentID, eventType, payload)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) AppendOutbox(ctx context.Context, aggregateID, eventType string, payload []byte) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
		VALUES ($1,$2,$3,$4,'pending')`,
		"payment", aggregateID, eventType, payload)
	return err
}
