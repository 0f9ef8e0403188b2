package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	orderdomain "github.com/agrimarket/payment-service/internal/order/domain"
	paymentdomain "github.com/agrimarket/payment-service/internal/payment/domain"
)

// Repository is the order collaborator backed by the marketplace's own
// orders table. The payment subsystem only reads orders and drives the
// placed -> paid edge; everything else belongs to the order service.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (orderdomain.Order, error) {
	var o orderdomain.Order
	err := r.pool.QueryRow(ctx, `SELECT id, buyer_id, seller_id, product_id, quantity, total, status, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.ProductID, &o.Quantity, &o.Total, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderdomain.Order{}, paymentdomain.ErrOrderNotFound
	}
	if err != nil {
		return orderdomain.Order{}, err
	}
	return o, nil
}

func (r *Repository) MarkOrderPaid(ctx context.Context, orderID string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 AND status=$3`,
		orderID, orderdomain.StatusPaid, orderdomain.StatusPlaced)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: distinguish a missing order from one not in 'placed'.
	var status orderdomain.OrderStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return paymentdomain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if status == orderdomain.StatusPaid {
		// Already driven, likely by a concurrent callback delivery.
		return nil
	}
	return fmt.Errorf("%w: order %s is %s", paymentdomain.ErrOrderNotPayable, orderID, status)
}
