package application

import (
	"context"
	"time"

	orderdomain "github.com/agrimarket/payment-service/internal/order/domain"
	"github.com/agrimarket/payment-service/internal/payment/domain"
	"github.com/agrimarket/payment-service/internal/payment/infrastructure/mpesa"
)

type PaymentRepository interface {
	// PendingExists reports whether the order already has a non-terminal payment.
	PendingExists(ctx context.Context, orderID string) (bool, error)
	// CreateWithOutbox inserts a pending payment and its outbox event in one
	// transaction. Returns domain.ErrPaymentAlreadyPending if a pending
	// payment for the same order won the race.
	CreateWithOutbox(ctx context.Context, p domain.Payment, eventType string, payload []byte) error
	GetByID(ctx context.Context, id string) (domain.Payment, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (domain.Payment, error)
	// FinalizeWithOutbox moves a payment out of pending and records the
	// outbox event in the same transaction. applied is false when the row was
	// no longer pending, which callers treat as an idempotent no-op.
	FinalizeWithOutbox(ctx context.Context, paymentID string, to domain.Status, receipt, resultDesc string, paidAt *time.Time, eventType string, payload []byte) (applied bool, err error)
	// AppendOutbox records a standalone event outside any payment transition.
	AppendOutbox(ctx context.Context, aggregateID, eventType string, payload []byte) error
}

type OrderGateway interface {
	GetOrder(ctx context.Context, orderID string) (orderdomain.Order, error)
	// MarkOrderPaid drives the placed -> paid edge. Returns
	// domain.ErrOrderNotFound or domain.ErrOrderNotPayable otherwise.
	MarkOrderPaid(ctx context.Context, orderID string) error
}

type StkGateway interface {
	Authenticate(ctx context.Context) (string, error)
	PushPayment(ctx context.Context, token string, amount int64, phone, reference, description string) (mpesa.PushResult, error)
}

// CallbackDeduper is an optional fast-path guard in front of the database
// terminal-state check. Keys are only marked after a terminal transition
// commits, so a failed processing attempt stays retryable.
type CallbackDeduper interface {
	Seen(ctx context.Context, checkoutRequestID string) (bool, error)
	MarkSeen(ctx context.Context, checkoutRequestID string) error
}
