package domain

import "time"

// Outbox event types for the payment lifecycle.
const (
	EventPaymentInitiated = "payment.initiated"
	EventPaymentPaid      = "payment.paid"
	EventPaymentFailed    = "payment.failed"
	EventPaymentReconcile = "payment.reconcile"
)

type PaymentInitiated struct {
	PaymentID         string `json:"payment_id"`
	OrderID           string `json:"order_id"`
	AmountUnits       int64  `json:"amount_units"`
	CheckoutRequestID string `json:"checkout_request_id"`
}

type PaymentPaid struct {
	PaymentID     string    `json:"payment_id"`
	OrderID       string    `json:"order_id"`
	AmountUnits   int64     `json:"amount_units"`
	ReceiptNumber string    `json:"receipt_number"`
	PaidAt        time.Time `json:"paid_at"`
}

type PaymentFailed struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
}

// PaymentReconcile flags a payment that settled but whose order could not be
// marked paid. A downstream consumer owns the retry.
type PaymentReconcile struct {
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	ReceiptNumber string `json:"receipt_number"`
	Reason        string `json:"reason"`
}
