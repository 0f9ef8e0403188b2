package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// Input errors: rejected synchronously, the gateway is never contacted.
var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotPayable       = errors.New("order is not awaiting payment")
	ErrPaymentAlreadyPending = errors.New("a pending payment already exists for this order")
	ErrInvalidPhoneNumber    = errors.New("invalid phone number")
	ErrPaymentNotFound       = errors.New("payment not found")
)

// Gateway errors: nothing was persisted locally, Initiate may be retried.
var (
	ErrGatewayAuth        = errors.New("gateway authentication failed")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrGatewayProtocol    = errors.New("gateway protocol violation")
	ErrGatewayRejected    = errors.New("gateway rejected push request")
)

type Payment struct {
	ID                string
	OrderID           string
	AmountUnits       int64
	Status            Status
	PhoneNumber       string
	MerchantRequestID string
	CheckoutRequestID string
	ResultDescription string
	ReceiptNumber     string
	CreatedAt         time.Time
	PaidAt            *time.Time
}

func NewPayment(orderID string, amountUnits int64, phone, merchantRequestID, checkoutRequestID, desc string) Payment {
	return Payment{
		ID:                uuid.NewString(),
		OrderID:           orderID,
		AmountUnits:       amountUnits,
		Status:            StatusPending,
		PhoneNumber:       phone,
		MerchantRequestID: merchantRequestID,
		CheckoutRequestID: checkoutRequestID,
		ResultDescription: desc,
		CreatedAt:         time.Now().UTC(),
	}
}

// AmountFromTotal derives the whole-unit gateway amount from an order total.
// The gateway does not accept fractional units; the fraction is truncated
// toward zero, never rounded up. This is the single place that rule lives.
func AmountFromTotal(total decimal.Decimal) int64 {
	return total.Truncate(0).IntPart()
}
