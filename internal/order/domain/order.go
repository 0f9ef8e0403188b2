package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPlaced    OrderStatus = "placed"
	StatusPaid      OrderStatus = "paid"
	StatusShipped   OrderStatus = "shipped"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Order is the slice of the marketplace order this subsystem needs: the
// total to charge, the parties, and the status edge it is allowed to drive.
// Total is fixed at placement and never recomputed here.
type Order struct {
	ID        string
	BuyerID   string
	SellerID  string
	ProductID string
	Quantity  int
	Total     decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
