package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates order lifecycle states. The set is flat: any status
// may be replaced by any other via an admin update, there is no enforced
// transition graph.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a raw status string against the known set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusPaid, StatusShipped, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", &InvalidStatusError{Value: s}
}

// PaymentMethod enumerates the supported checkout payment methods.
type PaymentMethod string

const (
	// PaymentCOD is cash on delivery.
	PaymentCOD PaymentMethod = "COD"
	// PaymentBank is a bank transfer, optionally carrying a slip reference.
	PaymentBank PaymentMethod = "BANK"
)

// ValidPaymentMethod reports whether m is a known payment method.
func ValidPaymentMethod(m PaymentMethod) bool {
	return m == PaymentCOD || m == PaymentBank
}

// LineItem is a product snapshot captured at order time, decoupled from
// the live catalog.
type LineItem struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// ShippingAddress is a distinct delivery address. A nil value on
// Customer means the order ships to the billing address.
type ShippingAddress struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone"`
}

// Customer is the contact and address record embedded in an order.
type Customer struct {
	Name       string           `json:"name"`
	Email      string           `json:"email"`
	Phone      string           `json:"phone"`
	Address    string           `json:"address"`
	City       string           `json:"city"`
	PostalCode string           `json:"postalCode"`
	ShipTo     *ShippingAddress `json:"shipTo,omitempty"`
}

// Order is a finalized, persisted order snapshot. The derived money
// fields are computed once at creation and never recomputed.
type Order struct {
	ID            string
	Status        Status
	Items         []LineItem
	Subtotal      decimal.Decimal
	Shipping      decimal.Decimal
	PromoDiscount decimal.Decimal
	FreeShipping  bool
	Total         decimal.Decimal
	PromoCode     string
	CreditCode    string
	Customer      Customer
	PaymentMethod PaymentMethod
	BankSlipURL   string
	CreatedAt     time.Time
}

// Shortage is a per-item deficit between requested and available stock.
type Shortage struct {
	ProductID string `json:"id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError rejects an order whose items cannot all be
// fulfilled. Fulfilment is all-or-nothing: one shortage fails the order.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d item(s)", len(e.Shortages))
}

// InvalidStatusError indicates a status string outside the known set.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Value)
}

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = fmt.Errorf("order not found")

// Repository defines persistence operations for orders. Commit must
// apply the stock decrements, the order insert, and the optional store
// credit consumption as one atomic unit; on contended stock it returns
// *InsufficientStockError and leaves no partial state behind.
type Repository interface {
	Commit(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
}
