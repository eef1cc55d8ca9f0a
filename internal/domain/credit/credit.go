package credit

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no store credit exists for a code.
	ErrNotFound = errors.New("store credit not found")
	// ErrAlreadyUsed is returned when mutating a credit that has been
	// consumed. A used credit is terminal: it can never be redeemed,
	// edited, or deleted again.
	ErrAlreadyUsed = errors.New("store credit already used")
)

// StoreCredit is a single-use, fixed-amount discount code. Once UsedAt
// is set the credit is permanently consumed.
type StoreCredit struct {
	Code          string
	Amount        decimal.Decimal
	Enabled       bool
	MinOrderTotal *decimal.Decimal
	StartsAt      *time.Time
	EndsAt        *time.Time
	UsedAt        *time.Time
	UsedOrderID   string
	CreatedAt     time.Time
}

// Used reports whether the credit has been consumed.
func (c *StoreCredit) Used() bool {
	return c.UsedAt != nil
}

// NormalizeCode uppercases a credit code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and mutation of store credits. MarkUsed is
// the only path that consumes a credit; it must refuse codes that are
// already used so a credit can never be redeemed twice.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*StoreCredit, error)
	List(ctx context.Context) ([]StoreCredit, error)
	Create(ctx context.Context, c *StoreCredit) error
	Delete(ctx context.Context, code string) error
	MarkUsed(ctx context.Context, code, orderID string, usedAt time.Time) error
}
