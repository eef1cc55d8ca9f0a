package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported promotion discount strategies.
type Type string

const (
	// TypePercent applies a percentage of the order subtotal, floored to
	// whole currency units.
	TypePercent Type = "percent"
	// TypeFixed applies a fixed monetary discount capped at the subtotal.
	TypeFixed Type = "fixed"
	// TypeFreeShipping waives the shipping fee without touching the subtotal.
	TypeFreeShipping Type = "freeShipping"
)

var (
	// ErrNotFound is returned when no promotion exists for a code.
	ErrNotFound = errors.New("promotion not found")
	// ErrUnsupportedType is returned for a promotion with an unknown type.
	ErrUnsupportedType = errors.New("unsupported promotion type")
)

// Promotion is an admin-defined discount rule identified by a code.
// Codes are case-insensitive and stored uppercase.
type Promotion struct {
	Code      string
	Type      Type
	Value     decimal.Decimal
	Enabled   bool
	StartsAt  *time.Time
	EndsAt    *time.Time
	CreatedAt time.Time
}

// ActiveAt reports whether the promotion can be applied at the given
// instant: it must be enabled and the instant must fall inside the
// optional inclusive [StartsAt, EndsAt] window.
func (p *Promotion) ActiveAt(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return false
	}
	return true
}

// ValidType reports whether t is one of the known promotion types.
func ValidType(t Type) bool {
	switch t {
	case TypePercent, TypeFixed, TypeFreeShipping:
		return true
	}
	return false
}

// NormalizeCode uppercases a promotion code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and mutation of promotions.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	List(ctx context.Context) ([]Promotion, error)
	Create(ctx context.Context, p *Promotion) error
	Update(ctx context.Context, p *Promotion) error
	Delete(ctx context.Context, code string) error
}
