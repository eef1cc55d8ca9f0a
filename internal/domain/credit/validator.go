package credit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Reason explains why a store credit failed validation.
type Reason string

const (
	ReasonNotFound    Reason = "NOT_FOUND"
	ReasonDisabled    Reason = "DISABLED"
	ReasonAlreadyUsed Reason = "ALREADY_USED"
	ReasonNotStarted  Reason = "NOT_STARTED"
	ReasonExpired     Reason = "EXPIRED"
	ReasonMinTotal    Reason = "MIN_TOTAL"
)

// Result is the outcome of validating a store credit against an order
// total. MaxUsable is the redeemable amount: never more than the order
// total and never more than the credit's face amount.
type Result struct {
	Valid     bool
	Reason    Reason
	MaxUsable decimal.Decimal
	Credit    *StoreCredit
}

// Validator validates store credit codes against an order total.
type Validator interface {
	Validate(ctx context.Context, code string, orderTotal decimal.Decimal) (Result, error)
}

// RepoValidator implements Validator by looking credits up in a
// Repository. Validation is a pure read-side check: consuming the credit
// is a separate explicit write performed at order commit, so validating
// repeatedly with unchanged state always yields the same result.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate checks the credit's gates in a fixed order: existence,
// enabled flag, single-use consumption, activation window, and minimum
// order total. The first failing gate determines the Reason.
func (v *RepoValidator) Validate(ctx context.Context, code string, orderTotal decimal.Decimal) (Result, error) {
	c, err := v.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{Reason: ReasonNotFound}, nil
		}
		return Result{}, errors.Wrap(err, "lookup store credit")
	}

	if !c.Enabled {
		return Result{Reason: ReasonDisabled, Credit: c}, nil
	}
	if c.Used() {
		return Result{Reason: ReasonAlreadyUsed, Credit: c}, nil
	}

	now := v.now()
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return Result{Reason: ReasonNotStarted, Credit: c}, nil
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return Result{Reason: ReasonExpired, Credit: c}, nil
	}

	if c.MinOrderTotal != nil && orderTotal.LessThan(*c.MinOrderTotal) {
		return Result{Reason: ReasonMinTotal, Credit: c}, nil
	}

	return Result{
		Valid:     true,
		MaxUsable: decimal.Min(orderTotal, c.Amount),
		Credit:    c,
	}, nil
}
