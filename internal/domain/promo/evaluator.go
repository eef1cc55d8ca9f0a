package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Result is the outcome of validating a promotion code against a subtotal.
// When Valid is false, Reason carries a short human-readable explanation.
type Result struct {
	Valid        bool
	Discount     decimal.Decimal
	FreeShipping bool
	Reason       string
}

// Evaluator validates promotion codes and computes their discounts.
type Evaluator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Result, error)
}

// RepoEvaluator implements Evaluator by looking promotions up in a
// Repository. Validation is a pure read: it is safe to call repeatedly
// and never consumes or mutates the promotion.
type RepoEvaluator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoEvaluator creates a RepoEvaluator backed by the given Repository.
func NewRepoEvaluator(repo Repository) *RepoEvaluator {
	return &RepoEvaluator{repo: repo, now: time.Now}
}

// Validate looks up the promotion by its uppercased code and applies it
// to the subtotal. An unknown code or an inactive promotion yields an
// invalid Result, not an error; errors are reserved for backend failures
// and malformed stored rules.
func (e *RepoEvaluator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Result, error) {
	p, err := e.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{Valid: false, Reason: "not found"}, nil
		}
		return Result{}, errors.Wrap(err, "lookup promotion")
	}

	if !p.ActiveAt(e.now()) {
		return Result{Valid: false, Reason: "not active"}, nil
	}

	d, err := Apply(p, subtotal)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Valid:        true,
		Discount:     d.Amount,
		FreeShipping: d.FreeShipping,
	}, nil
}
