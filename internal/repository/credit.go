package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serendib/storefront/internal/domain/credit"
)

const (
	creditColumns = `code, amount, enabled, min_order_total, starts_at, ends_at,
		used_at, used_order_id, created_at`

	getCreditByCodeSQL = `SELECT ` + creditColumns + ` FROM store_credits
		WHERE code = UPPER($1)`

	listCreditsSQL = `SELECT ` + creditColumns + ` FROM store_credits ORDER BY created_at DESC`

	createCreditSQL = `INSERT INTO store_credits (code, amount, enabled, min_order_total, starts_at, ends_at)
		VALUES (UPPER($1), $2, $3, $4, $5, $6)`

	deleteCreditSQL = `DELETE FROM store_credits
		WHERE code = UPPER($1) AND used_at IS NULL`

	markCreditUsedSQL = `UPDATE store_credits
		SET used_at = $2, used_order_id = $3
		WHERE code = UPPER($1) AND used_at IS NULL`
)

var _ credit.Repository = (*CreditRepository)(nil)

// CreditRepository implements credit.Repository backed by PostgreSQL.
// The used_at IS NULL guards on the mutating statements make credit
// consumption first-writer-wins: once a credit is used it can never be
// consumed or deleted again.
type CreditRepository struct {
	pool *pgxpool.Pool
}

// NewCreditRepository returns a CreditRepository that uses the given pool.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepository {
	return &CreditRepository{pool: pool}
}

// FindByCode looks up a store credit by its code (case-insensitive).
// Returns credit.ErrNotFound when no credit exists.
func (r *CreditRepository) FindByCode(ctx context.Context, code string) (*credit.StoreCredit, error) {
	rows, err := r.pool.Query(ctx, getCreditByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding store credit %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCredit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credit.ErrNotFound
		}
		return nil, fmt.Errorf("finding store credit %q: %w", code, err)
	}
	return &c, nil
}

// List returns all store credits, newest first.
func (r *CreditRepository) List(ctx context.Context) ([]credit.StoreCredit, error) {
	rows, err := r.pool.Query(ctx, listCreditsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing store credits: %w", err)
	}
	return pgx.CollectRows(rows, scanCredit)
}

// Create inserts a new store credit. The code is uppercased at write time.
func (r *CreditRepository) Create(ctx context.Context, c *credit.StoreCredit) error {
	_, err := r.pool.Exec(ctx, createCreditSQL,
		c.Code, c.Amount, c.Enabled, c.MinOrderTotal, c.StartsAt, c.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("creating store credit %q: %w", c.Code, err)
	}
	return nil
}

// Delete removes an unused store credit. Deleting a consumed credit is
// refused with credit.ErrAlreadyUsed.
func (r *CreditRepository) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deleteCreditSQL, code)
	if err != nil {
		return fmt.Errorf("deleting store credit %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		if existing.Used() {
			return credit.ErrAlreadyUsed
		}
		return credit.ErrNotFound
	}
	return nil
}

// MarkUsed consumes a credit for the given order. The statement only
// matches unused rows, so a second redemption attempt reports
// credit.ErrAlreadyUsed.
func (r *CreditRepository) MarkUsed(ctx context.Context, code, orderID string, usedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, markCreditUsedSQL, code, usedAt, orderID)
	if err != nil {
		return fmt.Errorf("marking store credit %q used: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByCode(ctx, code); err != nil {
			return err
		}
		return credit.ErrAlreadyUsed
	}
	return nil
}

func scanCredit(row pgx.CollectableRow) (credit.StoreCredit, error) {
	var c credit.StoreCredit
	err := row.Scan(
		&c.Code, &c.Amount, &c.Enabled, &c.MinOrderTotal, &c.StartsAt, &c.EndsAt,
		&c.UsedAt, &c.UsedOrderID, &c.CreatedAt,
	)
	return c, err
}
