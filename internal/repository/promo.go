package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serendib/storefront/internal/domain/promo"
)

const (
	promoColumns = `code, type, value, enabled, starts_at, ends_at, created_at`

	getPromotionByCodeSQL = `SELECT ` + promoColumns + ` FROM promotions
		WHERE code = UPPER($1)`

	listPromotionsSQL = `SELECT ` + promoColumns + ` FROM promotions ORDER BY created_at DESC`

	createPromotionSQL = `INSERT INTO promotions (code, type, value, enabled, starts_at, ends_at)
		VALUES (UPPER($1), $2, $3, $4, $5, $6)`

	updatePromotionSQL = `UPDATE promotions
		SET type = $2, value = $3, enabled = $4, starts_at = $5, ends_at = $6
		WHERE code = UPPER($1)`

	deletePromotionSQL = `DELETE FROM promotions WHERE code = UPPER($1)`
)

var _ promo.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promo.Repository backed by PostgreSQL.
// Codes are stored uppercase; every statement normalizes its code
// parameter with UPPER() so lookups stay case-insensitive.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up a promotion by its code (case-insensitive).
// Returns promo.ErrNotFound when no promotion exists.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promo.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}
	return &p, nil
}

// List returns all promotions, newest first.
func (r *PromotionRepository) List(ctx context.Context) ([]promo.Promotion, error) {
	rows, err := r.pool.Query(ctx, listPromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// Create inserts a new promotion. The code is uppercased at write time.
func (r *PromotionRepository) Create(ctx context.Context, p *promo.Promotion) error {
	_, err := r.pool.Exec(ctx, createPromotionSQL,
		p.Code, p.Type, p.Value, p.Enabled, p.StartsAt, p.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("creating promotion %q: %w", p.Code, err)
	}
	return nil
}

// Update replaces the mutable fields of an existing promotion.
func (r *PromotionRepository) Update(ctx context.Context, p *promo.Promotion) error {
	tag, err := r.pool.Exec(ctx, updatePromotionSQL,
		p.Code, p.Type, p.Value, p.Enabled, p.StartsAt, p.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("updating promotion %q: %w", p.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrNotFound
	}
	return nil
}

// Delete removes a promotion. Promotions are hard-deleted, there is no
// soft-delete state.
func (r *PromotionRepository) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deletePromotionSQL, code)
	if err != nil {
		return fmt.Errorf("deleting promotion %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrNotFound
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (promo.Promotion, error) {
	var (
		p        promo.Promotion
		promType string
	)
	err := row.Scan(&p.Code, &promType, &p.Value, &p.Enabled, &p.StartsAt, &p.EndsAt, &p.CreatedAt)
	p.Type = promo.Type(promType)
	return p, err
}
