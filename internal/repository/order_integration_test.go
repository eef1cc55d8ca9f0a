//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/serendib/storefront/internal/domain/credit"
	"github.com/serendib/storefront/internal/domain/order"
)

// newTestPool starts a disposable PostgreSQL container, applies the
// schema, and returns a connected pool. The container is terminated when
// the test finishes.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("store"),
		postgres.WithPassword("store"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func seedTestProduct(t *testing.T, pool *pgxpool.Pool, id string, price int64, stock int) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO products (id, name, slug, price, stock) VALUES ($1, $2, $3, $4, $5)`,
		id, "Product "+id, id+"-slug", decimal.NewFromInt(price), stock,
	)
	require.NoError(t, err)
}

func seedTestCredit(t *testing.T, pool *pgxpool.Pool, code string, amount int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO store_credits (code, amount, enabled) VALUES ($1, $2, TRUE)`,
		code, decimal.NewFromInt(amount),
	)
	require.NoError(t, err)
}

func productStock(t *testing.T, pool *pgxpool.Pool, id string) int {
	t.Helper()
	var stock int
	err := pool.QueryRow(context.Background(),
		`SELECT stock FROM products WHERE id = $1`, id).Scan(&stock)
	require.NoError(t, err)
	return stock
}

func orderCount(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		`SELECT count(*) FROM orders`).Scan(&n)
	require.NoError(t, err)
	return n
}

func newCommittableOrder(productID string, price int64, qty int) *order.Order {
	lineTotal := decimal.NewFromInt(price * int64(qty))
	return &order.Order{
		ID:     uuid.New().String(),
		Status: order.StatusPending,
		Items: []order.LineItem{{
			ProductID: productID,
			Name:      "Product " + productID,
			Slug:      productID + "-slug",
			Price:     decimal.NewFromInt(price),
			Quantity:  qty,
		}},
		Subtotal:      lineTotal,
		Shipping:      decimal.NewFromInt(350),
		PromoDiscount: decimal.Zero,
		Total:         lineTotal.Add(decimal.NewFromInt(350)),
		Customer:      order.Customer{Name: "Nimal Perera", Email: "nimal@example.com"},
		PaymentMethod: order.PaymentCOD,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestOrderRepositoryCommitAndGet(t *testing.T) {
	pool := newTestPool(t)
	seedTestProduct(t, pool, "p1", 1200, 10)
	repo := NewOrderRepository(pool)

	o := newCommittableOrder("p1", 1200, 2)
	require.NoError(t, repo.Commit(context.Background(), o))

	assert.Equal(t, 8, productStock(t, pool, "p1"))

	got, err := repo.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, order.StatusPending, got.Status)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, got.Total.Equal(o.Total))
}

func TestOrderRepositoryCommitConcurrentShortage(t *testing.T) {
	// Stock 5, two orders of 3 racing: exactly one commit wins, the
	// other rolls back with a shortage and leaves no order row behind.
	pool := newTestPool(t)
	seedTestProduct(t, pool, "p1", 1000, 5)
	repo := NewOrderRepository(pool)

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		g.Go(func() error {
			errs[i] = repo.Commit(context.Background(), newCommittableOrder("p1", 1000, 3))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var failures int
	for _, err := range errs {
		if err == nil {
			continue
		}
		failures++
		var stockErr *order.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		require.Len(t, stockErr.Shortages, 1)
		assert.Equal(t, 3, stockErr.Shortages[0].Requested)
		assert.Equal(t, 2, stockErr.Shortages[0].Available)
	}
	assert.Equal(t, 1, failures, "exactly one of the racing commits must lose")
	assert.Equal(t, 2, productStock(t, pool, "p1"))
	assert.Equal(t, 1, orderCount(t, pool))
}

func TestOrderRepositoryCommitDuplicateLines(t *testing.T) {
	// Two lines of the same product must be checked against their
	// combined demand, not line by line.
	pool := newTestPool(t)
	seedTestProduct(t, pool, "p1", 1000, 5)
	repo := NewOrderRepository(pool)

	o := newCommittableOrder("p1", 1000, 3)
	o.Items = append(o.Items, order.LineItem{
		ProductID: "p1",
		Name:      "Product p1",
		Slug:      "p1-slug",
		Price:     decimal.NewFromInt(1000),
		Quantity:  3,
	})

	err := repo.Commit(context.Background(), o)

	var stockErr *order.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Shortages, 1)
	assert.Equal(t, order.Shortage{
		ProductID: "p1", Name: "Product p1", Requested: 6, Available: 5,
	}, stockErr.Shortages[0])

	assert.Equal(t, 5, productStock(t, pool, "p1"), "failed commit must not touch stock")
	assert.Equal(t, 0, orderCount(t, pool))
}

func TestOrderRepositoryCommitCreditConsumedOnce(t *testing.T) {
	// The second order carrying an already consumed credit rolls back
	// entirely: no order row, no stock decrement.
	pool := newTestPool(t)
	seedTestProduct(t, pool, "p1", 2000, 10)
	seedTestCredit(t, pool, "GIFT-500", 500)
	repo := NewOrderRepository(pool)

	first := newCommittableOrder("p1", 2000, 1)
	first.CreditCode = "GIFT-500"
	first.PromoDiscount = decimal.NewFromInt(500)
	first.Total = first.Total.Sub(decimal.NewFromInt(500))
	require.NoError(t, repo.Commit(context.Background(), first))
	assert.Equal(t, 9, productStock(t, pool, "p1"))

	second := newCommittableOrder("p1", 2000, 1)
	second.CreditCode = "GIFT-500"
	second.PromoDiscount = decimal.NewFromInt(500)
	second.Total = second.Total.Sub(decimal.NewFromInt(500))

	err := repo.Commit(context.Background(), second)
	require.ErrorIs(t, err, credit.ErrAlreadyUsed)

	_, err = repo.Get(context.Background(), second.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
	assert.Equal(t, 9, productStock(t, pool, "p1"), "rolled back commit must restore stock")

	var usedOrderID string
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT used_order_id FROM store_credits WHERE code = $1`, "GIFT-500").Scan(&usedOrderID))
	assert.Equal(t, first.ID, usedOrderID)
}
