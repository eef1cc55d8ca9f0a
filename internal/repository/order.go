package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serendib/storefront/internal/domain/credit"
	"github.com/serendib/storefront/internal/domain/order"
)

const (
	lockProductStockSQL = `SELECT id, name, stock FROM products
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1`

	insertOrderSQL = `INSERT INTO orders (id, status, items, subtotal, shipping,
		promo_discount, free_shipping, total, promo_code, credit_code,
		customer, payment_method, bank_slip_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	consumeCreditSQL = `UPDATE store_credits SET used_at = $2, used_order_id = $3
		WHERE code = $1 AND used_at IS NULL`

	orderColumns = `id, status, items, subtotal, shipping, promo_discount,
		free_shipping, total, promo_code, credit_code, customer,
		payment_method, bank_slip_url, created_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Commit persists a new order atomically: it locks the affected product
// rows, re-checks stock under the lock, decrements it, inserts the order
// row, and consumes the applied store credit, all in one transaction.
// Locking rows in id order keeps concurrent commits deadlock-free.
// Quantities are summed per product before the re-check so duplicate
// lines for one product are held to the combined demand. When stock was
// consumed by a concurrent order after the service-level availability
// check, Commit rolls back and returns *order.InsufficientStockError.
func (r *OrderRepository) Commit(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(o.Items))
	needed := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		if _, seen := needed[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		needed[item.ProductID] += item.Quantity
	}

	stock, err := lockStock(ctx, tx, ids)
	if err != nil {
		return err
	}

	var shortages []order.Shortage
	for _, id := range ids {
		row, ok := stock[id]
		if !ok || row.stock < needed[id] {
			shortages = append(shortages, order.Shortage{
				ProductID: id,
				Name:      row.name,
				Requested: needed[id],
				Available: row.stock,
			})
		}
	}
	if len(shortages) > 0 {
		return &order.InsufficientStockError{Shortages: shortages}
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, decrementStockSQL, id, needed[id]); err != nil {
			return fmt.Errorf("decrementing stock for %q: %w", id, err)
		}
	}

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	customerJSON, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshaling order customer: %w", err)
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Status, itemsJSON, o.Subtotal, o.Shipping,
		o.PromoDiscount, o.FreeShipping, o.Total, o.PromoCode, o.CreditCode,
		customerJSON, o.PaymentMethod, o.BankSlipURL, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	if o.CreditCode != "" {
		tag, err := tx.Exec(ctx, consumeCreditSQL, o.CreditCode, o.CreatedAt, o.ID)
		if err != nil {
			return fmt.Errorf("consuming store credit %q: %w", o.CreditCode, err)
		}
		if tag.RowsAffected() == 0 {
			// Consumed by a concurrent order between validation and commit.
			return credit.ErrAlreadyUsed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

type stockRow struct {
	name  string
	stock int
}

func lockStock(ctx context.Context, tx pgx.Tx, ids []string) (map[string]stockRow, error) {
	rows, err := tx.Query(ctx, lockProductStockSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking product rows: %w", err)
	}
	defer rows.Close()

	stock := make(map[string]stockRow, len(ids))
	for rows.Next() {
		var (
			id  string
			row stockRow
		)
		if err := rows.Scan(&id, &row.name, &row.stock); err != nil {
			return nil, fmt.Errorf("scanning product stock: %w", err)
		}
		stock[id] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading product stock: %w", err)
	}
	return stock, nil
}

// Get returns a single order by its identifier.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// List returns all orders, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus sets the order status. Any status may replace any other;
// the caller validates the value against the known set.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, status)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Delete removes an order.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		status       string
		payment      string
		itemsJSON    []byte
		customerJSON []byte
	)
	err := row.Scan(
		&o.ID, &status, &itemsJSON, &o.Subtotal, &o.Shipping, &o.PromoDiscount,
		&o.FreeShipping, &o.Total, &o.PromoCode, &o.CreditCode, &customerJSON,
		&payment, &o.BankSlipURL, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}

	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(payment)
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(customerJSON, &o.Customer); err != nil {
		return o, fmt.Errorf("unmarshaling order customer: %w", err)
	}
	return o, nil
}
