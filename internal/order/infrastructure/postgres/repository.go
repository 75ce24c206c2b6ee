package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecomcore/reservation-service/internal/order/domain"
	"github.com/ecomcore/reservation-service/pkg/tracing"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// CreateIdempotent runs the whole check-then-insert inside one transaction.
// The existence check alone cannot exclude a concurrent duplicate token, so
// the insert uses ON CONFLICT (order_token) DO NOTHING and falls back to
// fetching the winner's row when no row comes back.
func (r *Repository) CreateIdempotent(ctx context.Context, o domain.Order) (domain.Order, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	existing, err := getByToken(ctx, tx, o.OrderToken)
	if err == nil {
		return existing, false, tx.Commit(ctx)
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, false, err
	}

	if err := checkProductsExist(ctx, tx, o.Items); err != nil {
		return domain.Order{}, false, err
	}

	var id string
	err = tx.QueryRow(ctx, `INSERT INTO orders
			(id, user_id, order_number, order_token, status, subtotal_cents, tax_cents, shipping_cents, total_cents,
			 stripe_session_id, shipping_address, billing_address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (order_token) DO NOTHING
		RETURNING id`,
		o.ID, o.UserID, o.OrderNumber, o.OrderToken, o.Status, o.SubtotalCents, o.TaxCents, o.ShippingCents,
		o.TotalCents, o.StripeSessionID, o.ShippingAddress, o.BillingAddress, o.CreatedAt, o.UpdatedAt).
		Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent submission with the same token won the race.
		winner, err := getByToken(ctx, tx, o.OrderToken)
		if err != nil {
			return domain.Order{}, false, err
		}
		return winner, false, tx.Commit(ctx)
	}
	if err != nil {
		return domain.Order{}, false, err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, product_id, quantity, price_cents) VALUES ($1,$2,$3,$4)`,
			o.ID, item.ProductID, item.Quantity, item.PriceCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Order{}, false, err
	}

	if err := insertOutbox(ctx, tx, "order", o.ID, "OrderCreated", domain.OrderCreated{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OrderToken:  o.OrderToken,
		TotalCents:  o.TotalCents,
	}); err != nil {
		return domain.Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, false, err
	}
	return o, true, nil
}

func (r *Repository) GetByToken(ctx context.Context, orderToken string) (domain.Order, error) {
	return getByToken(ctx, r.pool, orderToken)
}

func (r *Repository) UpdateStatus(ctx context.Context, orderToken string, status domain.OrderStatus) (domain.Order, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE order_token=$1`, orderToken, status)
	if err != nil {
		return domain.Order{}, err
	}
	if ct.RowsAffected() == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.GetByToken(ctx, orderToken)
}

func (r *Repository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number=$1)`, orderNumber).Scan(&exists)
	return exists, err
}

// checkProductsExist rejects order lines naming product ids that were never
// seeded. Item rows carry no FK back to products, so this is the only guard.
func checkProductsExist(ctx context.Context, tx pgx.Tx, items []domain.OrderItem) error {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	rows, err := tx.Query(ctx, `SELECT id FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	known := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, item := range items {
		if !known[item.ProductID] {
			return &domain.UnknownProductError{ProductID: item.ProductID}
		}
	}
	return nil
}

// querier lets the order lookup run either on the pool or inside the
// idempotent-create transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getByToken(ctx context.Context, q querier, orderToken string) (domain.Order, error) {
	var o domain.Order
	err := q.QueryRow(ctx, `SELECT id, user_id, order_number, order_token, status, subtotal_cents, tax_cents,
			shipping_cents, total_cents, stripe_session_id, shipping_address, billing_address, created_at, updated_at
		FROM orders WHERE order_token=$1`, orderToken).
		Scan(&o.ID, &o.UserID, &o.OrderNumber, &o.OrderToken, &o.Status, &o.SubtotalCents, &o.TaxCents,
			&o.ShippingCents, &o.TotalCents, &o.StripeSessionID, &o.ShippingAddress, &o.BillingAddress,
			&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := q.Query(ctx, `SELECT product_id, quantity, price_cents FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.PriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		aggregateType, aggregateID, eventType, payload, map[string]string{}, tracing.Traceparent(ctx))
	return err
}
