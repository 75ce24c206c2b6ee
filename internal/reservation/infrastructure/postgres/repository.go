package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecomcore/reservation-service/internal/reservation/application"
	"github.com/ecomcore/reservation-service/internal/reservation/domain"
	"github.com/ecomcore/reservation-service/pkg/tracing"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// Reserve admits one hold inside a single transaction. The FOR UPDATE on
// the product row serializes every reservation attempt against the same
// product, so the recompute-then-insert below is atomic with respect to
// concurrent callers. Attempts against different products never block
// each other.
func (r *Repository) Reserve(ctx context.Context, p application.ReserveParams) (*domain.Reservation, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var stock int
	var inStock bool
	err = tx.QueryRow(ctx, `SELECT stock, in_stock FROM products WHERE id=$1 FOR UPDATE`, p.ProductID).
		Scan(&stock, &inStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	var reserved int
	err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
		WHERE product_id=$1 AND status='active' AND reserved_until > now()`, p.ProductID).
		Scan(&reserved)
	if err != nil {
		return nil, err
	}

	available := stock - reserved
	if available < 0 {
		available = 0
	}
	if available < p.Quantity {
		return nil, &domain.InsufficientStockError{
			ProductID: p.ProductID,
			Requested: p.Quantity,
			Available: available,
		}
	}
	if !inStock {
		return nil, &domain.OutOfStockError{ProductID: p.ProductID}
	}

	res := &domain.Reservation{
		ProductID:     p.ProductID,
		UserID:        p.UserID,
		SessionID:     p.SessionID,
		Quantity:      p.Quantity,
		ReservedUntil: time.Now().UTC().Add(p.TTL),
		Status:        domain.StatusActive,
		OrderToken:    p.OrderToken,
	}
	err = tx.QueryRow(ctx, `INSERT INTO stock_reservations
			(product_id, user_id, session_id, quantity, reserved_until, status, order_token, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		RETURNING id, created_at, updated_at`,
		res.ProductID, res.UserID, res.SessionID, res.Quantity, res.ReservedUntil, res.Status, res.OrderToken).
		Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}

	err = insertOutbox(ctx, tx, "reservation", res.OrderToken, "StockReserved", domain.StockReserved{
		ReservationID: res.ID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		OrderToken:    res.OrderToken,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// ConfirmByToken flips every active hold for the token to confirmed and
// performs the authoritative stock decrement. Expiry is deliberately not
// consulted: confirmation is the terminal "payment worked" signal and wins
// a race with the sweeper. A second call finds no active rows and commits
// an empty transaction, which makes redelivered payment callbacks safe.
// When a late confirm lands after the hold expired and the freed stock was
// re-sold, the decrement clamps at zero instead of tripping the stock
// check constraint.
func (r *Repository) ConfirmByToken(ctx context.Context, orderToken string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Ordered by product_id so concurrent confirms lock products in a
	// consistent order.
	rows, err := tx.Query(ctx, `SELECT id, product_id, quantity FROM stock_reservations
		WHERE order_token=$1 AND status='active' ORDER BY product_id FOR UPDATE`, orderToken)
	if err != nil {
		return 0, err
	}
	type hold struct {
		id        int64
		productID int64
		quantity  int
	}
	var holds []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.id, &h.productID, &h.quantity); err != nil {
			rows.Close()
			return 0, err
		}
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(holds) == 0 {
		return 0, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(holds))
	for _, h := range holds {
		_, err = tx.Exec(ctx, `UPDATE products SET stock = GREATEST(stock - $2, 0), updated_at=now() WHERE id=$1`, h.productID, h.quantity)
		if err != nil {
			return 0, err
		}
		_, err = tx.Exec(ctx, `UPDATE products SET in_stock=false, updated_at=now() WHERE id=$1 AND stock <= 0`, h.productID)
		if err != nil {
			return 0, err
		}
		ids = append(ids, h.id)
	}

	_, err = tx.Exec(ctx, `UPDATE stock_reservations SET status='confirmed', updated_at=now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}

	err = insertOutbox(ctx, tx, "reservation", orderToken, "ReservationConfirmed", domain.ReservationConfirmed{
		OrderToken: orderToken,
		Count:      len(holds),
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(holds), nil
}

// CancelByToken releases active holds without touching stock: inventory is
// only decremented at confirm time. Terminal holds are untouched.
func (r *Repository) CancelByToken(ctx context.Context, orderToken string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE stock_reservations SET status='cancelled', updated_at=now()
		WHERE order_token=$1 AND status='active'`, orderToken)
	if err != nil {
		return 0, err
	}
	count := int(ct.RowsAffected())
	if count > 0 {
		err = insertOutbox(ctx, tx, "reservation", orderToken, "ReservationCancelled", domain.ReservationCancelled{
			OrderToken: orderToken,
			Count:      count,
		})
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) CancelReservations(ctx context.Context, ids []int64) (int, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE stock_reservations SET status='cancelled', updated_at=now()
		WHERE id = ANY($1) AND status='active'`, ids)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// AvailableStock is an unlocked read. Past-deadline holds are excluded by
// the reserved_until filter whether or not the sweeper has run.
func (r *Repository) AvailableStock(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := r.pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}

	var reserved int
	err = r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
		WHERE product_id=$1 AND status='active' AND reserved_until > now()`, productID).
		Scan(&reserved)
	if err != nil {
		return 0, err
	}

	available := stock - reserved
	if available < 0 {
		available = 0
	}
	return available, nil
}

func (r *Repository) SweepExpired(ctx context.Context) (int, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE stock_reservations SET status='expired', updated_at=now()
		WHERE status='active' AND reserved_until <= now()`)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// insertOutbox writes an event row inside the caller's transaction so the
// state change and its event commit or roll back together. The current
// trace context is captured so the relay can continue the span downstream.
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
