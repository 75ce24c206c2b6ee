package integration

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	orderapp "github.com/ecomcore/reservation-service/internal/order/application"
	orderdomain "github.com/ecomcore/reservation-service/internal/order/domain"
	orderpg "github.com/ecomcore/reservation-service/internal/order/infrastructure/postgres"
	resapp "github.com/ecomcore/reservation-service/internal/reservation/application"
	resdomain "github.com/ecomcore/reservation-service/internal/reservation/domain"
	respg "github.com/ecomcore/reservation-service/internal/reservation/infrastructure/postgres"
)

var (
	once     sync.Once
	env      *Env
	pool     *pgxpool.Pool
	setupErr error
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	once.Do(func() {
		ctx := context.Background()
		env, setupErr = Setup(ctx, false)
		if setupErr != nil {
			return
		}
		pool, setupErr = pgxpool.New(ctx, env.PGURL)
		if setupErr != nil {
			return
		}
		if setupErr = respg.Migrate(ctx, pool); setupErr != nil {
			return
		}
		setupErr = orderpg.Migrate(ctx, pool)
	})
	if setupErr != nil {
		t.Fatalf("integration env setup failed: %v", setupErr)
	}
	return pool
}

func newServices(t *testing.T) (*resapp.Service, *orderapp.Service, *pgxpool.Pool) {
	t.Helper()
	p := testPool(t)
	log := slog.New(slog.DiscardHandler)
	return resapp.NewService(log, respg.NewRepository(log, p)),
		orderapp.NewService(log, orderpg.NewRepository(log, p)),
		p
}

func seedProduct(t *testing.T, p *pgxpool.Pool, stock int) int64 {
	t.Helper()
	var id int64
	err := p.QueryRow(context.Background(),
		`INSERT INTO products (name, price_cents, stock, in_stock) VALUES ('widget', 1999, $1, $1 > 0) RETURNING id`,
		stock).Scan(&id)
	if err != nil {
		t.Fatalf("seed product failed: %v", err)
	}
	return id
}

func productState(t *testing.T, p *pgxpool.Pool, id int64) (int, bool) {
	t.Helper()
	var stock int
	var inStock bool
	if err := p.QueryRow(context.Background(), `SELECT stock, in_stock FROM products WHERE id=$1`, id).Scan(&stock, &inStock); err != nil {
		t.Fatalf("read product failed: %v", err)
	}
	return stock, inStock
}

// N concurrent buyers race for the last unit; the product row lock must
// admit exactly one.
func TestReserve_LastUnitRace(t *testing.T) {
	svc, _, p := newServices(t)
	productID := seedProduct(t, p, 1)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(context.Background(), productID, 1, uuid.NewString(), nil, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var insufficient *resdomain.InsufficientStockError
		if !errors.As(err, &insufficient) {
			t.Errorf("loser should get InsufficientStockError, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

// A hold past its deadline stops counting against availability even though
// the sweeper has not flipped its status yet.
func TestAvailability_IgnoresExpiredUnsweptHold(t *testing.T) {
	svc, _, p := newServices(t)
	productID := seedProduct(t, p, 10)
	token := uuid.NewString()

	if _, err := svc.Reserve(context.Background(), productID, 3, token, nil, nil); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	available, err := svc.AvailableStock(context.Background(), productID)
	if err != nil || available != 7 {
		t.Fatalf("expected available 7, got %d (%v)", available, err)
	}

	// Simulate the clock advancing 16 minutes.
	_, err = p.Exec(context.Background(),
		`UPDATE stock_reservations SET reserved_until = now() - interval '1 minute' WHERE order_token=$1`, token)
	if err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	available, err = svc.AvailableStock(context.Background(), productID)
	if err != nil || available != 10 {
		t.Fatalf("expected available 10 with expired unswept hold, got %d (%v)", available, err)
	}

	var status string
	if err := p.QueryRow(context.Background(),
		`SELECT status FROM stock_reservations WHERE order_token=$1`, token).Scan(&status); err != nil {
		t.Fatalf("read status failed: %v", err)
	}
	if status != "active" {
		t.Fatalf("stored status should still be active, got %s", status)
	}

	// The sweep now transitions it for real.
	if _, err := svc.CleanupExpired(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if err := p.QueryRow(context.Background(),
		`SELECT status FROM stock_reservations WHERE order_token=$1`, token).Scan(&status); err != nil {
		t.Fatalf("read status failed: %v", err)
	}
	if status != "expired" {
		t.Fatalf("expected expired after sweep, got %s", status)
	}
}

// A product pulled from sale keeps its uncommitted stock but admits no new
// holds.
func TestReserve_DisabledProductOutOfStock(t *testing.T) {
	svc, _, p := newServices(t)
	productID := seedProduct(t, p, 10)
	if _, err := p.Exec(context.Background(),
		`UPDATE products SET in_stock=false WHERE id=$1`, productID); err != nil {
		t.Fatalf("disable product failed: %v", err)
	}

	_, err := svc.Reserve(context.Background(), productID, 1, uuid.NewString(), nil, nil)
	var outOfStock *resdomain.OutOfStockError
	if !errors.As(err, &outOfStock) {
		t.Fatalf("expected OutOfStockError, got %v", err)
	}
	if outOfStock.ProductID != productID {
		t.Errorf("error should name product %d, got %d", productID, outOfStock.ProductID)
	}
}

func TestConfirm_DecrementsExactlyOnce(t *testing.T) {
	svc, _, p := newServices(t)
	productID := seedProduct(t, p, 10)
	token := uuid.NewString()

	if _, err := svc.Reserve(context.Background(), productID, 4, token, nil, nil); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if err := svc.ConfirmByToken(context.Background(), token); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	if err := svc.ConfirmByToken(context.Background(), token); err != nil {
		t.Fatalf("second confirm failed: %v", err)
	}

	stock, inStock := productState(t, p, productID)
	if stock != 6 {
		t.Errorf("expected stock 6 after one decrement, got %d", stock)
	}
	if !inStock {
		t.Error("product should still be in stock")
	}
}

// A payment callback that arrives after the hold expired and the unit was
// re-sold still confirms, but the decrement stops at zero instead of
// tripping the stock check constraint.
func TestConfirm_LateAfterResellClampsAtZero(t *testing.T) {
	svc, _, p := newServices(t)
	productID := seedProduct(t, p, 1)
	late := uuid.NewString()
	resell := uuid.NewString()

	if _, err := svc.Reserve(context.Background(), productID, 1, late, nil, nil); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := p.Exec(context.Background(),
		`UPDATE stock_reservations SET reserved_until = now() - interval '1 minute' WHERE order_token=$1`, late); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	if _, err := svc.Reserve(context.Background(), productID, 1, resell, nil, nil); err != nil {
		t.Fatalf("re-sell reserve failed: %v", err)
	}
	if err := svc.ConfirmByToken(context.Background(), resell); err != nil {
		t.Fatalf("re-sell confirm failed: %v", err)
	}

	if err := svc.ConfirmByToken(context.Background(), late); err != nil {
		t.Fatalf("late confirm must not fail: %v", err)
	}
	stock, inStock := productState(t, p, productID)
	if stock != 0 || inStock {
		t.Fatalf("expected stock 0 and in_stock false, got %d/%v", stock, inStock)
	}
	var status string
	if err := p.QueryRow(context.Background(),
		`SELECT status FROM stock_reservations WHERE order_token=$1`, late).Scan(&status); err != nil {
		t.Fatalf("read status failed: %v", err)
	}
	if status != "confirmed" {
		t.Fatalf("expected late hold confirmed, got %s", status)
	}
}

func TestBatchReservation_CompensatesAcrossProducts(t *testing.T) {
	svc, _, p := newServices(t)
	productA := seedProduct(t, p, 10)
	productB := seedProduct(t, p, 3)
	token := uuid.NewString()

	_, err := svc.ReserveCart(context.Background(), []resdomain.CartItem{
		{ProductID: productA, Quantity: 1},
		{ProductID: productB, Quantity: 1000},
	}, token, nil, nil)

	var insufficient *resdomain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.ProductID != productB {
		t.Errorf("error should name product %d, got %d", productB, insufficient.ProductID)
	}

	availableA, err := svc.AvailableStock(context.Background(), productA)
	if err != nil || availableA != 10 {
		t.Fatalf("expected product A fully available after compensation, got %d (%v)", availableA, err)
	}

	var active int
	if err := p.QueryRow(context.Background(),
		`SELECT count(*) FROM stock_reservations WHERE order_token=$1 AND status='active'`, token).Scan(&active); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if active != 0 {
		t.Errorf("expected zero active holds for the token, got %d", active)
	}
}

// The §-by-§ checkout walkthrough: a full hold starves a second buyer both
// before and after confirmation.
func TestCheckoutWalkthrough(t *testing.T) {
	svc, _, p := newServices(t)
	productID := seedProduct(t, p, 5)
	tokenA := uuid.NewString()

	if _, err := svc.Reserve(context.Background(), productID, 5, tokenA, nil, nil); err != nil {
		t.Fatalf("buyer A reserve failed: %v", err)
	}

	available, _ := svc.AvailableStock(context.Background(), productID)
	if available != 0 {
		t.Fatalf("expected available 0, got %d", available)
	}

	_, err := svc.Reserve(context.Background(), productID, 1, uuid.NewString(), nil, nil)
	var insufficient *resdomain.InsufficientStockError
	if !errors.As(err, &insufficient) || insufficient.Available != 0 {
		t.Fatalf("buyer B should see InsufficientStock(0), got %v", err)
	}

	if err := svc.ConfirmByToken(context.Background(), tokenA); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	stock, inStock := productState(t, p, productID)
	if stock != 0 || inStock {
		t.Fatalf("expected stock 0 and in_stock false, got %d/%v", stock, inStock)
	}

	// Retry after confirm: stock is now truly gone, not just held.
	_, err = svc.Reserve(context.Background(), productID, 1, uuid.NewString(), nil, nil)
	if !errors.As(err, &insufficient) || insufficient.Available != 0 {
		t.Fatalf("buyer B retry should see InsufficientStock(0), got %v", err)
	}
}

func TestCreateOrder_IdempotentAcrossCalls(t *testing.T) {
	_, orderSvc, p := newServices(t)
	productA := seedProduct(t, p, 10)
	productB := seedProduct(t, p, 10)
	token := uuid.NewString()
	data := orderapp.CreateOrderData{
		Items: []orderdomain.OrderItem{
			{ProductID: productA, Quantity: 2, PriceCents: 1999},
			{ProductID: productB, Quantity: 1, PriceCents: 4999},
		},
		SubtotalCents: 8997,
		TotalCents:    9717,
	}

	first, err := orderSvc.CreateOrder(context.Background(), data, token)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := orderSvc.CreateOrder(context.Background(), data, token)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if first.ID != second.ID || first.OrderNumber != second.OrderNumber {
		t.Errorf("replay returned different identifiers: %s/%s vs %s/%s",
			first.ID, first.OrderNumber, second.ID, second.OrderNumber)
	}

	var orders, items int
	if err := p.QueryRow(context.Background(), `SELECT count(*) FROM orders WHERE order_token=$1`, token).Scan(&orders); err != nil {
		t.Fatalf("count orders failed: %v", err)
	}
	if orders != 1 {
		t.Errorf("expected exactly one order row, got %d", orders)
	}
	if err := p.QueryRow(context.Background(),
		`SELECT count(*) FROM order_items WHERE order_id=$1`, first.ID).Scan(&items); err != nil {
		t.Fatalf("count items failed: %v", err)
	}
	if items != 2 {
		t.Errorf("expected 2 item rows, got %d", items)
	}
}

func TestCreateOrder_RejectsUnknownProduct(t *testing.T) {
	_, orderSvc, p := newServices(t)
	productID := seedProduct(t, p, 5)
	data := orderapp.CreateOrderData{
		Items: []orderdomain.OrderItem{
			{ProductID: productID, Quantity: 1, PriceCents: 1999},
			{ProductID: 999999999, Quantity: 1, PriceCents: 4999},
		},
		SubtotalCents: 6998,
		TotalCents:    6998,
	}

	_, err := orderSvc.CreateOrder(context.Background(), data, uuid.NewString())
	var unknown *orderdomain.UnknownProductError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownProductError, got %v", err)
	}
	if unknown.ProductID != 999999999 {
		t.Errorf("error should name the bogus product, got %d", unknown.ProductID)
	}
}

func TestOutboxRowsWritten(t *testing.T) {
	svc, _, p := newServices(t)
	productID := seedProduct(t, p, 5)
	token := uuid.NewString()

	if _, err := svc.Reserve(context.Background(), productID, 1, token, nil, nil); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.ConfirmByToken(context.Background(), token); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	var types []string
	rows, err := p.Query(context.Background(),
		`SELECT type FROM outbox WHERE aggregate_id=$1 ORDER BY id`, token)
	if err != nil {
		t.Fatalf("query outbox failed: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		types = append(types, typ)
	}
	if len(types) != 2 || types[0] != "StockReserved" || types[1] != "ReservationConfirmed" {
		t.Errorf("unexpected outbox event types: %v", types)
	}
}
