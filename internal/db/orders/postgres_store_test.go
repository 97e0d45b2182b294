package ordersdb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"orderline/internal/orders"
	"orderline/internal/saga"
)

func newStoreMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func TestPostgresStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS payments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS order_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestPostgresStore_CreateOrderUpserts(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO orders").
		WithArgs("o1", "received", []byte(`[{"sku":"X","qty":2}]`), []byte(`{"city":"Lyon"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	err := store.CreateOrder(context.Background(), orders.Order{
		ID:      "o1",
		Items:   []saga.Item{{SKU: "X", Qty: 2}},
		Address: map[string]any{"city": "Lyon"},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
}

func TestPostgresStore_CreateOrderRequiresID(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)
	mock.ExpectClose()

	store := NewPostgresStore(db)
	if err := store.CreateOrder(context.Background(), orders.Order{}); err == nil {
		t.Fatalf("expected error for empty order id")
	}
}

func TestPostgresStore_GetOrder(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	now := time.Now()
	mock.ExpectQuery("SELECT order_id, state, items, address, created_at, updated_at").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "state", "items", "address", "created_at", "updated_at"}).
			AddRow("o1", "paid", []byte(`[{"sku":"X","qty":2}]`), `{"city":"Lyon"}`, now, now))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	o, found, err := store.GetOrder(context.Background(), "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if !found {
		t.Fatalf("expected order")
	}
	if o.State != "paid" || len(o.Items) != 1 || o.Items[0].Qty != 2 {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.Address["city"] != "Lyon" {
		t.Fatalf("unexpected address: %+v", o.Address)
	}
}

func TestPostgresStore_GetOrderMissing(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT order_id, state, items, address, created_at, updated_at").
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "state", "items", "address", "created_at", "updated_at"}))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	_, found, err := store.GetOrder(context.Background(), "absent")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if found {
		t.Fatalf("expected no order")
	}
}

func TestPostgresStore_UpdateOrderState(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE orders").
		WithArgs("o1", "shipped").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	if err := store.UpdateOrderState(context.Background(), "o1", "shipped"); err != nil {
		t.Fatalf("UpdateOrderState: %v", err)
	}
}

func TestPostgresStore_UpdateOrderStateMissing(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE orders").
		WithArgs("absent", "shipped").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	if err := store.UpdateOrderState(context.Background(), "absent", "shipped"); err == nil {
		t.Fatalf("expected error for unknown order")
	}
}

func TestPostgresStore_UpdateAddress(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE orders").
		WithArgs("o1", []byte(`{"street":"1 Rue"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	if err := store.UpdateAddress(context.Background(), "o1", map[string]any{"street": "1 Rue"}); err != nil {
		t.Fatalf("UpdateAddress: %v", err)
	}
}

func TestPostgresStore_FindPayment(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT payment_id, order_id, status, amount").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "order_id", "status", "amount"}).
			AddRow("pay-1", "o1", "charged", 3.0))
	mock.ExpectQuery("SELECT payment_id, order_id, status, amount").
		WithArgs("pay-absent").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "order_id", "status", "amount"}))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	p, found, err := store.FindPayment(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("FindPayment: %v", err)
	}
	if !found || p.Status != "charged" || p.Amount != 3.0 {
		t.Fatalf("unexpected payment: %+v", p)
	}

	_, found, err = store.FindPayment(context.Background(), "pay-absent")
	if err != nil {
		t.Fatalf("FindPayment absent: %v", err)
	}
	if found {
		t.Fatalf("expected no payment")
	}
}

func TestPostgresStore_UpsertPayment(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO payments").
		WithArgs("pay-1", "o1", "pending", 3.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	err := store.UpsertPayment(context.Background(), orders.Payment{
		PaymentID: "pay-1", OrderID: "o1", Status: "pending", Amount: 3.0,
	})
	if err != nil {
		t.Fatalf("UpsertPayment: %v", err)
	}
}

func TestPostgresStore_RecordEventAndListTypes(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO order_events").
		WithArgs("o1", "order_received", []byte(`{"count":1}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT type").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"type"}).
			AddRow("order_received").
			AddRow("order_validated"))
	mock.ExpectClose()

	store := NewPostgresStore(db)
	err := store.RecordEvent(context.Background(), orders.Event{
		OrderID: "o1", Type: "order_received", Payload: map[string]any{"count": 1},
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	types, err := store.EventTypes(context.Background(), "o1")
	if err != nil {
		t.Fatalf("EventTypes: %v", err)
	}
	if len(types) != 2 || types[0] != "order_received" || types[1] != "order_validated" {
		t.Fatalf("unexpected event types: %v", types)
	}
}

func TestPostgresStore_WithSchema_Success(t *testing.T) {
	db, mock, cleanup := newStoreMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS payments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS order_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store, err := NewPostgresStoreWithSchema(context.Background(), db)
	if err != nil {
		t.Fatalf("WithSchema: %v", err)
	}
	if store == nil {
		t.Fatalf("expected store")
	}
}
