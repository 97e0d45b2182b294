// Package ordersdb persists orders, payments and audit events in Postgres.
package ordersdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"orderline/internal/orders"
)

// PostgresStore implements orders.Store on top of database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a store backed by Postgres.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresStoreWithSchema initializes the schema then returns the store.
func NewPostgresStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := NewPostgresStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the order tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			items JSONB NOT NULL DEFAULT '[]',
			address JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			payment_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			status TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_events (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o orders.Order) error {
	if o.ID == "" {
		return fmt.Errorf("order id required")
	}
	state := o.State
	if state == "" {
		state = orders.OrderStateReceived
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	address, err := marshalNullable(o.Address)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, state, items, address)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO UPDATE
		SET items = EXCLUDED.items, address = EXCLUDED.address, updated_at = NOW()`,
		o.ID, state, items, address,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (orders.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, state, items, address, created_at, updated_at
		FROM orders
		WHERE order_id = $1`,
		orderID,
	)

	var o orders.Order
	var items []byte
	var address sql.NullString
	if err := row.Scan(&o.ID, &o.State, &items, &address, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.Order{}, false, nil
		}
		return orders.Order{}, false, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return orders.Order{}, false, fmt.Errorf("decode items of %s: %w", orderID, err)
	}
	if address.Valid {
		if err := json.Unmarshal([]byte(address.String), &o.Address); err != nil {
			return orders.Order{}, false, fmt.Errorf("decode address of %s: %w", orderID, err)
		}
	}
	return o, true, nil
}

func (s *PostgresStore) UpdateOrderState(ctx context.Context, orderID, state string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET state = $2, updated_at = NOW()
		WHERE order_id = $1`,
		orderID, state,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("order %s not found", orderID)
	}
	return nil
}

func (s *PostgresStore) UpdateAddress(ctx context.Context, orderID string, address map[string]any) error {
	encoded, err := marshalNullable(address)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET address = $2, updated_at = NOW()
		WHERE order_id = $1`,
		orderID, encoded,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("order %s not found", orderID)
	}
	return nil
}

func (s *PostgresStore) FindPayment(ctx context.Context, paymentID string) (orders.Payment, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payment_id, order_id, status, amount
		FROM payments
		WHERE payment_id = $1`,
		paymentID,
	)

	var p orders.Payment
	if err := row.Scan(&p.PaymentID, &p.OrderID, &p.Status, &p.Amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.Payment{}, false, nil
		}
		return orders.Payment{}, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) UpsertPayment(ctx context.Context, p orders.Payment) error {
	if p.PaymentID == "" {
		return fmt.Errorf("payment id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (payment_id, order_id, status, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payment_id) DO UPDATE
		SET status = EXCLUDED.status, amount = EXCLUDED.amount`,
		p.PaymentID, p.OrderID, p.Status, p.Amount,
	)
	return err
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev orders.Event) error {
	payload, err := marshalNullable(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO order_events (order_id, type, payload)
		VALUES ($1, $2, $3)`,
		ev.OrderID, ev.Type, payload,
	)
	return err
}

// EventTypes returns the recorded event types for an order, oldest first.
func (s *PostgresStore) EventTypes(ctx context.Context, orderID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type
		FROM order_events
		WHERE order_id = $1
		ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			return nil, err
		}
		out = append(out, typ)
	}
	return out, rows.Err()
}

func marshalNullable(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

var _ orders.Store = (*PostgresStore)(nil)
