package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/order"
)

const (
	orderColumns = `id, user_id, total, status, items, version, created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1::BIGINT = 0 OR user_id = $1)
		ORDER BY created_at, id OFFSET $2 LIMIT $3`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	updateOrderSQL = `UPDATE orders
		SET user_id = $2, total = $3, status = $4, items = $5, version = $6, updated_at = $7
		WHERE id = $1 AND version = $8`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1 AND version = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

const uniqueViolation = "23505"

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL. Order rows and
// their audit events are written in the same transaction.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Get returns the order with the given ID or *order.NotFoundError.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := s.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{OrderID: id}
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// List returns a page of orders by creation time, optionally of one owner.
func (s *OrderStore) List(ctx context.Context, q order.ListQuery) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersSQL, q.UserID, q.Offset, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// Timeline returns the audit events of an order by sequence number. It
// does not require the order to exist.
func (s *OrderStore) Timeline(ctx context.Context, orderID string) ([]order.Event, error) {
	rows, err := s.pool.Query(ctx, timelineSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing events of %q: %w", orderID, err)
	}

	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("listing events of %q: %w", orderID, err)
	}
	return events, nil
}

// Tx runs fn in a read-committed transaction. The transaction is committed
// when fn returns nil and rolled back otherwise.
func (s *OrderStore) Tx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) Insert(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.Total, string(o.Status), itemsJSON, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &order.DuplicateOrderError{OrderID: o.ID}
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) Update(ctx context.Context, o *order.Order, version int) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	tag, err := t.tx.Exec(ctx, updateOrderSQL,
		o.ID, o.UserID, o.Total, string(o.Status), itemsJSON, o.Version, o.UpdatedAt, version,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return t.missing(ctx, o.ID)
	}
	return nil
}

func (t *orderTx) Delete(ctx context.Context, id string, version int) error {
	tag, err := t.tx.Exec(ctx, deleteOrderSQL, id, version)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return t.missing(ctx, id)
	}
	return nil
}

// missing explains why a versioned write matched no row.
func (t *orderTx) missing(ctx context.Context, id string) error {
	var exists bool
	if err := t.tx.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return &order.NotFoundError{OrderID: id}
	}
	return &order.ConflictError{OrderID: id}
}

func (t *orderTx) AppendEvent(ctx context.Context, e *order.Event) error {
	err := t.tx.QueryRow(ctx, appendEventSQL,
		e.OrderID, string(e.Type), e.Description,
		nullString(e.OldValue), nullString(e.NewValue), nullInt64(e.UserID), e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("appending %s event for %q: %w", e.Type, e.OrderID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		total     decimal.Decimal
		status    string
		itemsJSON []byte
		version   int32
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&o.ID, &o.UserID, &total, &status, &itemsJSON, &version, &createdAt, &updatedAt); err != nil {
		return o, err
	}

	st, err := order.ParseStatus(status)
	if err != nil {
		return o, fmt.Errorf("order %q: %w", o.ID, err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling items of %q: %w", o.ID, err)
	}

	o.Total = total
	o.Status = st
	o.Version = int(version)
	o.CreatedAt = createdAt.UTC()
	o.UpdatedAt = updatedAt.UTC()
	return o, nil
}
