package repository

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/orderflow/internal/domain/order"
)

const (
	timelineSQL = `SELECT id, order_id, event_type, description, old_value, new_value, user_id, created_at
		FROM order_events WHERE order_id = $1 ORDER BY id`

	appendEventSQL = `INSERT INTO order_events
		(order_id, event_type, description, old_value, new_value, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
)

func scanEvent(row pgx.CollectableRow) (order.Event, error) {
	var (
		e         order.Event
		eventType string
		oldValue  *string
		newValue  *string
		userID    *int64
		createdAt time.Time
	)
	err := row.Scan(&e.ID, &e.OrderID, &eventType, &e.Description, &oldValue, &newValue, &userID, &createdAt)
	e.Type = order.EventType(eventType)
	if oldValue != nil {
		e.OldValue = *oldValue
	}
	if newValue != nil {
		e.NewValue = *newValue
	}
	if userID != nil {
		e.UserID = *userID
	}
	e.CreatedAt = createdAt.UTC()
	return e, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
