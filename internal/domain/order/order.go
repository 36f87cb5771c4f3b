// Package order implements order placement and lifecycle orchestration
// across the orders store and the users and inventory services.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a customer order with its line items.
type Order struct {
	ID        string
	UserID    int64
	Total     decimal.Decimal
	Status    Status
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
	// Version is incremented on every write and guards against lost updates.
	Version int
}

// Item represents a single line item in an order.
type Item struct {
	SKU      string          `json:"sku"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Summary renders the order contents for audit log values.
func (o *Order) Summary() string {
	return fmt.Sprintf("%d items, total %s", len(o.Items), o.Total.StringFixed(2))
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = cloneItems(o.Items)
	return &c
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// EventType enumerates audit log entry kinds.
type EventType string

const (
	EventCreated       EventType = "created"
	EventStatusChanged EventType = "status_changed"
	EventUpdated       EventType = "updated"
	EventDeleted       EventType = "deleted"
)

// Event is an append-only audit log entry for a state-affecting action.
type Event struct {
	// ID is the sequence number assigned by the store on append.
	ID          int64
	OrderID     string
	Type        EventType
	Description string
	OldValue    string
	NewValue    string
	// UserID is the acting user, zero when unknown.
	UserID    int64
	CreatedAt time.Time
}

// StockDelta is a signed inventory adjustment for one SKU. Negative values
// deduct stock, positive values restore it.
type StockDelta struct {
	SKU   string
	Delta int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	ID     string
	UserID int64
	Items  []Item
	// Total is the caller's idea of the order total. It is only compared
	// against the computed total, never persisted.
	Total *decimal.Decimal
	// Actor is the authenticated user performing the request.
	Actor int64
}

// UpdateRequest holds the input for replacing an order's line items.
type UpdateRequest struct {
	ID    string
	Items []Item
	Total *decimal.Decimal
	Actor int64
}

// Tx is a single unit of work against the order store. Order writes and
// the audit events recording them are committed together.
type Tx interface {
	// Insert persists a new order. Returns *DuplicateOrderError when the ID
	// is taken.
	Insert(ctx context.Context, o *Order) error
	// Update overwrites the order if its stored version equals version.
	// Returns *ConflictError on a version mismatch.
	Update(ctx context.Context, o *Order, version int) error
	// Delete removes the order if its stored version equals version.
	Delete(ctx context.Context, id string, version int) error
	// AppendEvent appends e to the audit log and assigns e.ID.
	AppendEvent(ctx context.Context, e *Event) error
}

// EventLog provides read access to the audit trail.
type EventLog interface {
	// Timeline returns the events of an order ordered by sequence number.
	Timeline(ctx context.Context, orderID string) ([]Event, error)
}

// ListQuery selects a page of orders by creation time.
type ListQuery struct {
	// UserID restricts the page to one owner; zero lists every order.
	UserID int64
	Offset int
	Limit  int
}

// Store owns order records and the audit trail.
type Store interface {
	EventLog

	// Get returns *NotFoundError for unknown IDs.
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, q ListQuery) ([]Order, error)
	// Tx runs fn inside one transaction. Any error returned by fn rolls
	// the transaction back.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Users confirms that order owners exist.
type Users interface {
	// Exists reports whether the user exists. Unreachable collaborators
	// return *DependencyError.
	Exists(ctx context.Context, userID int64) (bool, error)
}

// Inventory applies stock adjustments.
type Inventory interface {
	// Adjust applies delta to the stock of sku. It fails with
	// *InsufficientStockError when the result would be negative.
	Adjust(ctx context.Context, sku string, delta int) error
}

// Locker serializes mutations of a single order.
type Locker interface {
	// Lock blocks or fails with *ConflictError while another mutation of
	// orderID is in progress. The returned func releases the lock.
	Lock(ctx context.Context, orderID string) (unlock func(), err error)
}

// Notification types delivered to external subscribers.
const (
	NotifyCreated       = "order.created"
	NotifyUpdated       = "order.updated"
	NotifyStatusChanged = "order.status_changed"
	NotifyDeleted       = "order.deleted"
)

// Notification describes an order lifecycle change for subscribers.
type Notification struct {
	Type    string
	OrderID string
	// Order is the order state after the change; nil for deletions.
	Order     *Order
	OldStatus Status
	NewStatus Status
	At        time.Time
}

// Notifier queues lifecycle notifications. Notify must not block and must
// not report delivery failures.
type Notifier interface {
	Notify(n Notification)
}
