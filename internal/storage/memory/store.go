// Package memory provides an in-process order.Store for development and
// tests. State is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xenking/orderflow/internal/domain/order"
)

var _ order.Store = (*Store)(nil)

// Store keeps orders and their audit events in memory. Transactions are
// serialized and applied atomically.
type Store struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	events []order.Event
	seq    int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{orders: make(map[string]*order.Order)}
}

func (s *Store) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, &order.NotFoundError{OrderID: id}
	}
	return o.Clone(), nil
}

func (s *Store) List(_ context.Context, q order.ListQuery) ([]order.Order, error) {
	s.mu.RLock()
	all := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if q.UserID != 0 && o.UserID != q.UserID {
			continue
		}
		all = append(all, *o.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if q.Offset >= len(all) {
		return []order.Order{}, nil
	}
	all = all[q.Offset:]
	if q.Limit < len(all) {
		all = all[:q.Limit]
	}
	return all, nil
}

func (s *Store) Timeline(_ context.Context, orderID string) ([]order.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []order.Event{}
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Tx stages every write of fn and applies them only when fn succeeds.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		base:    s.orders,
		changed: make(map[string]*order.Order),
		seq:     s.seq,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, o := range tx.changed {
		if o == nil {
			delete(s.orders, id)
			continue
		}
		s.orders[id] = o
	}
	s.events = append(s.events, tx.events...)
	s.seq = tx.seq
	return nil
}

type memTx struct {
	base map[string]*order.Order
	// changed holds staged writes; a nil value marks a deletion.
	changed map[string]*order.Order
	events  []order.Event
	seq     int64
}

func (t *memTx) lookup(id string) (*order.Order, bool) {
	if o, ok := t.changed[id]; ok {
		return o, o != nil
	}
	o, ok := t.base[id]
	return o, ok
}

func (t *memTx) Insert(_ context.Context, o *order.Order) error {
	if _, ok := t.lookup(o.ID); ok {
		return &order.DuplicateOrderError{OrderID: o.ID}
	}
	t.changed[o.ID] = o.Clone()
	return nil
}

func (t *memTx) Update(_ context.Context, o *order.Order, version int) error {
	cur, ok := t.lookup(o.ID)
	if !ok {
		return &order.NotFoundError{OrderID: o.ID}
	}
	if cur.Version != version {
		return &order.ConflictError{OrderID: o.ID}
	}
	t.changed[o.ID] = o.Clone()
	return nil
}

func (t *memTx) Delete(_ context.Context, id string, version int) error {
	cur, ok := t.lookup(id)
	if !ok {
		return &order.NotFoundError{OrderID: id}
	}
	if cur.Version != version {
		return &order.ConflictError{OrderID: id}
	}
	t.changed[id] = nil
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, e *order.Event) error {
	t.seq++
	e.ID = t.seq
	t.events = append(t.events, *e)
	return nil
}
