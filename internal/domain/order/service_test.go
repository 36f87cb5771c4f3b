package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	events []Event
	seq    int64

	// txErr fails every transaction before fn runs.
	txErr error
	// eventErr fails AppendEvent inside a transaction.
	eventErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]*Order)}
}

func (s *fakeStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, &NotFoundError{OrderID: id}
	}
	return o.Clone(), nil
}

func (s *fakeStore) List(_ context.Context, q ListQuery) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if q.UserID == 0 || o.UserID == q.UserID {
			out = append(out, *o.Clone())
		}
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *fakeStore) Timeline(_ context.Context, orderID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txErr != nil {
		return s.txErr
	}
	tx := &fakeTx{store: s, orders: make(map[string]*Order, len(s.orders)), seq: s.seq}
	for id, o := range s.orders {
		tx.orders[id] = o
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.orders = tx.orders
	s.events = append(s.events, tx.events...)
	s.seq = tx.seq
	return nil
}

func (s *fakeStore) put(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.Clone()
}

func (s *fakeStore) eventsOf(id string) []Event {
	events, _ := s.Timeline(context.Background(), id)
	return events
}

type fakeTx struct {
	store  *fakeStore
	orders map[string]*Order
	events []Event
	seq    int64
}

func (t *fakeTx) Insert(_ context.Context, o *Order) error {
	if _, ok := t.orders[o.ID]; ok {
		return &DuplicateOrderError{OrderID: o.ID}
	}
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *fakeTx) Update(_ context.Context, o *Order, version int) error {
	cur, ok := t.orders[o.ID]
	if !ok {
		return &NotFoundError{OrderID: o.ID}
	}
	if cur.Version != version {
		return &ConflictError{OrderID: o.ID}
	}
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *fakeTx) Delete(_ context.Context, id string, version int) error {
	cur, ok := t.orders[id]
	if !ok {
		return &NotFoundError{OrderID: id}
	}
	if cur.Version != version {
		return &ConflictError{OrderID: id}
	}
	delete(t.orders, id)
	return nil
}

func (t *fakeTx) AppendEvent(_ context.Context, e *Event) error {
	if t.store.eventErr != nil {
		return t.store.eventErr
	}
	t.seq++
	e.ID = t.seq
	t.events = append(t.events, *e)
	return nil
}

type fakeInventory struct {
	mu    sync.Mutex
	stock map[string]int
	calls []StockDelta
	// failOn makes Adjust fail for the SKU regardless of stock.
	failOn map[string]error
}

func newFakeInventory(stock map[string]int) *fakeInventory {
	return &fakeInventory{stock: stock, failOn: make(map[string]error)}
}

func (f *fakeInventory) Adjust(_ context.Context, sku string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, StockDelta{SKU: sku, Delta: delta})
	if err := f.failOn[sku]; err != nil {
		return err
	}
	qty, ok := f.stock[sku]
	if !ok {
		return &InsufficientStockError{SKU: sku, Requested: -delta}
	}
	if qty+delta < 0 {
		return &InsufficientStockError{SKU: sku, Requested: -delta, Available: qty}
	}
	f.stock[sku] = qty + delta
	return nil
}

func (f *fakeInventory) snapshot() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.stock))
	for k, v := range f.stock {
		out[k] = v
	}
	return out
}

func (f *fakeInventory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeUsers struct {
	known map[int64]bool
	err   error
}

func (f *fakeUsers) Exists(_ context.Context, userID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[userID], nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Type
	}
	return out
}

type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *keyedLocker) Lock(_ context.Context, id string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

// --- Helpers ---

type fixture struct {
	svc       *Service
	store     *fakeStore
	inventory *fakeInventory
	users     *fakeUsers
	notifier  *recordingNotifier
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, stock map[string]int) *fixture {
	t.Helper()
	f, err := buildFixture(stock)
	require.NoError(t, err)
	return f
}

func buildFixture(stock map[string]int) (*fixture, error) {
	f := &fixture{
		store:     newFakeStore(),
		inventory: newFakeInventory(stock),
		users:     &fakeUsers{known: map[int64]bool{42: true}},
		notifier:  &recordingNotifier{},
	}
	svc, err := NewService(f.store, f.users, f.inventory, f.notifier, &keyedLocker{}, Options{
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		return nil, err
	}
	f.svc = svc
	return f, nil
}

func item(sku string, qty int, price string) Item {
	return Item{SKU: sku, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func createReq(id string, items ...Item) CreateRequest {
	return CreateRequest{ID: id, UserID: 42, Items: items, Actor: 42}
}

// --- Tests ---

func TestService_CreateScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"SKU-001": 200})

	o, err := f.svc.Create(ctx, createReq("ORD-001", item("SKU-001", 1, "10.00")))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("10.00").Equal(o.Total), "total: got %s", o.Total)
	assert.Equal(t, 199, f.inventory.snapshot()["SKU-001"])

	events := f.store.eventsOf("ORD-001")
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].Type)
	assert.Equal(t, "pending", events[0].NewValue)
	assert.Equal(t, int64(42), events[0].UserID)
	assert.Equal(t, []string{NotifyCreated}, f.notifier.types())

	// Cancel restores stock.
	o, err = f.svc.ChangeStatus(ctx, "ORD-001", StatusCancelled, 42)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, 200, f.inventory.snapshot()["SKU-001"])

	events = f.store.eventsOf("ORD-001")
	require.Len(t, events, 2)
	assert.Equal(t, EventStatusChanged, events[1].Type)
	assert.Equal(t, "pending", events[1].OldValue)
	assert.Equal(t, "cancelled", events[1].NewValue)

	// Reactivation without stock fails and leaves everything untouched.
	f.inventory.stock["SKU-001"] = 0
	_, err = f.svc.ChangeStatus(ctx, "ORD-001", StatusPending, 42)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "SKU-001", stockErr.SKU)
	assert.Equal(t, 1, stockErr.Requested)
	assert.Equal(t, 0, stockErr.Available)

	got, err := f.svc.Get(ctx, "ORD-001")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 0, f.inventory.snapshot()["SKU-001"])
	assert.Len(t, f.store.eventsOf("ORD-001"), 2)
}

func TestService_CreateValidation(t *testing.T) {
	f := newFixture(t, map[string]int{"SKU-001": 10})

	_, err := f.svc.Create(context.Background(), createReq("ORD-1",
		item("SKU-001", 1, "1.00"),
		item("SKU-001", 2, "1.00"),
	))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "items[1].sku", vErr.Field)
	assert.Equal(t, "unique", vErr.Rule)
	assert.Zero(t, f.inventory.callCount())
	assert.Empty(t, f.notifier.types())
}

func TestService_CreateFailures(t *testing.T) {
	depErr := &DependencyError{Dependency: "users", Err: errors.New("connection refused")}

	tests := []struct {
		name    string
		setup   func(f *fixture)
		req     CreateRequest
		wantErr error
	}{
		{
			name:    "unknown user",
			req:     CreateRequest{ID: "ORD-1", UserID: 7, Items: []Item{item("A", 1, "1.00")}},
			wantErr: ErrUserNotFound,
		},
		{
			name:    "users unavailable",
			setup:   func(f *fixture) { f.users.err = depErr },
			req:     createReq("ORD-1", item("A", 1, "1.00")),
			wantErr: ErrDependencyUnavailable,
		},
		{
			name:    "insufficient stock on second item",
			req:     createReq("ORD-1", item("A", 2, "1.00"), item("B", 50, "1.00")),
			wantErr: ErrInsufficientStock,
		},
		{
			name:    "unknown sku",
			req:     createReq("ORD-1", item("A", 1, "1.00"), item("NOPE", 1, "1.00")),
			wantErr: ErrInsufficientStock,
		},
		{
			name: "inventory unavailable mid-way",
			setup: func(f *fixture) {
				f.inventory.failOn["B"] = &DependencyError{Dependency: "inventory", Err: context.DeadlineExceeded}
			},
			req:     createReq("ORD-1", item("A", 1, "1.00"), item("B", 1, "1.00")),
			wantErr: ErrDependencyUnavailable,
		},
		{
			name:    "store failure",
			setup:   func(f *fixture) { f.store.txErr = errors.New("disk full") },
			req:     createReq("ORD-1", item("A", 1, "1.00"), item("B", 1, "1.00")),
			wantErr: nil,
		},
		{
			name:    "event append failure",
			setup:   func(f *fixture) { f.store.eventErr = errors.New("boom") },
			req:     createReq("ORD-1", item("A", 3, "1.00")),
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]int{"A": 10, "B": 10})
			if tt.setup != nil {
				tt.setup(f)
			}
			before := f.inventory.snapshot()

			_, err := f.svc.Create(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}

			assert.Equal(t, before, f.inventory.snapshot(), "inventory must be unchanged")
			assert.Empty(t, f.store.eventsOf("ORD-1"))
			assert.Empty(t, f.notifier.types())
			_, getErr := f.svc.Get(context.Background(), "ORD-1")
			require.ErrorIs(t, getErr, ErrNotFound)
		})
	}
}

func TestService_CreateCompensatesInReverseOrder(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 10, "B": 10, "C": 0})

	_, err := f.svc.Create(context.Background(), createReq("ORD-1",
		item("A", 1, "1.00"),
		item("B", 2, "1.00"),
		item("C", 3, "1.00"),
	))
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, []StockDelta{
		{SKU: "A", Delta: -1},
		{SKU: "B", Delta: -2},
		{SKU: "C", Delta: -3},
		{SKU: "B", Delta: 2},
		{SKU: "A", Delta: 1},
	}, f.inventory.calls)
}

func TestService_CreateCompensationFailureKeepsOriginalError(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 10, "B": 0})
	inv := &flakyInventory{fakeInventory: f.inventory, failRestore: "A"}
	svc, err := NewService(f.store, f.users, inv, f.notifier, &keyedLocker{}, Options{})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), createReq("ORD-1", item("A", 1, "1.00"), item("B", 1, "1.00")))
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "B", stockErr.SKU)
	// The failed reversal leaves the deduction in place.
	assert.Equal(t, 9, f.inventory.snapshot()["A"])
}

type flakyInventory struct {
	*fakeInventory
	failRestore string
}

func (f *flakyInventory) Adjust(ctx context.Context, sku string, delta int) error {
	if sku == f.failRestore && delta > 0 {
		return &DependencyError{Dependency: "inventory", Err: errors.New("timeout")}
	}
	return f.fakeInventory.Adjust(ctx, sku, delta)
}

func TestService_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10})

	_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 1, "1.00")))
	require.NoError(t, err)
	calls := f.inventory.callCount()

	_, err = f.svc.Create(ctx, createReq("ORD-1", item("A", 1, "1.00")))
	var dupErr *DuplicateOrderError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "ORD-1", dupErr.OrderID)
	assert.Equal(t, calls, f.inventory.callCount(), "duplicate must not touch inventory")
	assert.Equal(t, 9, f.inventory.snapshot()["A"])
}

func TestService_CreateIgnoresClaimedTotal(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 10, "B": 10})
	claimed := decimal.RequireFromString("999.99")

	req := createReq("ORD-1", item("A", 3, "2.50"), item("B", 1, "0.99"))
	req.Total = &claimed
	o, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("8.49").Equal(o.Total), "total: got %s", o.Total)
}

func TestService_TransitionTable(t *testing.T) {
	targets := append(append([]Status{}, Statuses...), "archived", "")

	for _, from := range Statuses {
		for _, to := range targets {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				ctx := context.Background()
				f := newFixture(t, map[string]int{"A": 100})
				f.store.put(&Order{
					ID:      "ORD-1",
					UserID:  42,
					Status:  from,
					Items:   []Item{item("A", 5, "1.00")},
					Total:   decimal.RequireFromString("5.00"),
					Version: 1,
				})

				o, err := f.svc.ChangeStatus(ctx, "ORD-1", to, 42)
				stored, getErr := f.svc.Get(ctx, "ORD-1")
				require.NoError(t, getErr)

				if !CanTransition(from, to) {
					var trErr *InvalidTransitionError
					require.ErrorAs(t, err, &trErr)
					assert.Equal(t, from, trErr.From)
					assert.Equal(t, to, trErr.To)
					assert.Equal(t, from, stored.Status)
					assert.Equal(t, 1, stored.Version)
					assert.Empty(t, f.store.eventsOf("ORD-1"))
					assert.Zero(t, f.inventory.callCount())
					return
				}

				require.NoError(t, err)
				assert.Equal(t, to, o.Status)
				assert.Equal(t, to, stored.Status)
				assert.Equal(t, 2, stored.Version)
				require.Len(t, f.store.eventsOf("ORD-1"), 1)

				want := 100
				switch {
				case to == StatusCancelled:
					want = 105
				case from == StatusCancelled:
					want = 95
				}
				assert.Equal(t, want, f.inventory.snapshot()["A"])
			})
		}
	}
}

func TestService_CancelRestoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10, "B": 10})
	_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 1, "1.00"), item("B", 2, "1.00")))
	require.NoError(t, err)

	f.inventory.failOn["B"] = &DependencyError{Dependency: "inventory"}
	_, err = f.svc.ChangeStatus(ctx, "ORD-1", StatusCancelled, 42)
	require.ErrorIs(t, err, ErrDependencyUnavailable)

	o, err := f.svc.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, map[string]int{"A": 9, "B": 8}, f.inventory.snapshot())
	assert.Len(t, f.store.eventsOf("ORD-1"), 1)
}

func TestService_ReactivationRestoresInventory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10, "B": 10})
	_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 4, "1.00"), item("B", 1, "1.00")))
	require.NoError(t, err)
	before := f.inventory.snapshot()

	_, err = f.svc.ChangeStatus(ctx, "ORD-1", StatusCancelled, 42)
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, "ORD-1", StatusPending, 42)
	require.NoError(t, err)

	assert.Equal(t, before, f.inventory.snapshot())
}

func TestService_StatusPersistFailureCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10})
	_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 1, "1.00")))
	require.NoError(t, err)

	f.store.eventErr = errors.New("log unavailable")
	_, err = f.svc.ChangeStatus(ctx, "ORD-1", StatusCancelled, 42)
	require.Error(t, err)

	assert.Equal(t, 9, f.inventory.snapshot()["A"])
	o, err := f.svc.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10, "B": 10, "C": 10})
	_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 2, "1.00"), item("B", 2, "3.00")))
	require.NoError(t, err)

	o, err := f.svc.Update(ctx, UpdateRequest{
		ID:    "ORD-1",
		Items: []Item{item("A", 5, "1.00"), item("C", 1, "10.00")},
		Actor: 42,
	})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("15.00").Equal(o.Total), "total: got %s", o.Total)
	assert.Equal(t, map[string]int{"A": 5, "B": 10, "C": 9}, f.inventory.snapshot())

	events := f.store.eventsOf("ORD-1")
	require.Len(t, events, 2)
	assert.Equal(t, EventUpdated, events[1].Type)
	assert.Equal(t, "2 items, total 8.00", events[1].OldValue)
	assert.Equal(t, "2 items, total 15.00", events[1].NewValue)
	assert.Equal(t, []string{NotifyCreated, NotifyUpdated}, f.notifier.types())
}

func TestService_UpdateDeltaOrder(t *testing.T) {
	old := []Item{item("A", 2, "1"), item("B", 2, "1"), item("C", 1, "1")}
	updated := []Item{item("C", 3, "1"), item("A", 1, "1"), item("D", 1, "1")}

	assert.Equal(t, []StockDelta{
		{SKU: "C", Delta: -2},
		{SKU: "D", Delta: -1},
		{SKU: "A", Delta: 1},
		{SKU: "B", Delta: 2},
	}, itemDelta(old, updated))
}

func TestService_UpdateRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10, "B": 1})
	_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 2, "1.00")))
	require.NoError(t, err)

	t.Run("insufficient stock keeps order", func(t *testing.T) {
		_, err := f.svc.Update(ctx, UpdateRequest{ID: "ORD-1", Items: []Item{item("A", 4, "1.00"), item("B", 5, "1.00")}})
		require.ErrorIs(t, err, ErrInsufficientStock)
		assert.Equal(t, map[string]int{"A": 8, "B": 1}, f.inventory.snapshot())

		o, err := f.svc.Get(ctx, "ORD-1")
		require.NoError(t, err)
		assert.Equal(t, 2, o.Items[0].Quantity)
	})

	t.Run("shipped order is immutable", func(t *testing.T) {
		_, err := f.svc.ChangeStatus(ctx, "ORD-1", StatusProcessing, 42)
		require.NoError(t, err)
		_, err = f.svc.ChangeStatus(ctx, "ORD-1", StatusShipped, 42)
		require.NoError(t, err)

		_, err = f.svc.Update(ctx, UpdateRequest{ID: "ORD-1", Items: []Item{item("A", 1, "1.00")}})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "status", vErr.Field)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.svc.Update(ctx, UpdateRequest{ID: "ORD-404", Items: []Item{item("A", 1, "1.00")}})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("restores stock and keeps timeline", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 10})
		_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 3, "1.00")))
		require.NoError(t, err)

		require.NoError(t, f.svc.Delete(ctx, "ORD-1", 42))
		assert.Equal(t, 10, f.inventory.snapshot()["A"])

		_, err = f.svc.Get(ctx, "ORD-1")
		require.ErrorIs(t, err, ErrNotFound)

		events, err := f.svc.ListTimeline(ctx, "ORD-1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, EventCreated, events[0].Type)
		assert.Equal(t, EventDeleted, events[1].Type)
		assert.Equal(t, "pending", events[1].OldValue)
		assert.Equal(t, []string{NotifyCreated, NotifyDeleted}, f.notifier.types())
	})

	t.Run("cancelled order skips restore", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 10})
		_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 3, "1.00")))
		require.NoError(t, err)
		_, err = f.svc.ChangeStatus(ctx, "ORD-1", StatusCancelled, 42)
		require.NoError(t, err)
		calls := f.inventory.callCount()

		require.NoError(t, f.svc.Delete(ctx, "ORD-1", 42))
		assert.Equal(t, calls, f.inventory.callCount())
		assert.Equal(t, 10, f.inventory.snapshot()["A"])
	})

	t.Run("store failure reverses restore", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 10})
		_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 3, "1.00")))
		require.NoError(t, err)

		f.store.txErr = errors.New("connection reset")
		require.Error(t, f.svc.Delete(ctx, "ORD-1", 42))
		assert.Equal(t, 7, f.inventory.snapshot()["A"])

		f.store.txErr = nil
		_, err = f.svc.Get(ctx, "ORD-1")
		require.NoError(t, err)
	})

	t.Run("failed restore aborts delete", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 10, "B": 10})
		created, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 1, "1.00"), item("B", 2, "1.00")))
		require.NoError(t, err)

		f.inventory.failOn["B"] = &DependencyError{Dependency: "inventory"}
		require.ErrorIs(t, f.svc.Delete(ctx, "ORD-1", 42), ErrDependencyUnavailable)

		// A was restored then deducted again.
		assert.Equal(t, map[string]int{"A": 9, "B": 8}, f.inventory.snapshot())
		f.inventory.mu.Lock()
		tail := append([]StockDelta(nil), f.inventory.calls[len(f.inventory.calls)-3:]...)
		f.inventory.mu.Unlock()
		assert.Equal(t, []StockDelta{{SKU: "A", Delta: 1}, {SKU: "B", Delta: 2}, {SKU: "A", Delta: -1}}, tail)

		o, err := f.svc.Get(ctx, "ORD-1")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, o.Status)
		assert.Equal(t, created.Version, o.Version)
		assert.Len(t, f.store.eventsOf("ORD-1"), 1)
		assert.Equal(t, []string{NotifyCreated}, f.notifier.types())
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t, nil)
		require.ErrorIs(t, f.svc.Delete(ctx, "ORD-404", 42), ErrNotFound)
	})
}

func TestService_ListTimeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10})
	_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 1, "1.00")))
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, "ORD-1", StatusProcessing, 42)
	require.NoError(t, err)

	first, err := f.svc.ListTimeline(ctx, "ORD-1")
	require.NoError(t, err)
	second, err := f.svc.ListTimeline(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Less(t, first[0].ID, first[1].ID)

	_, err = f.svc.ListTimeline(ctx, "ORD-404")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListLimits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10000})
	for i := range 5 {
		_, err := f.svc.Create(ctx, createReq(fmt.Sprintf("ORD-%d", i), item("A", 1, "1.00")))
		require.NoError(t, err)
	}

	all, err := f.svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	page, err := f.svc.List(ctx, ListQuery{Offset: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	capped, err := f.svc.List(ctx, ListQuery{Offset: -1, Limit: MaxListLimit + 1})
	require.NoError(t, err)
	assert.Len(t, capped, 5)

	none, err := f.svc.List(ctx, ListQuery{UserID: 7})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_ConcurrentStatusChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 10})
	_, err := f.svc.Create(ctx, createReq("ORD-1", item("A", 1, "1.00")))
	require.NoError(t, err)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ChangeStatus(ctx, "ORD-1", StatusCancelled, 42)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Len(t, f.store.eventsOf("ORD-1"), 1+accepted)
	assert.Equal(t, 10, f.inventory.snapshot()["A"], "stock restored exactly once")
}
