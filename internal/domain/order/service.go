package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// List paging limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

const instrumentationName = "github.com/xenking/orderflow/internal/domain/order"

// Options configures optional Service dependencies. Zero values fall back
// to no-op implementations.
type Options struct {
	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	// Now overrides the clock in tests.
	Now func() time.Time
}

type serviceMetrics struct {
	operations    metric.Int64Counter
	compensations metric.Int64Counter
}

// Service orchestrates order placement and lifecycle changes across the
// order store, the users service and the inventory service.
type Service struct {
	store     Store
	users     Users
	inventory Inventory
	notifier  Notifier
	locker    Locker

	lg      *zap.Logger
	tracer  trace.Tracer
	metrics serviceMetrics
	now     func() time.Time
}

// NewService creates an order Service with the required collaborators.
func NewService(
	store Store,
	users Users,
	inventory Inventory,
	notifier Notifier,
	locker Locker,
	opts Options,
) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var (
		m   serviceMetrics
		err error
	)
	if m.operations, err = meter.Int64Counter("orders.operations",
		metric.WithDescription("Orchestrator operations by name and outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "operations counter")
	}
	if m.compensations, err = meter.Int64Counter("orders.compensations",
		metric.WithDescription("Inventory compensation attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "compensations counter")
	}

	return &Service{
		store:     store,
		users:     users,
		inventory: inventory,
		notifier:  notifier,
		locker:    locker,
		lg:        opts.Logger,
		tracer:    opts.TracerProvider.Tracer(instrumentationName),
		metrics:   m,
		now:       opts.Now,
	}, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

func (s *Service) start(ctx context.Context, op, orderID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "order."+op, trace.WithAttributes(attribute.String("order.id", orderID)))
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	span.End()
}

// Create validates the request, confirms the owner, reserves stock and
// persists a pending order together with its created event.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "Create", req.ID)
	defer func() { s.finish(ctx, span, "create", rerr) }()

	if err := ValidateCreate(req); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch _, err := s.store.Get(ctx, req.ID); {
	case err == nil:
		return nil, &DuplicateOrderError{OrderID: req.ID}
	case !errors.Is(err, ErrNotFound):
		return nil, errors.Wrap(err, "lookup order")
	}

	if err := s.checkUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	items := cloneItems(req.Items)
	applied, err := s.applyStock(ctx, req.ID, deductions(items))
	if err != nil {
		return nil, err
	}

	total := Total(items)
	if req.Total != nil {
		if err := CheckTotal(*req.Total, total); err != nil {
			s.lg.Warn("Order total mismatch",
				zap.String("order_id", req.ID),
				zap.String("claimed", req.Total.StringFixed(2)),
				zap.String("computed", total.StringFixed(2)),
			)
		}
	}

	now := s.now().UTC()
	o := &Order{
		ID:        req.ID,
		UserID:    req.UserID,
		Total:     total,
		Status:    StatusPending,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	ev := &Event{
		OrderID:     o.ID,
		Type:        EventCreated,
		Description: fmt.Sprintf("Order created with status %q", StatusPending),
		NewValue:    string(StatusPending),
		UserID:      req.Actor,
		CreatedAt:   now,
	}
	if err := s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Insert(ctx, o); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	}); err != nil {
		s.compensate(ctx, o.ID, applied)
		return nil, errors.Wrap(err, "persist order")
	}

	s.lg.Info("Order created",
		zap.String("order_id", o.ID),
		zap.Int64("user_id", o.UserID),
		zap.String("total", o.Total.StringFixed(2)),
	)
	s.notifier.Notify(Notification{Type: NotifyCreated, OrderID: o.ID, Order: o.Clone(), NewStatus: o.Status, At: now})
	return o, nil
}

func (s *Service) checkUser(ctx context.Context, userID int64) error {
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return &UserNotFoundError{UserID: userID}
	}
	return nil
}

// Update replaces the items of a pending or processing order and adjusts
// inventory by the net per-SKU difference.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "Update", req.ID)
	defer func() { s.finish(ctx, span, "update", rerr) }()

	if err := ValidateUpdate(req); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.store.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusPending && cur.Status != StatusProcessing {
		return nil, &ValidationError{
			Field:   "status",
			Rule:    "mutable",
			Message: fmt.Sprintf("items cannot be changed while order is %s", cur.Status),
		}
	}

	next := cur.Clone()
	next.Items = cloneItems(req.Items)
	next.Total = Total(next.Items)
	next.UpdatedAt = s.now().UTC()
	next.Version = cur.Version + 1

	applied, err := s.applyStock(ctx, cur.ID, itemDelta(cur.Items, next.Items))
	if err != nil {
		return nil, err
	}

	if req.Total != nil {
		if err := CheckTotal(*req.Total, next.Total); err != nil {
			s.lg.Warn("Order total mismatch",
				zap.String("order_id", req.ID),
				zap.String("claimed", req.Total.StringFixed(2)),
				zap.String("computed", next.Total.StringFixed(2)),
			)
		}
	}

	ev := &Event{
		OrderID:     cur.ID,
		Type:        EventUpdated,
		Description: "Order items updated",
		OldValue:    cur.Summary(),
		NewValue:    next.Summary(),
		UserID:      req.Actor,
		CreatedAt:   next.UpdatedAt,
	}
	if err := s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Update(ctx, next, cur.Version); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	}); err != nil {
		s.compensate(ctx, cur.ID, applied)
		return nil, errors.Wrap(err, "persist update")
	}

	s.notifier.Notify(Notification{
		Type:      NotifyUpdated,
		OrderID:   next.ID,
		Order:     next.Clone(),
		OldStatus: cur.Status,
		NewStatus: next.Status,
		At:        next.UpdatedAt,
	})
	return next, nil
}

// ChangeStatus moves an order along the lifecycle. Cancelling restores
// stock, reactivating a cancelled order deducts it again.
func (s *Service) ChangeStatus(ctx context.Context, id string, to Status, actor int64) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "ChangeStatus", id)
	span.SetAttributes(attribute.String("order.status", string(to)))
	defer func() { s.finish(ctx, span, "change_status", rerr) }()

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(cur.Status, to); err != nil {
		return nil, err
	}

	applied, err := s.applyStock(ctx, id, stockEffect(cur.Status, to, cur.Items))
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	next.Status = to
	next.UpdatedAt = s.now().UTC()
	next.Version = cur.Version + 1

	ev := &Event{
		OrderID:     id,
		Type:        EventStatusChanged,
		Description: fmt.Sprintf("Status changed from %q to %q", cur.Status, to),
		OldValue:    string(cur.Status),
		NewValue:    string(to),
		UserID:      actor,
		CreatedAt:   next.UpdatedAt,
	}
	if err := s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Update(ctx, next, cur.Version); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	}); err != nil {
		s.compensate(ctx, id, applied)
		return nil, errors.Wrap(err, "persist status")
	}

	s.lg.Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(to)),
	)
	s.notifier.Notify(Notification{
		Type:      NotifyStatusChanged,
		OrderID:   id,
		Order:     next.Clone(),
		OldStatus: cur.Status,
		NewStatus: to,
		At:        next.UpdatedAt,
	})
	return next, nil
}

// Delete restores stock for a non-cancelled order and removes it. The
// audit trail is kept.
func (s *Service) Delete(ctx context.Context, id string, actor int64) (rerr error) {
	ctx, span := s.start(ctx, "Delete", id)
	defer func() { s.finish(ctx, span, "delete", rerr) }()

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	var applied []StockDelta
	if cur.Status != StatusCancelled {
		if applied, err = s.applyStock(ctx, id, restorations(cur.Items)); err != nil {
			return err
		}
	}

	now := s.now().UTC()
	ev := &Event{
		OrderID:     id,
		Type:        EventDeleted,
		Description: "Order deleted",
		OldValue:    string(cur.Status),
		UserID:      actor,
		CreatedAt:   now,
	}
	if err := s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Delete(ctx, id, cur.Version); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	}); err != nil {
		s.compensate(ctx, id, applied)
		return errors.Wrap(err, "persist delete")
	}

	s.lg.Info("Order deleted", zap.String("order_id", id))
	s.notifier.Notify(Notification{Type: NotifyDeleted, OrderID: id, OldStatus: cur.Status, At: now})
	return nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// List returns orders by creation time. A non-positive limit selects
// DefaultListLimit; limits above MaxListLimit are capped.
func (s *Service) List(ctx context.Context, q ListQuery) ([]Order, error) {
	if q.Offset < 0 {
		q.Offset = 0
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultListLimit
	case q.Limit > MaxListLimit:
		q.Limit = MaxListLimit
	}
	orders, err := s.store.List(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// ListTimeline returns the audit trail of an order oldest first, including
// after the order was deleted.
func (s *Service) ListTimeline(ctx context.Context, id string) ([]Event, error) {
	events, err := s.store.Timeline(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "timeline")
	}
	if len(events) > 0 {
		return events, nil
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return events, nil
}
