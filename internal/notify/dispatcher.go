// Package notify delivers order lifecycle notifications to external
// subscribers on a bounded worker pool.
//
// Delivery is best-effort: a full queue drops the notification, a failing
// sink is logged and counted, nothing is retried or persisted.
package notify

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/order"
)

// Sink delivers encoded messages to one destination.
type Sink interface {
	// Kind labels the sink in logs and metrics, e.g. "webhook".
	Kind() string
	Deliver(ctx context.Context, m Message) error
	Close() error
}

// Config sizes the dispatcher.
type Config struct {
	QueueSize int
	Workers   int
}

const (
	DefaultQueueSize = 1024
	DefaultWorkers   = 4
)

var _ order.Notifier = (*Dispatcher)(nil)

// Dispatcher fans notifications out to sinks without blocking callers.
type Dispatcher struct {
	queue chan order.Notification
	sinks []Sink
	lg    *zap.Logger

	// ctx is owned by the dispatcher so that request cancellation never
	// aborts a delivery.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	deliveries metric.Int64Counter
	drops      metric.Int64Counter
}

// New starts a Dispatcher with cfg.Workers goroutines. Stop it with Close.
func New(cfg Config, sinks []Sink, lg *zap.Logger, mp metric.MeterProvider) (*Dispatcher, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}

	meter := mp.Meter("github.com/xenking/orderflow/internal/notify")
	deliveries, err := meter.Int64Counter("orders.notify.deliveries",
		metric.WithDescription("Notification deliveries by sink kind and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "deliveries counter")
	}
	drops, err := meter.Int64Counter("orders.notify.dropped",
		metric.WithDescription("Notifications dropped before delivery"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "drops counter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:      make(chan order.Notification, cfg.QueueSize),
		sinks:      sinks,
		lg:         lg,
		ctx:        ctx,
		cancel:     cancel,
		deliveries: deliveries,
		drops:      drops,
	}
	for range cfg.Workers {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Notify queues n. It never blocks: when the queue is full or the
// dispatcher is closed the notification is dropped.
func (d *Dispatcher) Notify(n order.Notification) {
	if len(d.sinks) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(n, "closed")
		return
	}
	select {
	case d.queue <- n:
	default:
		d.drop(n, "queue_full")
	}
}

func (d *Dispatcher) drop(n order.Notification, reason string) {
	d.drops.Add(d.ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	d.lg.Warn("Notification dropped",
		zap.String("event_type", n.Type),
		zap.String("order_id", n.OrderID),
		zap.String("reason", reason),
	)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		if d.ctx.Err() != nil {
			d.drop(n, "shutdown")
			continue
		}
		d.dispatch(n)
	}
}

func (d *Dispatcher) dispatch(n order.Notification) {
	m := Encode(uuid.NewString(), n)
	for _, s := range d.sinks {
		outcome := "ok"
		if err := s.Deliver(d.ctx, m); err != nil {
			outcome = "failed"
			d.lg.Warn("Notification delivery failed",
				zap.String("sink", s.Kind()),
				zap.String("event_type", m.Type),
				zap.String("order_id", m.OrderID),
				zap.Error(err),
			)
		}
		d.deliveries.Add(d.ctx, 1, metric.WithAttributes(
			attribute.String("sink", s.Kind()),
			attribute.String("outcome", outcome),
		))
	}
}

// Close stops intake and drains queued notifications until ctx expires.
// Deliveries still pending at that point are cancelled. Sinks are closed
// last.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "drain notifications")
		d.cancel()
		<-done
	}
	d.cancel()

	for _, s := range d.sinks {
		if cerr := s.Close(); cerr != nil {
			d.lg.Warn("Close sink", zap.String("sink", s.Kind()), zap.Error(cerr))
		}
	}
	return err
}
