package order

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

func deductions(items []Item) []StockDelta {
	out := make([]StockDelta, 0, len(items))
	for _, it := range items {
		out = append(out, StockDelta{SKU: it.SKU, Delta: -it.Quantity})
	}
	return out
}

func restorations(items []Item) []StockDelta {
	out := make([]StockDelta, 0, len(items))
	for _, it := range items {
		out = append(out, StockDelta{SKU: it.SKU, Delta: it.Quantity})
	}
	return out
}

// itemDelta computes the net per-SKU change between two item sets.
// Deductions come first in new-item order, restorations follow in old-item
// order. SKUs with no net change are omitted.
func itemDelta(old, updated []Item) []StockDelta {
	before := make(map[string]int, len(old))
	for _, it := range old {
		before[it.SKU] += it.Quantity
	}
	after := make(map[string]int, len(updated))
	for _, it := range updated {
		after[it.SKU] += it.Quantity
	}

	var out []StockDelta
	for _, it := range updated {
		if diff := after[it.SKU] - before[it.SKU]; diff > 0 {
			out = append(out, StockDelta{SKU: it.SKU, Delta: -diff})
		}
	}
	for _, it := range old {
		if diff := before[it.SKU] - after[it.SKU]; diff > 0 {
			out = append(out, StockDelta{SKU: it.SKU, Delta: diff})
		}
	}
	return out
}

// applyStock applies deltas one at a time. On the first failure every
// delta applied so far is reversed and the original error is returned.
func (s *Service) applyStock(ctx context.Context, orderID string, deltas []StockDelta) ([]StockDelta, error) {
	applied := make([]StockDelta, 0, len(deltas))
	for _, d := range deltas {
		if err := s.inventory.Adjust(ctx, d.SKU, d.Delta); err != nil {
			s.compensate(ctx, orderID, applied)
			return nil, err
		}
		applied = append(applied, d)
	}
	return applied, nil
}

// compensate reverses applied deltas in reverse order. Failures are logged
// and counted, never returned.
func (s *Service) compensate(ctx context.Context, orderID string, applied []StockDelta) {
	if len(applied) == 0 {
		return
	}
	// The caller may already be gone; reversal must still happen.
	ctx = context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		err := s.inventory.Adjust(ctx, d.SKU, -d.Delta)
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			s.lg.Error("Compensation failed",
				zap.String("order_id", orderID),
				zap.String("sku", d.SKU),
				zap.Int("delta", -d.Delta),
				zap.Error(err),
			)
		}
		s.metrics.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
