// Package orderjson encodes and decodes order documents with jx. Amounts
// are written as fixed two-decimal strings and read from either JSON
// numbers or strings.
package orderjson

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/order"
)

// Money writes d as "12.30".
func Money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// EncodeOrder writes o as a JSON object.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("user_id")
	e.Int64(o.UserID)
	e.FieldStart("total")
	Money(e, o.Total)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("summary")
	e.Str(o.Summary())
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("sku")
		e.Str(it.SKU)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		Money(e, it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("version")
	e.Int(o.Version)
	e.FieldStart("created_at")
	timestamp(e, o.CreatedAt)
	e.FieldStart("updated_at")
	timestamp(e, o.UpdatedAt)
	e.ObjEnd()
}

// EncodeEvent writes an audit event. Empty values and an unknown actor are
// written as null.
func EncodeEvent(e *jx.Encoder, ev order.Event) {
	optStr := func(name, v string) {
		e.FieldStart(name)
		if v == "" {
			e.Null()
			return
		}
		e.Str(v)
	}

	e.ObjStart()
	e.FieldStart("id")
	e.Int64(ev.ID)
	e.FieldStart("order_id")
	e.Str(ev.OrderID)
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("description")
	e.Str(ev.Description)
	optStr("old_value", ev.OldValue)
	optStr("new_value", ev.NewValue)
	e.FieldStart("user_id")
	if ev.UserID == 0 {
		e.Null()
	} else {
		e.Int64(ev.UserID)
	}
	e.FieldStart("created_at")
	timestamp(e, ev.CreatedAt)
	e.ObjEnd()
}

// Decimal reads a JSON number or numeric string.
func Decimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch tt := d.Next(); tt {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("expected number, got %s", tt)
	}
}

// Items reads an array of {sku, quantity, price}. Unknown keys are
// skipped.
func Items(d *jx.Decoder) ([]order.Item, error) {
	items := []order.Item{}
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "sku":
				it.SKU, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "price":
				it.Price, err = Decimal(d)
			default:
				return d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, key)
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "items[%d]", len(items))
		}
		items = append(items, it)
		return nil
	})
	return items, err
}
