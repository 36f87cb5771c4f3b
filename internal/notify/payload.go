package notify

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/orderjson"
)

// Message is an encoded notification ready for delivery.
type Message struct {
	ID      string
	Type    string
	OrderID string
	Body    []byte
}

// Encode renders n as the subscriber envelope
// {event_id, event_type, order_id, occurred_at, data}.
func Encode(id string, n order.Notification) Message {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(id)
	e.FieldStart("event_type")
	e.Str(n.Type)
	e.FieldStart("order_id")
	e.Str(n.OrderID)
	e.FieldStart("occurred_at")
	e.Str(n.At.UTC().Format(time.RFC3339Nano))
	e.FieldStart("data")
	encodeData(&e, n)
	e.ObjEnd()

	return Message{ID: id, Type: n.Type, OrderID: n.OrderID, Body: e.Bytes()}
}

func encodeData(e *jx.Encoder, n order.Notification) {
	switch {
	case n.Type == order.NotifyStatusChanged:
		e.ObjStart()
		e.FieldStart("order_id")
		e.Str(n.OrderID)
		e.FieldStart("old_status")
		e.Str(string(n.OldStatus))
		e.FieldStart("new_status")
		e.Str(string(n.NewStatus))
		e.ObjEnd()
	case n.Order != nil:
		orderjson.EncodeOrder(e, n.Order)
	default:
		e.ObjStart()
		e.FieldStart("order_id")
		e.Str(n.OrderID)
		e.ObjEnd()
	}
}
