package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/order"
)

var statusByKind = map[order.Kind]int{
	order.KindValidation:            http.StatusBadRequest,
	order.KindUserNotFound:          http.StatusUnprocessableEntity,
	order.KindInsufficientStock:     http.StatusConflict,
	order.KindInvalidTransition:     http.StatusConflict,
	order.KindDuplicateOrder:        http.StatusConflict,
	order.KindConflict:              http.StatusConflict,
	order.KindNotFound:              http.StatusNotFound,
	order.KindForbidden:             http.StatusForbidden,
	order.KindDependencyUnavailable: http.StatusServiceUnavailable,
}

// writeError renders err as {code, kind, message, details}. Unclassified
// errors are logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := order.KindOf(err)
	code, ok := statusByKind[kind]
	msg := err.Error()
	if !ok {
		code, kind, msg = http.StatusInternalServerError, order.KindInternal, "internal server error"
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else if kind == order.KindDependencyUnavailable {
		zctx.From(r.Context()).Warn("Dependency unavailable", zap.Error(err))
	}

	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("kind")
		e.Str(string(kind))
		e.FieldStart("message")
		e.Str(msg)
		if kind != order.KindInternal {
			e.FieldStart("details")
			encodeDetails(e, err)
		}
		e.ObjEnd()
	})
}

func encodeDetails(e *jx.Encoder, err error) {
	e.ObjStart()
	defer e.ObjEnd()

	var (
		validation *order.ValidationError
		user       *order.UserNotFoundError
		dep        *order.DependencyError
		stock      *order.InsufficientStockError
		transition *order.InvalidTransitionError
		duplicate  *order.DuplicateOrderError
		conflict   *order.ConflictError
		notFound   *order.NotFoundError
		forbidden  *order.ForbiddenError
	)
	switch {
	case errors.As(err, &validation):
		e.FieldStart("field")
		e.Str(validation.Field)
		e.FieldStart("rule")
		e.Str(validation.Rule)
	case errors.As(err, &user):
		e.FieldStart("user_id")
		e.Int64(user.UserID)
	case errors.As(err, &dep):
		e.FieldStart("dependency")
		e.Str(dep.Dependency)
	case errors.As(err, &stock):
		e.FieldStart("sku")
		e.Str(stock.SKU)
		e.FieldStart("requested")
		e.Int(stock.Requested)
		e.FieldStart("available")
		e.Int(stock.Available)
	case errors.As(err, &transition):
		e.FieldStart("from")
		e.Str(string(transition.From))
		e.FieldStart("to")
		e.Str(string(transition.To))
	case errors.As(err, &duplicate):
		e.FieldStart("order_id")
		e.Str(duplicate.OrderID)
	case errors.As(err, &conflict):
		e.FieldStart("order_id")
		e.Str(conflict.OrderID)
	case errors.As(err, &notFound):
		e.FieldStart("order_id")
		e.Str(notFound.OrderID)
	case errors.As(err, &forbidden):
		e.FieldStart("user_id")
		e.Int64(forbidden.UserID)
		if forbidden.OrderID != "" {
			e.FieldStart("order_id")
			e.Str(forbidden.OrderID)
		}
	}
}
