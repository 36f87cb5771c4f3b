// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/orderflow/internal/clients"
	"github.com/xenking/orderflow/internal/domain/order"
)

// Identity headers set by the gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// RoleAdmin may act on every order.
const RoleAdmin = "admin"

const maxBodySize = 1 << 20

// Handler serves the /orders API.
type Handler struct {
	orders *order.Service
}

// New returns a Handler backed by orders.
func New(orders *order.Service) *Handler {
	return &Handler{orders: orders}
}

// Mount registers the order routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(identify)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Put("/", h.updateOrder)
			r.Delete("/", h.deleteOrder)
			r.Post("/status", h.changeStatus)
			r.Get("/timeline", h.timeline)
		})
	})
}

type principalKey struct{}

// principal is the caller as identified by the gateway. A zero id means the
// request came from another service rather than an end user.
type principal struct {
	id    int64
	admin bool
}

// restricted reports whether the caller may only touch its own orders.
func (p principal) restricted() bool { return p.id != 0 && !p.admin }

// identify stores the calling principal and forwards the caller's
// Authorization header to outbound collaborator calls.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := clients.WithBearer(r.Context(), r.Header.Get("Authorization"))

		var p principal
		if raw := strings.TrimSpace(r.Header.Get(HeaderUserID)); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				writeError(w, r, &order.ValidationError{
					Field:   HeaderUserID,
					Rule:    "positive",
					Message: "must be a positive integer",
				})
				return
			}
			p.id = id
		}
		p.admin = strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), RoleAdmin)
		ctx = context.WithValue(ctx, principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

// actor returns the acting user, zero when the gateway did not send one.
func actor(ctx context.Context) int64 {
	return principalFrom(ctx).id
}

// checkOwner rejects restricted callers acting on someone else's order.
func checkOwner(ctx context.Context, owner int64, orderID string) error {
	p := principalFrom(ctx)
	if p.restricted() && owner != p.id {
		return &order.ForbiddenError{UserID: p.id, OrderID: orderID}
	}
	return nil
}

// authorize loads the order and checks that the caller may act on it.
// Unrestricted callers skip the lookup.
func (h *Handler) authorize(ctx context.Context, id string) error {
	if !principalFrom(ctx).restricted() {
		return nil
	}
	o, err := h.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	return checkOwner(ctx, o.UserID, id)
}
