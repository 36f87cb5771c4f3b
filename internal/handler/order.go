package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/orderjson"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeCreate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.Actor = actor(ctx)
	if req.UserID == 0 {
		req.UserID = req.Actor
	}
	if err := checkOwner(ctx, req.UserID, req.ID); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Create(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := order.ListQuery{Offset: offset, Limit: limit}
	if p := principalFrom(r.Context()); p.restricted() {
		q.UserID = p.id
	}
	orders, err := h.orders.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			orderjson.EncodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.orders.Get(ctx, chi.URLParam(r, "id"))
	if err == nil {
		err = checkOwner(ctx, o.UserID, o.ID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeUpdate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	req.Actor = actor(ctx)
	if err := h.authorize(ctx, req.ID); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Update(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := decodeStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.authorize(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}

	// Unknown statuses reach the state machine and fail as an invalid
	// transition with the current status attached.
	o, err := h.orders.ChangeStatus(ctx, id, status, actor(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.authorize(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.orders.Delete(ctx, id, actor(ctx)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	// Restricted callers only see timelines of orders they still own.
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.authorize(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	events, err := h.orders.ListTimeline(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, ev := range events {
			orderjson.EncodeEvent(e, ev)
		}
		e.ArrEnd()
	})
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &order.ValidationError{Field: name, Rule: "integer", Message: "must be a non-negative integer"}
	}
	return n, nil
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) { orderjson.EncodeOrder(e, o) })
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
