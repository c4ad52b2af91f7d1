package api

import (
	"net/http"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts delivery.ListOpts
	var err error

	if opts.Offset, err = queryInt(r, "offset", 0); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if opts.Limit, err = queryInt(r, "limit", 0); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if opts.From, err = queryTime(r, "from"); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if opts.To, err = queryTime(r, "to"); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if v := q.Get("endpoint_id"); v != "" {
		if opts.EndpointID, err = queryID(v, "endpoint_id", id.ParseEndpointID); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	if v := q.Get("event_id"); v != "" {
		if opts.EventID, err = queryID(v, "event_id", id.ParseEventID); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	opts.State = delivery.State(q.Get("state"))

	page, err := h.herald.ListDeliveries(r.Context(), opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	delID, err := pathID(r, id.ParseDeliveryID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	d, err := h.herald.GetDelivery(r.Context(), delID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) replayDelivery(w http.ResponseWriter, r *http.Request) {
	delID, err := pathID(r, id.ParseDeliveryID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	d, err := h.herald.Replay(r.Context(), delID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}
