package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
)

type createEventRequest struct {
	TenantID       string          `json:"tenant_id"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`
}

type createEventResponse struct {
	EventID     string   `json:"event_id,omitempty"`
	DeliveryIDs []string `json:"delivery_ids"`
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	evt := &event.Event{
		TenantID:       req.TenantID,
		Type:           req.Type,
		Data:           req.Data,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.OccurredAt != nil {
		evt.OccurredAt = *req.OccurredAt
	}

	ids, err := h.herald.SubmitEvent(r.Context(), evt)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	resp := createEventResponse{DeliveryIDs: make([]string, len(ids))}
	for i, v := range ids {
		resp.DeliveryIDs[i] = v.String()
	}
	if !evt.ID.IsNil() {
		resp.EventID = evt.ID.String()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	evts, err := h.herald.ListEvents(r.Context(), event.ListOpts{
		TenantID: r.URL.Query().Get("tenant_id"),
		Type:     r.URL.Query().Get("type"),
		From:     from,
		To:       to,
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if evts == nil {
		evts = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, evts)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := pathID(r, id.ParseEventID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	evt, err := h.herald.GetEvent(r.Context(), evtID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}
