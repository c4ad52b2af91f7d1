package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/herald/catalog"
)

func (h *Handler) createEventType(w http.ResponseWriter, r *http.Request) {
	var def catalog.Definition
	if err := decodeJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	et, err := h.herald.RegisterEventType(r.Context(), def)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, et)
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	types, err := h.herald.Catalog().List(r.Context(), catalog.ListOpts{
		Group:             r.URL.Query().Get("group"),
		IncludeDeprecated: r.URL.Query().Get("include_deprecated") == "true",
		Offset:            offset,
		Limit:             limit,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if types == nil {
		types = []*catalog.EventType{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) getEventType(w http.ResponseWriter, r *http.Request) {
	et, err := h.herald.Catalog().Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, et)
}

// deleteEventType deprecates; the type stays readable.
func (h *Handler) deleteEventType(w http.ResponseWriter, r *http.Request) {
	if err := h.herald.DeprecateEventType(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
