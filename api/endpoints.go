package api

import (
	"net/http"

	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
)

// createEndpointResponse is the only response that carries the secret.
type createEndpointResponse struct {
	Endpoint *endpoint.Endpoint `json:"endpoint"`
	Secret   string             `json:"secret"`
}

type rotateSecretResponse struct {
	Secret string `json:"secret"`
}

func (h *Handler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var in endpoint.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, secret, err := h.herald.RegisterEndpoint(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createEndpointResponse{Endpoint: ep, Secret: secret})
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
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
	opts := endpoint.ListOpts{Offset: offset, Limit: limit}
	switch r.URL.Query().Get("enabled") {
	case "true":
		v := true
		opts.Enabled = &v
	case "false":
		v := false
		opts.Enabled = &v
	}

	eps, err := h.herald.Endpoints().List(r.Context(), r.URL.Query().Get("tenant_id"), opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if eps == nil {
		eps = []*endpoint.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := pathID(r, id.ParseEndpointID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ep, err := h.herald.Endpoints().Get(r.Context(), epID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := pathID(r, id.ParseEndpointID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var p endpoint.Patch
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, err := h.herald.Endpoints().Update(r.Context(), epID, p)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) enableEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := pathID(r, id.ParseEndpointID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := h.herald.EnableEndpoint(r.Context(), epID); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) disableEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := pathID(r, id.ParseEndpointID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := h.herald.DisableEndpoint(r.Context(), epID); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	epID, err := pathID(r, id.ParseEndpointID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	secret, err := h.herald.RotateSecret(r.Context(), epID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rotateSecretResponse{Secret: secret})
}
