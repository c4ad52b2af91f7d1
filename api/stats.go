package api

import (
	"net/http"

	"github.com/xraph/herald/delivery"
)

type statsResponse struct {
	Deliveries map[delivery.State]int64 `json:"deliveries"`
	Total      int64                    `json:"total"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.herald.Stats(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	resp := statsResponse{Deliveries: make(map[delivery.State]int64, len(delivery.States))}
	for _, s := range delivery.States {
		resp.Deliveries[s] = counts[s]
		resp.Total += counts[s]
	}
	writeJSON(w, http.StatusOK, resp)
}
