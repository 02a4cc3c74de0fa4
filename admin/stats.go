package admin

import "net/http"

// handleStats handles GET /admin/stats
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	listeners, err := h.db.ListenerCount(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]interface{}{
		"node_id":         h.nodeID,
		"shards":          len(h.db.Shards()),
		"members":         h.membership.Len(),
		"sessions_active": h.sampler.Sessions().Len(),
		"listeners":       listeners,
	}
	writeJSONResponse(w, response)
}

// handleListTables handles GET /admin/tables
func (h *AdminHandlers) handleListTables(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.db.Catalog().Tables())
}
