package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/toppartitions"
)

// handleTopPartitions handles GET /admin/toppartitions/{keyspace}/{table}.
// It blocks for the whole sampling duration.
func (h *AdminHandlers) handleTopPartitions(w http.ResponseWriter, r *http.Request) {
	keyspace := chi.URLParam(r, "keyspace")
	table := chi.URLParam(r, "table")

	listSize, err := parseIntParam(r, "list_size")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	capacity, err := parseIntParam(r, "capacity")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.sampler.RunSampling(r.Context(), keyspace, table, r.URL.Query().Get("duration"), listSize, capacity)
	if err != nil {
		if toppartitions.IsValidation(err) {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, report)
}

// handleListSessions handles GET /admin/sessions
func (h *AdminHandlers) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.sampler.Sessions().List())
}

// handleCancelSession handles DELETE /admin/sessions/{sessionID}
func (h *AdminHandlers) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	session, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.sampler.Sessions().Cancel(session); err != nil {
		if errors.Is(err, toppartitions.ErrSessionNotFound) {
			writeErrorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"session":   session,
		"cancelled": true,
	})
}
