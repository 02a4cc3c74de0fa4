package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/hotspot/db"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/stream"
)

// writeRequest is the body of PUT /admin/data/{keyspace}/{table}
type writeRequest struct {
	Key  []interface{} `json:"key"`
	Rows []struct {
		Clustering []interface{}          `json:"clustering"`
		Cells      map[string]interface{} `json:"cells"`
	} `json:"rows"`
}

type rowView struct {
	Clustering []interface{}          `json:"clustering,omitempty"`
	Cells      map[string]interface{} `json:"cells"`
}

type partitionView struct {
	Partition string    `json:"partition"`
	Token     int64     `json:"token"`
	Rows      []rowView `json:"rows"`
}

// handleWrite handles PUT /admin/data/{keyspace}/{table}
func (h *AdminHandlers) handleWrite(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var req writeRequest
	if err := dec.Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	rows := make([]stream.Row, len(req.Rows))
	for i, row := range req.Rows {
		cells := make(map[string]interface{}, len(row.Cells))
		for k, v := range row.Cells {
			cells[k] = normalizeJSON(v)
		}
		rows[i] = stream.Row{Clustering: normalizeAll(row.Clustering), Cells: cells}
	}

	err := h.db.Insert(r.Context(), chi.URLParam(r, "keyspace"), chi.URLParam(r, "table"), normalizeAll(req.Key), rows...)
	if err != nil {
		writeErrorResponse(w, statusFor(err, http.StatusBadRequest), err.Error())
		return
	}
	writeJSONResponse(w, map[string]interface{}{"rows": len(rows)})
}

// handleScan handles GET /admin/data/{keyspace}/{table}
func (h *AdminHandlers) handleScan(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	slice := stream.Slice{Limit: limit}
	if cols := r.URL.Query().Get("columns"); cols != "" {
		slice.Columns = strings.Split(cols, ",")
	}

	parts, err := h.db.Query(r.Context(), chi.URLParam(r, "keyspace"), chi.URLParam(r, "table"), stream.FullRange(), slice)
	if err != nil {
		writeErrorResponse(w, statusFor(err, http.StatusInternalServerError), err.Error())
		return
	}

	out := make([]partitionView, len(parts))
	for i, p := range parts {
		rows := make([]rowView, len(p.Rows))
		for j, row := range p.Rows {
			rows[j] = rowView{Clustering: row.Clustering, Cells: row.Cells}
		}
		out[i] = partitionView{
			Partition: h.renderer.Render(p.Key.Key),
			Token:     p.Key.Token,
			Rows:      rows,
		}
	}
	writeJSONResponse(w, out)
}

// statusFor maps storage errors to HTTP status, using fallback for anything unrecognised
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, schema.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrShardStopped):
		return http.StatusServiceUnavailable
	}
	return fallback
}

// normalizeJSON turns json.Number into int64 when integral so keys written over
// HTTP match keys written by native clients.
func normalizeJSON(v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func normalizeAll(vs []interface{}) []interface{} {
	if vs == nil {
		return nil
	}
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = normalizeJSON(v)
	}
	return out
}
