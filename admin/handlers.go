package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maxpert/hotspot/cluster"
	"github.com/maxpert/hotspot/db"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/toppartitions"
	"github.com/rs/zerolog/log"
)

// AdminHandlers serves the sampling and node inspection endpoints
type AdminHandlers struct {
	nodeID     uint64
	sampler    *toppartitions.Sampler
	membership *cluster.Membership
	db         *db.Database
	renderer   *schema.Renderer
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(nodeID uint64, sampler *toppartitions.Sampler, membership *cluster.Membership, d *db.Database, renderer *schema.Renderer) *AdminHandlers {
	return &AdminHandlers{
		nodeID:     nodeID,
		sampler:    sampler,
		membership: membership,
		db:         d,
		renderer:   renderer,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseIntParam reads an optional non-negative integer query parameter; absent means 0
func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return v, nil
}
