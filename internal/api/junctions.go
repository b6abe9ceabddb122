package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flextraff/atcs-core/internal/auth"
)

// Bounds for the ?since= window of /junctions/{id}/counts.
const (
	defaultCountsWindow = time.Hour
	maxCountsWindow     = 7 * 24 * time.Hour
)

// junctionFilterRequest is the request body for POST /junctions/filter.
type junctionFilterRequest struct {
	JunctionIDs []int64 `json:"junction_ids"`
}

// handleJunctionAccess answers whether the caller may access a junction,
// optionally at a minimum level given as ?level=OPERATOR.
func (s *Server) handleJunctionAccess(w http.ResponseWriter, r *http.Request) {
	junctionID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	level := auth.RoleNone
	if raw := r.URL.Query().Get("level"); raw != "" {
		parsed, err := auth.ParseRole(raw)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		level = parsed
	}

	id := identityFromContext(r.Context())
	resp := map[string]any{
		"junction_id": junctionID,
		"allowed":     auth.CanAccessResource(id, junctionID, level),
	}
	if level != auth.RoleNone {
		resp["level"] = level
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFilterJunctions returns the subset of the given junctions that the
// caller may see, in request order.
func (s *Server) handleFilterJunctions(w http.ResponseWriter, r *http.Request) {
	var req junctionFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.JunctionIDs == nil {
		req.JunctionIDs = []int64{}
	}

	allowed := auth.FilterResources(identityFromContext(r.Context()), req.JunctionIDs)
	writeJSON(w, http.StatusOK, map[string]any{
		"junction_ids": allowed,
		"count":        len(allowed),
	})
}

// handleJunctionCounts returns the recorded vehicle counts of a junction,
// newest first. Any role with the junction in its allowlist may read them.
func (s *Server) handleJunctionCounts(w http.ResponseWriter, r *http.Request) {
	junctionID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := auth.AssertAccess(identityFromContext(r.Context()), junctionID, auth.RoleObserver); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if s.telemetry == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "telemetry is not enabled")
		return
	}

	window := defaultCountsWindow
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxCountsWindow {
			writeBadRequest(w, "since must be a positive duration no longer than 168h")
			return
		}
		window = d
	}
	limit, ok := queryInt(r, "limit")
	if !ok || limit < 0 {
		writeBadRequest(w, "invalid limit")
		return
	}

	end := time.Now().UTC()
	samples, err := s.telemetry.QueryLaneCounts(r.Context(), junctionID, end.Add(-window), end, limit)
	if err != nil {
		s.logger.Error("telemetry query failed", "junction_id", junctionID, "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "telemetry query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"junction_id": junctionID,
		"samples":     samples,
		"count":       len(samples),
	})
}

// parseIDParam reads a positive integer URL parameter, writing a 400 and
// returning false when it is not one.
func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "invalid "+name+": "+raw)
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter. ok is false when the
// parameter is present but not an integer.
func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
