package api

import (
	"encoding/json"
	"net/http"

	"github.com/flextraff/atcs-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type setPasswordRequest struct {
	Password string `json:"password"`
}

type grantRequest struct {
	Level auth.Role `json:"access_level"`
}

type bulkGrantRequest struct {
	JunctionIDs []int64   `json:"junction_ids"`
	Level       auth.Role `json:"access_level"`
}

type bulkRevokeRequest struct {
	JunctionIDs []int64 `json:"junction_ids"`
}

// ─── User Handlers ─────────────────────────────────────────────────

// handleListUsers pages through user accounts (?limit=&offset=).
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		writeBadRequest(w, "limit and offset must be integers")
		return
	}

	page, err := s.auth.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleCreateUser provisions a new account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.NewUser
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}

	user, err := s.auth.CreateUser(r.Context(), s.actorFromRequest(r), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single account, active or not.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	user, err := s.auth.GetUser(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser applies a partial update to an account.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req auth.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}

	user, err := s.auth.UpdateUser(r.Context(), s.actorFromRequest(r), userID, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleSetPassword replaces a user's password.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.auth.SetPassword(r.Context(), s.actorFromRequest(r), userID, req.Password); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// handleDeactivateUser disables an account and ends its sessions.
func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := s.auth.Deactivate(r.Context(), s.actorFromRequest(r), userID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deactivated"})
}

// ─── Junction Grant Handlers ───────────────────────────────────────

// handleListUserJunctions returns a user's stored junction grants.
func (s *Server) handleListUserJunctions(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	grants, err := s.auth.ListGrants(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if grants == nil {
		grants = []auth.Grant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"grants": grants,
		"count":  len(grants),
	})
}

// handleGrantJunction grants or re-levels one junction for a user.
func (s *Server) handleGrantJunction(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	junctionID, ok := parseIDParam(w, r, "junctionID")
	if !ok {
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}

	if err := s.auth.Grant(r.Context(), s.actorFromRequest(r), userID, junctionID, req.Level); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"junction_id":  junctionID,
		"access_level": req.Level,
	})
}

// handleRevokeJunction removes one junction grant from a user.
func (s *Server) handleRevokeJunction(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	junctionID, ok := parseIDParam(w, r, "junctionID")
	if !ok {
		return
	}

	if err := s.auth.Revoke(r.Context(), s.actorFromRequest(r), userID, junctionID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBulkGrant grants many junctions at one level. Items fail
// independently; the response counts successes and failures.
func (s *Server) handleBulkGrant(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req bulkGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}

	res, err := s.auth.BulkGrant(r.Context(), s.actorFromRequest(r), userID, req.JunctionIDs, req.Level)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleBulkRevoke revokes many junctions. Missing grants count as failures.
func (s *Server) handleBulkRevoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req bulkRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	writeJSON(w, http.StatusOK, s.auth.BulkRevoke(r.Context(), s.actorFromRequest(r), userID, req.JunctionIDs))
}
