package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/flextraff/atcs-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// refreshRequest is the request body for POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// logoutRequest is the optional body for POST /auth/logout.
type logoutRequest struct {
	SessionToken string `json:"session_token"`
}

// meResponse is the response body for GET /auth/me.
type meResponse struct {
	User        *auth.User `json:"user"`
	JunctionIDs []int64    `json:"junction_ids"`
}

// handleLogin authenticates a user and returns an access/refresh pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "username and password are required")
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Username, req.Password, s.clientInfo(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.metrics.logins.WithLabelValues(loginFailed).Inc()
		} else {
			s.metrics.logins.WithLabelValues(loginError).Inc()
		}
		s.writeServiceError(w, r, err)
		return
	}

	s.metrics.logins.WithLabelValues(loginSuccess).Inc()
	writeJSON(w, http.StatusOK, pair)
}

// handleRefresh exchanges a refresh token for a new access token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "refresh_token is required")
		return
	}

	token, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// handleLogout ends the session named by the X-Session-Token header or the
// session_token body field. Access tokens issued in it stay valid until
// they expire.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	handle := r.Header.Get("X-Session-Token")
	if handle == "" {
		var req logoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		handle = req.SessionToken
	}
	if handle == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "session token is required")
		return
	}

	if err := s.auth.Logout(r.Context(), identityFromContext(r.Context()), handle, s.clientInfo(r)); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeSessionNotFound, auth.ErrSessionNotFound.Error())
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// handleMe returns the caller's user record and the junction allowlist
// embedded in their access token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	user, err := s.auth.GetUser(r.Context(), id.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: user, JunctionIDs: id.JunctionIDs})
}

// handleMyJunctions returns the caller's embedded junction allowlist.
func (s *Server) handleMyJunctions(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"role":         id.Role,
		"junction_ids": id.JunctionIDs,
		"all_access":   id.Role == auth.RoleAdmin,
	})
}

// handleWSTicket issues a single-use WebSocket ticket so the log stream can
// authenticate without putting the access token in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	ticket, err := s.tickets.issue(id)
	if err != nil {
		s.logger.Error("generating websocket ticket", "error", err)
		writeInternalError(w, "failed to generate ticket")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore holds pending WebSocket tickets. Tickets are single-use and
// expire after ttl.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
	ttl     time.Duration
	now     func() time.Time
}

type ticketEntry struct {
	userID    int64
	username  string
	expiresAt time.Time
}

func newTicketStore(ttl time.Duration) *ticketStore {
	return &ticketStore{
		tickets: make(map[string]ticketEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

func (ts *ticketStore) issue(id *auth.Identity) (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	ticket := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{
		userID:    id.UserID,
		username:  id.Username,
		expiresAt: ts.now().Add(ts.ttl),
	}
	ts.mu.Unlock()
	return ticket, nil
}

// consume validates a ticket and removes it whether or not it has expired.
func (ts *ticketStore) consume(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)
	return entry, ts.now().Before(entry.expiresAt)
}

func (ts *ticketStore) cleanExpired() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

func (ts *ticketStore) len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickets)
}

// housekeepingLoop sweeps expired tickets and idle rate-limit buckets until
// the context is cancelled.
func (s *Server) housekeepingLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.cleanExpired()
			if s.limiter != nil {
				s.limiter.sweep(now)
			}
		}
	}
}
