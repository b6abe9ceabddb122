package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ─── WebSocket Integration Tests ───────────────────────────────────

// fetchTicket requests a ws ticket over real HTTP.
func fetchTicket(t *testing.T, baseURL, token string) string {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, baseURL+"/api/v1/auth/ws-ticket", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get ticket failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Ticket == "" {
		t.Fatalf("decoding ticket response (status %d): %v", resp.StatusCode, err)
	}
	return body.Ticket
}

func logStreamURL(baseURL, ticket string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/ws/logs?ticket=" + ticket
}

func TestLogStream_FullConnection(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ticket := fetchTicket(t, ts.URL, env.adminToken)
	ws, resp, err := websocket.DefaultDialer.Dial(logStreamURL(ts.URL, ticket), nil)
	if err != nil {
		t.Fatalf("websocket connect failed: %v", err)
	}
	defer ws.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("handshake status = %d", resp.StatusCode)
	}

	// Text ping gets a JSON pong.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if string(msg) != `{"type":"pong"}` {
		t.Errorf("pong = %s", msg)
	}

	// Wait for registration, then broadcast.
	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	env.srv.Hub().Broadcast(map[string]any{"type": "log", "message": "car counts received"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	_, msg, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if !strings.Contains(string(msg), "car counts received") {
		t.Errorf("broadcast = %s", msg)
	}
}

func TestLogStream_TicketRequired(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	tests := []struct {
		name   string
		ticket string
	}{
		{"missing", ""},
		{"unknown", "deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(logStreamURL(ts.URL, tt.ticket), nil)
			if err == nil {
				t.Fatal("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("response = %v, want 401", resp)
			}
		})
	}
}

func TestLogStream_TicketIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ticket := fetchTicket(t, ts.URL, env.adminToken)
	ws, _, err := websocket.DefaultDialer.Dial(logStreamURL(ts.URL, ticket), nil)
	if err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	ws.Close()

	_, resp, err := websocket.DefaultDialer.Dial(logStreamURL(ts.URL, ticket), nil)
	if err == nil {
		t.Fatal("reused ticket should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}
