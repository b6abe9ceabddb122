package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/flextraff/atcs-core/internal/auth"
	"github.com/flextraff/atcs-core/internal/infrastructure/influxdb"
)

func TestJunctionAccess(t *testing.T) {
	env := newTestEnv(t)
	obs := env.tokenFor(t, env.seedUser(t, "viewer", auth.RoleObserver, 7))
	op := env.tokenFor(t, env.seedUser(t, "op1", auth.RoleOperator, 7))

	tests := []struct {
		name  string
		token string
		path  string
		want  bool
	}{
		{"observer on granted junction", obs, "/api/v1/junctions/7/access", true},
		{"observer elsewhere", obs, "/api/v1/junctions/8/access", false},
		{"observer below operator level", obs, "/api/v1/junctions/7/access?level=OPERATOR", false},
		{"observer at observer level", obs, "/api/v1/junctions/7/access?level=observer", true},
		{"operator at operator level", op, "/api/v1/junctions/7/access?level=OPERATOR", true},
		{"operator below admin level", op, "/api/v1/junctions/7/access?level=ADMIN", false},
		{"admin anywhere", env.adminToken, "/api/v1/junctions/12345/access?level=ADMIN", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, "", tt.token)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
			}
			resp := decodeBody[map[string]any](t, w)
			if resp["allowed"] != tt.want {
				t.Errorf("allowed = %v, want %v", resp["allowed"], tt.want)
			}
		})
	}
}

func TestJunctionAccess_BadInput(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/junctions/7/access?level=SUPERUSER", "", env.adminToken)
	assertError(t, w, http.StatusBadRequest, ErrCodeInvalidRole)

	w = env.do(t, http.MethodGet, "/api/v1/junctions/abc/access", "", env.adminToken)
	assertError(t, w, http.StatusBadRequest, ErrCodeBadRequest)

	w = env.do(t, http.MethodGet, "/api/v1/junctions/7/access", "", "")
	assertError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestFilterJunctions(t *testing.T) {
	env := newTestEnv(t)
	obs := env.tokenFor(t, env.seedUser(t, "viewer", auth.RoleObserver, 2, 9))

	body := `{"junction_ids":[9,1,2,3]}`

	w := env.do(t, http.MethodPost, "/api/v1/junctions/filter", body, obs)
	resp := decodeBody[struct {
		JunctionIDs []int64 `json:"junction_ids"`
		Count       int     `json:"count"`
	}](t, w)
	if len(resp.JunctionIDs) != 2 || resp.JunctionIDs[0] != 9 || resp.JunctionIDs[1] != 2 || resp.Count != 2 {
		t.Errorf("observer filter = %+v, want [9 2] in input order", resp)
	}

	w = env.do(t, http.MethodPost, "/api/v1/junctions/filter", body, env.adminToken)
	resp = decodeBody[struct {
		JunctionIDs []int64 `json:"junction_ids"`
		Count       int     `json:"count"`
	}](t, w)
	if resp.Count != 4 {
		t.Errorf("admin filter = %+v, want all four", resp)
	}

	w = env.do(t, http.MethodPost, "/api/v1/junctions/filter", `{}`, obs)
	if got := w.Body.String(); got != "{\"count\":0,\"junction_ids\":[]}\n" {
		t.Errorf("empty filter body = %q", got)
	}
}

// fakeTelemetry records the last query and returns canned samples.
type fakeTelemetry struct {
	samples    []influxdb.LaneCountSample
	err        error
	junctionID int64
	window     time.Duration
	limit      int
}

func (f *fakeTelemetry) QueryLaneCounts(_ context.Context, junctionID int64, start, end time.Time, limit int) ([]influxdb.LaneCountSample, error) {
	f.junctionID = junctionID
	f.window = end.Sub(start)
	f.limit = limit
	return f.samples, f.err
}

func TestJunctionCounts(t *testing.T) {
	tel := &fakeTelemetry{samples: []influxdb.LaneCountSample{
		{Time: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), Lanes: map[string]int64{"north": 3}, Total: 3},
	}}
	env := newTestEnv(t, func(d *Deps) { d.Telemetry = tel })
	obs := env.tokenFor(t, env.seedUser(t, "viewer", auth.RoleObserver, 7))

	w := env.do(t, http.MethodGet, "/api/v1/junctions/7/counts?since=30m&limit=10", "", obs)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[struct {
		JunctionID int64                      `json:"junction_id"`
		Samples    []influxdb.LaneCountSample `json:"samples"`
		Count      int                        `json:"count"`
	}](t, w)
	if resp.JunctionID != 7 || resp.Count != 1 || resp.Samples[0].Lanes["north"] != 3 {
		t.Errorf("response = %+v", resp)
	}
	if tel.junctionID != 7 || tel.window != 30*time.Minute || tel.limit != 10 {
		t.Errorf("query = junction %d window %v limit %d", tel.junctionID, tel.window, tel.limit)
	}

	w = env.do(t, http.MethodGet, "/api/v1/junctions/8/counts", "", obs)
	assertError(t, w, http.StatusForbidden, ErrCodeForbidden)

	w = env.do(t, http.MethodGet, "/api/v1/junctions/8/counts", "", env.adminToken)
	if w.Code != http.StatusOK || tel.window != time.Hour {
		t.Errorf("admin default window: status %d, window %v", w.Code, tel.window)
	}

	for _, q := range []string{"?since=forever", "?since=-1h", "?since=200h", "?limit=x"} {
		w = env.do(t, http.MethodGet, "/api/v1/junctions/7/counts"+q, "", obs)
		assertError(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	}

	tel.err = errors.New("influx down")
	w = env.do(t, http.MethodGet, "/api/v1/junctions/7/counts", "", obs)
	assertError(t, w, http.StatusServiceUnavailable, ErrCodeUnavailable)
}

func TestJunctionCounts_TelemetryDisabled(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/junctions/7/counts", "", env.adminToken)
	assertError(t, w, http.StatusServiceUnavailable, ErrCodeUnavailable)
}
