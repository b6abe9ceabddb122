package influxdb_test

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flextraff/atcs-core/internal/infrastructure/config"
	"github.com/flextraff/atcs-core/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu      sync.Mutex
	lines   []string
	query   string
	healthy bool

	// csv answers /api/v2/query; flux records the last query body.
	csv  string
	flux string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{healthy: true}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		f.mu.Lock()
		healthy := f.healthy
		f.mu.Unlock()
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/write"):
		var body io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			body = gz
		}
		b, _ := io.ReadAll(body) //nolint:errcheck // test server
		f.mu.Lock()
		f.query = r.URL.RawQuery
		for _, l := range strings.Split(strings.TrimSpace(string(b)), "\n") {
			if l != "" {
				f.lines = append(f.lines, l)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/query"):
		var req struct {
			Query string `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // test server
		f.mu.Lock()
		f.flux = req.Query
		csv := f.csv
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, csv) //nolint:errcheck // test server
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// waitLines polls until n lines arrived or the deadline passes.
func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.lines) >= n {
			out := append([]string(nil), f.lines...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines", n)
	return nil
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "atcs-test-token",
		Org:           "flextraff",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := influxdb.Connect(testConfig(url)); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_HealthCheckAndClose(t *testing.T) {
	fake := newFakeInflux(t)

	client, err := influxdb.Connect(testConfig(fake.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck(cancelled) = nil")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.HealthCheck(t.Context()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
	client.Flush()
	client.WriteLaneCounts(1, []int{1, 2, 3, 4}, time.Now()) // no-op, must not panic
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}

func TestWriteLaneCountsAndGreenTimes(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(fake.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	client.WriteLaneCounts(4, []int{3, 0, 7, 1}, at)
	client.WriteGreenTimes(4, []int{25, 10, 40, 15}, 90, at)
	client.WriteLaneCounts(5, []int{2, 2}, at)
	client.WriteLaneCounts(6, nil, at) // skipped
	client.Flush()

	lines := fake.waitLines(t, 3)
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}

	want := []struct{ prefix, fields string }{
		{"lane_counts,junction_id=4 ", "east=7i,north=3i,south=0i,total=11i,west=1i"},
		{"signal_timing,junction_id=4 ", "cycle_time=90i,east=40i,north=25i,south=10i,west=15i"},
		{"lane_counts,junction_id=5 ", "lane_1=2i,lane_2=2i,total=4i"},
	}
	for i, w := range want {
		if !strings.HasPrefix(lines[i], w.prefix) || !strings.Contains(lines[i], w.fields) {
			t.Errorf("line %d = %q, want %s%s", i, lines[i], w.prefix, w.fields)
		}
	}

	fake.mu.Lock()
	query := fake.query
	fake.mu.Unlock()
	if !strings.Contains(query, "bucket=telemetry") || !strings.Contains(query, "org=flextraff") {
		t.Errorf("write query = %q", query)
	}
}

// laneCountsCSV is a pivoted lane_counts result in annotated CSV.
const laneCountsCSV = `#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,string,string,long,long,long,long,long
#group,false,false,true,true,false,true,true,false,false,false,false,false
#default,_result,,,,,,,,,,,
,result,table,_start,_stop,_time,_measurement,junction_id,east,north,south,total,west
,,0,2026-03-01T08:00:00Z,2026-03-01T10:00:00Z,2026-03-01T09:05:00Z,lane_counts,4,7,3,0,11,1
,,0,2026-03-01T08:00:00Z,2026-03-01T10:00:00Z,2026-03-01T09:00:00Z,lane_counts,4,2,5,1,9,1

`

func TestQueryLaneCounts(t *testing.T) {
	fake := newFakeInflux(t)
	fake.csv = laneCountsCSV
	client, err := influxdb.Connect(testConfig(fake.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	samples, err := client.QueryLaneCounts(t.Context(), 4, start, end, 5000)
	if err != nil {
		t.Fatalf("QueryLaneCounts() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %+v, want 2", samples)
	}
	first := samples[0]
	if !first.Time.Equal(time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)) {
		t.Errorf("first time = %v", first.Time)
	}
	if first.Total != 11 || first.Lanes["north"] != 3 || first.Lanes["east"] != 7 || len(first.Lanes) != 4 {
		t.Errorf("first sample = %+v", first)
	}

	fake.mu.Lock()
	flux := fake.flux
	fake.mu.Unlock()
	for _, want := range []string{
		`from(bucket: "telemetry")`,
		`r._measurement == "lane_counts"`,
		`r.junction_id == "4"`,
		"range(start: 2026-03-01T08:00:00Z, stop: 2026-03-01T10:00:00Z)",
		"limit(n: 1000)",
	} {
		if !strings.Contains(flux, want) {
			t.Errorf("flux query missing %q:\n%s", want, flux)
		}
	}
}

func TestQueryLaneCounts_Validation(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(fake.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	now := time.Now()
	if _, err := client.QueryLaneCounts(t.Context(), 0, now.Add(-time.Hour), now, 10); err == nil {
		t.Error("zero junction id should be rejected")
	}
	if _, err := client.QueryLaneCounts(t.Context(), 1, now, now.Add(-time.Hour), 10); err == nil {
		t.Error("reversed range should be rejected")
	}

	client.Close()
	if _, err := client.QueryLaneCounts(t.Context(), 1, now.Add(-time.Hour), now, 10); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("QueryLaneCounts() after Close error = %v, want ErrNotConnected", err)
	}
}
