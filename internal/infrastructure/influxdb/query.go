package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bounds for QueryLaneCounts.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// LaneCountSample is one stored vehicle-count report.
type LaneCountSample struct {
	Time  time.Time        `json:"time"`
	Lanes map[string]int64 `json:"lanes"`
	Total int64            `json:"total"`
}

// QueryLaneCounts returns the count reports of one junction between start
// and end, newest first. limit is clamped to [1, MaxQueryLimit] and defaults
// to DefaultQueryLimit.
func (c *Client) QueryLaneCounts(ctx context.Context, junctionID int64, start, end time.Time, limit int) ([]LaneCountSample, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if junctionID <= 0 {
		return nil, fmt.Errorf("junction id must be positive")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end must be after start")
	}
	switch {
	case limit <= 0:
		limit = DefaultQueryLimit
	case limit > MaxQueryLimit:
		limit = MaxQueryLimit
	}

	flux := laneCountsQuery(c.cfg.Bucket, junctionID, start, end, limit)
	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	samples := make([]LaneCountSample, 0)
	for result.Next() {
		rec := result.Record()
		sample := LaneCountSample{Time: rec.Time(), Lanes: make(map[string]int64)}
		for key, v := range rec.Values() {
			n, ok := v.(int64)
			if !ok || strings.HasPrefix(key, "_") || key == "table" {
				continue
			}
			if key == "total" {
				sample.Total = n
				continue
			}
			sample.Lanes[key] = n
		}
		samples = append(samples, sample)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return samples, nil
}

// laneCountsQuery builds the Flux query for QueryLaneCounts. Fields are
// pivoted so each row is one report.
func laneCountsQuery(bucket string, junctionID int64, start, end time.Time, limit int) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.junction_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`,
		bucket,
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano),
		MeasurementLaneCounts,
		strconv.FormatInt(junctionID, 10),
		limit,
	)
}
