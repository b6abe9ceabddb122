// Package influxdb records relay telemetry in InfluxDB v2.
//
// Each vehicle-count report becomes a lane_counts point and each published
// timing plan a signal_timing point, both tagged with junction_id. Writes
// are non-blocking and batched per batch_size and flush_interval; batch
// failures are reported through SetOnError. QueryLaneCounts reads a
// junction's reports back with a Flux query.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteLaneCounts(4, []int{3, 0, 7, 1}, time.Now())
package influxdb
