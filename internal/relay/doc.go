// Package relay forwards junction vehicle counts to the timing calculator
// and publishes the resulting green phases back to the field.
//
// Field controllers publish {"junction_id", "lane_counts"} on
// flextraff/car_counts. For every message the relay:
//
//  1. Validates the payload (exactly four non-negative lane counts)
//  2. POSTs it to the calculate-timing endpoint
//  3. Publishes {"junction_id", "green_times", "cycle_time"} on
//     flextraff/green_times (QoS 1, not retained)
//  4. Writes counts and timings to InfluxDB when telemetry is configured
//
// Every step is logged. When the logger is wrapped with
// logging.Logger.Broadcasting the same lines reach the WebSocket log stream.
//
// A failed message is logged and dropped. The relay never retries: the
// next count message supersedes it.
package relay
