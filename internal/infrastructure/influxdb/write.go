package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the relay.
const (
	MeasurementLaneCounts   = "lane_counts"
	MeasurementSignalTiming = "signal_timing"
)

// approachNames labels a four-lane junction in controller order.
var approachNames = [...]string{"north", "south", "east", "west"}

// laneField names the field for lane i of n.
func laneField(i, n int) string {
	if n == len(approachNames) {
		return approachNames[i]
	}
	return "lane_" + strconv.Itoa(i+1)
}

// WriteLaneCounts records one vehicle-count report from a junction
// controller. The write is non-blocking and batched.
//
// Example line: lane_counts,junction_id=4 north=3i,south=0i,east=7i,west=1i,total=11i
func (c *Client) WriteLaneCounts(junctionID int64, counts []int, at time.Time) {
	if len(counts) == 0 {
		return
	}
	fields := make(map[string]any, len(counts)+1)
	total := 0
	for i, n := range counts {
		fields[laneField(i, len(counts))] = n
		total += n
	}
	fields["total"] = total

	c.WritePointWithTime(MeasurementLaneCounts, junctionTags(junctionID), fields, at)
}

// WriteGreenTimes records the timing plan the relay published for a junction.
//
// Example line: signal_timing,junction_id=4 north=25i,south=10i,east=40i,west=15i,cycle_time=90i
func (c *Client) WriteGreenTimes(junctionID int64, greenTimes []int, cycleTime int, at time.Time) {
	if len(greenTimes) == 0 {
		return
	}
	fields := make(map[string]any, len(greenTimes)+1)
	for i, g := range greenTimes {
		fields[laneField(i, len(greenTimes))] = g
	}
	fields["cycle_time"] = cycleTime

	c.WritePointWithTime(MeasurementSignalTiming, junctionTags(junctionID), fields, at)
}

func junctionTags(junctionID int64) map[string]string {
	return map[string]string{"junction_id": strconv.FormatInt(junctionID, 10)}
}

// WritePointWithTime writes a point with full control over tags, fields and
// timestamp. It is a no-op once the client is closed.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
